package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/kgtutor/internal/models"
)

var (
	uploadDB   string
	uploadWait bool
	uploadText string
)

var uploadCmd = &cobra.Command{
	Use:   "upload [patterns...]",
	Short: "Upload documents for indexing",
	Long: `Upload documents (pdf, docx, md, txt) into a knowledge base. Patterns
support ** globs. Each file becomes one indexing task.

Examples:
  kgtutor upload notes/*.pdf --db course-1
  kgtutor upload 'docs/**/*.md' --wait
  kgtutor upload --text "栈是一种后进先出的数据结构"`,
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadDB, "db", "", "knowledge base name (default neo4j)")
	uploadCmd.Flags().BoolVarP(&uploadWait, "wait", "w", false, "wait for indexing to finish")
	uploadCmd.Flags().StringVar(&uploadText, "text", "", "index this text instead of files")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if uploadText != "" {
		id, err := apiClient.UploadText(ctx, uploadText, uploadDB)
		if err != nil {
			return fmt.Errorf("upload text: %w", err)
		}
		fmt.Printf("Queued task %s\n", id)
		return waitFor(ctx, []string{id})
	}

	if len(args) == 0 {
		return errors.New("at least one file pattern or --text is required")
	}
	files, err := expandPatterns(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files match %v", args)
	}

	var bar *progressbar.ProgressBar
	if len(files) > 1 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]Uploading[reset]"),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
	}

	var ids []string
	var failures []string
	for _, file := range files {
		id, err := apiClient.UploadFile(ctx, file, uploadDB)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", file, err))
		} else {
			ids = append(ids, id)
			if bar == nil {
				fmt.Printf("Queued task %s for %s\n", id, file)
			}
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if bar != nil {
		fmt.Printf("Queued %d of %d files\n", len(ids), len(files))
	}
	for _, f := range failures {
		fmt.Fprintf(os.Stderr, "  ✗ %s\n", f)
	}

	if err := waitFor(ctx, ids); err != nil {
		return err
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d uploads failed", len(failures))
	}
	return nil
}

// expandPatterns resolves glob patterns into a sorted, de-duplicated file list.
// Patterns without glob characters are taken literally.
func expandPatterns(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// waitFor follows tasks when --wait is set: one task in a terminal gets the
// interactive progress view, anything else streams plain status lines.
func waitFor(ctx context.Context, ids []string) error {
	if !uploadWait || len(ids) == 0 {
		return nil
	}
	if len(ids) == 1 && term.IsTerminal(int(os.Stdout.Fd())) {
		return RunTaskProgress(apiClient, ids[0])
	}

	var failed int
	for _, id := range ids {
		last, err := apiClient.WatchTask(ctx, id, func(s models.TaskSnapshot) error {
			fmt.Printf("%s  %-10s %3d%%  %s\n", s.ID, s.Status, s.Progress, s.Message)
			return nil
		})
		if err != nil {
			return fmt.Errorf("watch task %s: %w", id, err)
		}
		if last.Status != models.TaskCompleted {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks did not complete", failed, len(ids))
	}
	return nil
}
