package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var pathsCmd = &cobra.Command{
	Use:   "paths <question>",
	Short: "Show competency paths leading to concepts in a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := apiClient.CompetencyPaths(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("competency paths: %w", err)
		}
		if len(paths) == 0 {
			fmt.Println("No competency paths found")
			return nil
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}

var masterCmd = &cobra.Command{
	Use:   "master <node-id>",
	Short: "Mark a concept as mastered and show what it unlocked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unlocked, err := apiClient.MarkMastered(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("mark mastered: %w", err)
		}
		fmt.Printf("Marked %s as mastered\n", args[0])
		if len(unlocked) == 0 {
			fmt.Println("Nothing new unlocked")
			return nil
		}
		fmt.Printf("Unlocked %d:\n", len(unlocked))
		for _, id := range unlocked {
			fmt.Printf("  %s\n", id)
		}
		return nil
	},
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Show quiz progress per module",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		modules, err := apiClient.Modules(cmd.Context())
		if err != nil {
			return fmt.Errorf("list modules: %w", err)
		}
		if len(modules) == 0 {
			fmt.Println("No modules found")
			return nil
		}
		for _, m := range modules {
			mark := " "
			if m.Completed() {
				mark = "✓"
			}
			fmt.Printf("%s %-30s %d/%d\n", mark, m.Name, m.Mastered, m.Total)
		}
		return nil
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer <question-id> <true|false>",
	Short: "Record a quiz answer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		correct, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("correctness must be true or false: %w", err)
		}
		if err := apiClient.SubmitAnswer(cmd.Context(), args[0], correct); err != nil {
			return fmt.Errorf("submit answer: %w", err)
		}
		fmt.Println("Answer recorded")
		return nil
	},
}
