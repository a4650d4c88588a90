package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/kgtutor/internal/client"
)

var (
	askDB      string
	queryMode  string
	queryDB    string
	queryTopK  int
	queryShows bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the tutor a question",
	Long: `Ask the tutor a question. Evidence is gathered from the knowledge graph
and the answer lists the competency paths it relates to.

Examples:
  kgtutor ask "什么是栈"
  kgtutor ask "二叉树怎么遍历" --db course-1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		answer, err := apiClient.Ask(cmd.Context(), strings.Join(args, " "), askDB)
		if err != nil {
			return fmt.Errorf("ask: %w", err)
		}
		fmt.Println(answer.Answer)
		if len(answer.Paths) > 0 {
			fmt.Println()
			for _, p := range answer.Paths {
				fmt.Printf("能力路径: %s\n", p)
			}
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Query a knowledge base index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := apiClient.Query(cmd.Context(), strings.Join(args, " "), client.QueryOptions{
			Mode:   queryMode,
			DBName: queryDB,
			TopK:   queryTopK,
		})
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		fmt.Println(result.Answer)
		if !queryShows {
			return nil
		}

		fmt.Printf("\nChunks (%d):\n", len(result.Chunks))
		for _, c := range result.Chunks {
			fmt.Printf("  [%.3f] %s: %s\n", c.Score, c.Source, truncate(c.Content, 80))
		}
		if len(result.Entities) > 0 {
			fmt.Printf("\nEntities (%d):\n", len(result.Entities))
			for _, e := range result.Entities {
				fmt.Printf("  %s (%s)\n", e.Name, e.Type)
			}
		}
		if len(result.Relations) > 0 {
			fmt.Printf("\nRelations (%d):\n", len(result.Relations))
			for _, r := range result.Relations {
				fmt.Printf("  %s -[%s]-> %s\n", r.Source, r.Type, r.Target)
			}
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := apiClient.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		fmt.Printf("Uptime: %.0fs\n", snap.UptimeSeconds)
		for outcome, n := range snap.Tasks {
			fmt.Printf("  tasks %-10s %d\n", outcome, n)
		}
		for op, s := range snap.Operations {
			fmt.Printf("  %-14s count=%d errors=%d avg=%.1fms\n", op, s.Count, s.Errors, s.AvgTimeMs)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askDB, "db", "", "knowledge base for evidence lookup")

	queryCmd.Flags().StringVarP(&queryMode, "mode", "m", "global", "query mode: naive, local or global")
	queryCmd.Flags().StringVar(&queryDB, "db", "", "knowledge base name (default neo4j)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 10, "number of chunks to retrieve")
	queryCmd.Flags().BoolVar(&queryShows, "show-context", false, "print retrieved chunks, entities and relations")
}

// truncate shortens s to n runes on one line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
