// Package cli provides the command-line interface for kgtutor.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/kgtutor/internal/client"
	"github.com/raphaelgruber/kgtutor/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kgtutor",
	Short: "Knowledge-graph tutor client",
	Long: `kgtutor talks to a running kgtutor server: upload course documents into
per-course knowledge bases, follow indexing tasks, look up competency paths,
unlock concepts and ask the tutor questions.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $KGTUTOR_SERVER_URL or http://localhost:8001)")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(pathsCmd)
	rootCmd.AddCommand(masterCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
}
