// Package main provides the entry point for the kgtutor CLI.
package main

import (
	"os"

	"github.com/raphaelgruber/kgtutor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
