package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "graphqueue",
	Short: "graphqueue runs the persistent job queue and worker for graph-runner prompts",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(definitionsCmd)
	definitionsCmd.AddCommand(definitionsListCmd)
	definitionsCmd.AddCommand(definitionsValidateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
