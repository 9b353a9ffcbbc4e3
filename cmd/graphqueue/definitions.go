package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"graphqueue/internal/config"
	"graphqueue/internal/workflows"
)

var definitionsCmd = &cobra.Command{
	Use:   "definitions",
	Short: "Inspect workflow definitions",
}

var definitionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded workflow definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		defs, err := workflows.NewLoader(cfg.WorkflowDefsDir).LoadAll()
		if err != nil {
			return fmt.Errorf("loading definitions from %s: %w", cfg.WorkflowDefsDir, err)
		}
		for _, def := range defs {
			desc := def.Description
			if desc == "" {
				desc = "(no description)"
			}
			fmt.Printf("%-30s %s\n", def.Name, desc)
		}
		return nil
	},
}

var definitionsValidateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate workflow definitions without starting the server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		} else {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			dir = cfg.WorkflowDefsDir
		}
		defs, err := workflows.NewLoader(dir).LoadAll()
		if err != nil {
			return fmt.Errorf("validating definitions in %s: %w", dir, err)
		}
		fmt.Printf("%d definitions valid\n", len(defs))
		return nil
	},
}
