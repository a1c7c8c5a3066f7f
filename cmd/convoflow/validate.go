package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convoflow/convoflow/internal/flow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <flow.yaml>",
	Short: "Check a flow definition for consistency",
	Long:  `Parses a YAML flow definition and reports missing states, unknown intent or tool references, ambiguous actions and unreachable states.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(args[0]); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, err := flow.FromYAML(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	result := flow.Validate(cfg)
	for _, warning := range result.Warnings {
		fmt.Printf("warning: %s\n", warning)
	}
	if !result.Valid() {
		for _, problem := range result.Errors {
			fmt.Printf("error: %s\n", problem)
		}
		return fmt.Errorf("%d error(s)", len(result.Errors))
	}

	fmt.Println("Flow is valid! ✅")
	return nil
}
