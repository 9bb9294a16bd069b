package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cchalm/math-tutor/internal/ai"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List remote models and the one automatic selection would choose",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	ctx := setupContext()

	apiKey := cfg.APIKey()
	if apiKey == "" {
		return ai.ErrNoCredential
	}
	backend, err := newBackendFactory(cfg)(ctx, apiKey)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}
	ids, err := backend.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}

	selected, err := ai.SelectModel(ids, handleConfig(cfg).Selection)
	if err != nil {
		fmt.Fprintf(out, "\nautomatic selection: none (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "\nautomatic selection: %s\n", selected)
	return nil
}
