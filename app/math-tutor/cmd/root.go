package cmd

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cchalm/math-tutor/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "math-tutor",
	Short: "High-school math tutor backed by a generative model",
	Long: `Math Tutor is a chat tutor for Japanese high-school mathematics. It guides students
with step-by-step hints instead of final answers, and can turn a solved question into a
printable practice sheet.`,
	PersistentPreRunE: loadRootConfig,
	SilenceUsage:      true,
}

func Execute() error {
	return rootCmd.Execute()
}

func loadRootConfig(cmd *cobra.Command, _ []string) error {
	// Load .env file
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err = config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cmd, &cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", config.DefaultSecretsPath, "Path to the secrets/config TOML file")
	rootCmd.PersistentFlags().StringVar(&flags.provider, "provider", "", "Chat provider: gemini or anthropic")
	rootCmd.PersistentFlags().StringVar(&flags.model, "model", "", "Model identifier, or \"auto\" to select from the remote list")
	rootCmd.PersistentFlags().BoolVar(&flags.telemetry, "telemetry", false, "Export traces over OTLP/HTTP")
}
