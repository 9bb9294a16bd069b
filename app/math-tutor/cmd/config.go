package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cchalm/math-tutor/internal/config"
)

var cfg = config.Default()

// flags holds command-line overrides. They are applied on top of the file and environment.
var flags struct {
	configPath string
	provider   string
	model      string
	telemetry  bool

	// serve
	addr string

	// ask
	imagePath string
	exportDir string
}

func applyFlags(cmd *cobra.Command, c *config.Config) {
	if flags.provider != "" {
		c.Provider = flags.provider
	}
	if flags.model != "" {
		c.Model = flags.model
	}
	if cmd.Flags().Changed("telemetry") {
		c.TelemetryEnabled = flags.telemetry
	}
	if flags.addr != "" {
		c.Addr = flags.addr
	}
}
