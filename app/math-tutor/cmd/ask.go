package cmd

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/cchalm/math-tutor/internal/conversation"
	"github.com/cchalm/math-tutor/internal/sheet"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question from the terminal",
	Long: `Sends one question to the configured model and streams the reply to stdout. If the
reply is a practice sheet and --export-dir is given, the sheet is written there in
every supported format.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&flags.imagePath, "image", "", "PNG or JPEG file to attach to the question")
	askCmd.Flags().StringVar(&flags.exportDir, "export-dir", "", "Directory to write a practice sheet to")

	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := setupContext()

	tp, err := createTelemetryProvider(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer shutdownTelemetry(tp)

	image, err := loadImage(flags.imagePath)
	if err != nil {
		return err
	}

	handle, driver, err := newConnector(cfg, tp.Tracer()).Connect(ctx, cfg.APIKey())
	if err != nil {
		return fmt.Errorf("failed to connect to model: %w", err)
	}

	conv := conversation.New()
	conv.Append(conversation.NewUserTurn(args[0], image))

	out := cmd.OutOrStdout()
	written := 0
	turn, err := driver.Exchange(ctx, handle, conv, func(prefix string) {
		// Prefixes only grow, so print the new tail
		_, _ = io.WriteString(out, prefix[written:])
		written = len(prefix)
	})
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("exchange failed: %w", err)
	}

	if flags.exportDir == "" {
		return nil
	}
	sh, err := sheet.Parse(turn.Content.Text)
	if err != nil {
		log.Printf("Reply is not a practice sheet, nothing exported: %v", err)
		return nil
	}
	return exportSheet(sh, flags.exportDir)
}

func exportSheet(sh sheet.Sheet, dir string) error {
	opts := sheet.Options{
		FontPath:   cfg.FontPath,
		RawHTML:    cfg.RawHTML,
		MathJaxURL: cfg.MathJaxURL,
	}
	var exporters []sheet.Exporter
	for _, format := range sheet.Formats {
		e, err := sheet.ExporterFor(format, opts)
		if err != nil {
			return err
		}
		exporters = append(exporters, e)
	}

	if warning := sheet.NewPDFExporter(opts.FontPath).FontWarning(); warning != "" {
		log.Print(warning)
	}

	paths, err := sheet.NewFileSystemStore(dir, exporters...).Save("practice_sheet", sh)
	if err != nil {
		return fmt.Errorf("failed to save practice sheet: %w", err)
	}
	for _, p := range paths {
		log.Printf("Wrote %s", p)
	}
	return nil
}

func loadImage(path string) (*conversation.Image, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image '%s': %w", path, err)
	}
	mimeType := http.DetectContentType(data)
	if !conversation.SupportedImageType(mimeType) {
		return nil, fmt.Errorf("'%s' is not a PNG or JPEG image (detected %s)", path, mimeType)
	}
	return &conversation.Image{MIMEType: mimeType, Data: data}, nil
}
