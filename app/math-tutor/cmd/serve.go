package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cchalm/math-tutor/internal/ai"
	"github.com/cchalm/math-tutor/internal/session"
	"github.com/cchalm/math-tutor/internal/sheet"
	"github.com/cchalm/math-tutor/internal/web"
)

const sessionSweepInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat page",
	Long: `Starts the web server. Each browser gets a private session holding its conversation;
replies are streamed over a websocket as they arrive.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flags.addr, "addr", "", "Listen address (default from config, \":8501\")")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := setupContext()

	log.Printf("Starting math tutor %s", versionInfo.version)
	log.Printf("Provider: %s, model: %s", cfg.Provider, cfg.ModelID())
	if cfg.APIKey() == "" {
		log.Printf("No server-side API key, students will be asked for one")
	}

	tp, err := createTelemetryProvider(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer shutdownTelemetry(tp)

	similar, err := ai.SimilarProblemInstruction()
	if err != nil {
		return err
	}

	sessions := session.NewManager(session.Options{
		Connect:            sessionConnectFunc(newConnector(cfg, tp.Tracer())),
		ServerAPIKey:       cfg.APIKey(),
		SimilarInstruction: similar,
		TTL:                cfg.SessionTTL,
	})
	go func() {
		if err := sessions.Run(ctx, sessionSweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Session sweeper stopped: %v", err)
		}
	}()

	webOpts := web.DefaultOptions()
	webOpts.Export = sheet.Options{
		FontPath:   cfg.FontPath,
		RawHTML:    cfg.RawHTML,
		MathJaxURL: cfg.MathJaxURL,
	}
	webOpts.ProviderLabel = providerLabel(cfg.Provider)
	webOpts.RequestsPerMinute = cfg.RequestsPerMinute

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           web.NewServer(sessions, webOpts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", cfg.Addr)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	log.Printf("Server stopped")
	return nil
}
