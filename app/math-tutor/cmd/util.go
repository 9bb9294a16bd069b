package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/trace"

	"github.com/cchalm/math-tutor/internal/ai"
	"github.com/cchalm/math-tutor/internal/config"
	"github.com/cchalm/math-tutor/internal/session"
	"github.com/cchalm/math-tutor/internal/telemetry"
	"github.com/cchalm/math-tutor/internal/transport"
)

func setupContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	// Setup graceful shutdown
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		log.Println("Interrupt signal detected, shutting down gracefully...")
		cancel()
		<-interrupt
		log.Fatal("Forcing shutdown")
	}()

	return ctx
}

// newBackendFactory returns a factory for the configured provider. Every backend shares one throttled HTTP client so
// that the outbound limit applies across sessions.
func newBackendFactory(c config.Config) ai.BackendFactory {
	httpClient := transport.NewClient(c.APIRequestsPerSec, 1)

	switch c.Provider {
	case config.ProviderAnthropic:
		return func(ctx context.Context, apiKey string) (ai.Backend, error) {
			return ai.NewAnthropicBackend(createAnthropicClient(apiKey, httpClient), c.MaxOutputTokens), nil
		}
	default:
		return func(ctx context.Context, apiKey string) (ai.Backend, error) {
			return ai.NewGeminiBackend(ctx, apiKey, httpClient)
		}
	}
}

func createAnthropicClient(apiKey string, httpClient *http.Client) anthropic.Client {
	return anthropic.NewClient(
		option.WithHTTPClient(httpClient),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0), // Failures are reported to the student, never retried silently
	)
}

func handleConfig(c config.Config) ai.HandleConfig {
	return ai.HandleConfig{
		Model: c.ModelID(),
		Selection: ai.SelectionOptions{
			Prefer:  c.PreferModels,
			Exclude: c.ExcludeModels,
		},
		SystemInstruction: ai.SystemInstruction(),
	}
}

func newConnector(c config.Config, tracer trace.Tracer) *ai.Connector {
	return ai.NewConnector(newBackendFactory(c), handleConfig(c), tracer)
}

// sessionConnectFunc adapts a connector to the session package
func sessionConnectFunc(connector *ai.Connector) session.ConnectFunc {
	return func(ctx context.Context, apiKey string) (*ai.ModelHandle, session.Exchanger, error) {
		handle, driver, err := connector.Connect(ctx, apiKey)
		if err != nil {
			return nil, nil, err
		}
		return handle, driver, nil
	}
}

func createTelemetryProvider(ctx context.Context) (*telemetry.Provider, error) {
	telemetryConfig := telemetry.TelemetryConfig{
		Enabled:        cfg.TelemetryEnabled,
		Endpoint:       cfg.TelemetryEndpoint,
		ServiceVersion: versionInfo.version,
	}
	return telemetry.NewProvider(ctx, telemetryConfig)
}

func shutdownTelemetry(provider *telemetry.Provider) {
	if err := provider.Shutdown(context.Background()); err != nil {
		log.Printf("Failed to shut down telemetry: %v", err)
	}
}

func providerLabel(provider string) string {
	switch provider {
	case config.ProviderAnthropic:
		return "Anthropic"
	case config.ProviderGemini:
		return "Gemini"
	default:
		return fmt.Sprintf("%q", provider)
	}
}
