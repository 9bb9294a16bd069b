//go:build e2e

package testutil

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/cchalm/math-tutor/internal/ai"
	"github.com/cchalm/math-tutor/internal/config"
	"github.com/cchalm/math-tutor/internal/conversation"
	"github.com/cchalm/math-tutor/internal/transport"
)

// TestConfig holds configuration for end-to-end tests
type TestConfig struct {
	Provider   string
	Model      string
	MaxTokens  int64
	Iterations int
	Timeout    time.Duration
	APIKey     string
}

// LoadTestConfig loads test configuration from environment variables
func LoadTestConfig() TestConfig {
	config := TestConfig{
		Provider:   "gemini",
		Model:      ai.AutoModel,
		MaxTokens:  2000,
		Iterations: 3,
		Timeout:    120 * time.Second,
	}

	if provider := os.Getenv("E2E_PROVIDER"); provider != "" {
		config.Provider = provider
	}

	if model := os.Getenv("E2E_MODEL"); model != "" {
		config.Model = model
	}

	if tokens := os.Getenv("E2E_MAX_TOKENS"); tokens != "" {
		if val, err := strconv.ParseInt(tokens, 10, 64); err == nil {
			config.MaxTokens = val
		}
	}

	if iterations := os.Getenv("E2E_ITERATIONS"); iterations != "" {
		if val, err := strconv.Atoi(iterations); err == nil {
			config.Iterations = val
		}
	}

	if timeout := os.Getenv("E2E_TIMEOUT"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil {
			config.Timeout = time.Duration(val) * time.Second
		}
	}

	if config.Provider == "anthropic" {
		config.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	} else {
		config.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	return config
}

// TestHarness provides utilities for end-to-end testing against a live model
type TestHarness struct {
	t       *testing.T
	config  TestConfig
	backend ai.Backend
	handle  *ai.ModelHandle
	driver  *ai.Driver
}

// NewTestHarness creates a new test harness. The test is skipped when no API key is set.
func NewTestHarness(t *testing.T) *TestHarness {
	cfg := LoadTestConfig()
	if cfg.APIKey == "" {
		t.Skipf("no API key for provider %s, skipping e2e test", cfg.Provider)
	}

	httpClient := transport.NewClient(1, 1)

	var backend ai.Backend
	if cfg.Provider == "anthropic" {
		backend = ai.NewAnthropicBackend(anthropic.NewClient(
			option.WithHTTPClient(httpClient),
			option.WithAPIKey(cfg.APIKey),
		), cfg.MaxTokens)
	} else {
		gemini, err := ai.NewGeminiBackend(context.Background(), cfg.APIKey, httpClient)
		require.NoError(t, err)
		backend = gemini
	}

	defaults := config.Default()
	handle, err := ai.NewModelHandle(context.Background(), backend, ai.HandleConfig{
		Model: cfg.Model,
		Selection: ai.SelectionOptions{
			Prefer:  defaults.PreferModels,
			Exclude: defaults.ExcludeModels,
		},
		SystemInstruction: ai.SystemInstruction(),
	}, nil)
	require.NoError(t, err)
	t.Logf("Using model %s", handle.Name)

	return &TestHarness{
		t:       t,
		config:  cfg,
		backend: backend,
		handle:  handle,
		driver:  ai.NewDriver(backend, nil),
	}
}

// Config returns the test configuration
func (h *TestHarness) Config() TestConfig {
	return h.config
}

// Backend returns the live backend
func (h *TestHarness) Backend() ai.Backend {
	return h.backend
}

// Ask appends text as a user turn and runs one exchange, returning the reply and every streamed prefix
func (h *TestHarness) Ask(ctx context.Context, conv *conversation.Conversation, text string) (conversation.Turn, []string, error) {
	conv.Append(conversation.NewUserTurn(text, nil))
	var prefixes []string
	turn, err := h.driver.Exchange(ctx, h.handle, conv, func(prefix string) {
		prefixes = append(prefixes, prefix)
	})
	return turn, prefixes, err
}

// RunIterations runs a test function multiple times and reports results
func (h *TestHarness) RunIterations(testName string, testFunc func(iteration int) error) {
	h.t.Helper()

	successCount := 0
	var lastError error

	for i := 0; i < h.config.Iterations; i++ {
		h.t.Logf("Running iteration %d/%d of %s", i+1, h.config.Iterations, testName)

		err := testFunc(i)
		if err != nil {
			h.t.Logf("Iteration %d failed: %v", i+1, err)
			lastError = err
		} else {
			successCount++
			h.t.Logf("Iteration %d succeeded", i+1)
		}
	}

	h.t.Logf("Test %s: %d/%d iterations succeeded", testName, successCount, h.config.Iterations)

	// Model output varies, so require a 2/3 success rate rather than every iteration
	minSuccessCount := (h.config.Iterations*2 + 2) / 3
	if successCount < minSuccessCount {
		require.NoErrorf(h.t, lastError, "Test %s failed with %d/%d successes (minimum %d required)",
			testName, successCount, h.config.Iterations, minSuccessCount)
	}
}

// WithTimeout runs a function with the configured timeout
func (h *TestHarness) WithTimeout(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	return fn(ctx)
}
