// Package config provides configuration management for the math tutor.
//
// Values are layered: built-in defaults, then the server-side secrets file (TOML), then environment variables.
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Supported chat providers
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// defaultModels is the model used for each provider when none is configured
var defaultModels = map[string]string{
	ProviderGemini:    "gemini-1.5-pro",
	ProviderAnthropic: "claude-sonnet-4-0",
}

// DefaultSecretsPath is where the server-side secrets file is looked for when no path is given
const DefaultSecretsPath = ".streamlit/secrets.toml"

// Config holds the configuration for the tutor
type Config struct {
	// Credentials
	GeminiAPIKey    string
	AnthropicAPIKey string

	// Model configuration
	Provider        string
	Model           string // A fixed identifier, "auto", or empty for the provider's default
	PreferModels    []string
	ExcludeModels   []string
	MaxOutputTokens int64

	// Web server
	Addr              string
	SessionTTL        time.Duration
	RequestsPerMinute float64 // Per-session limit on chat events
	APIRequestsPerSec float64 // Outbound limit towards the model API, 0 disables

	// Practice sheet export
	FontPath   string
	RawHTML    bool
	MathJaxURL string

	// Telemetry config
	TelemetryEnabled  bool
	TelemetryEndpoint string
}

// fileConfig mirrors the secrets file. API keys live at the top level, as in a Streamlit secrets file; everything else
// is under [tutor].
type fileConfig struct {
	GeminiAPIKey    string      `toml:"GEMINI_API_KEY"`
	AnthropicAPIKey string      `toml:"ANTHROPIC_API_KEY"`
	Tutor           tutorConfig `toml:"tutor"`
}

type tutorConfig struct {
	Provider          string   `toml:"provider"`
	Model             string   `toml:"model"`
	PreferModels      []string `toml:"prefer_models"`
	ExcludeModels     []string `toml:"exclude_models"`
	MaxOutputTokens   int64    `toml:"max_output_tokens"`
	Addr              string   `toml:"addr"`
	SessionTTL        string   `toml:"session_ttl"`
	RequestsPerMinute float64  `toml:"requests_per_minute"`
	APIRequestsPerSec float64  `toml:"api_requests_per_second"`
	FontPath          string   `toml:"font_path"`
	RawHTML           *bool    `toml:"raw_html"`
	MathJaxURL        string   `toml:"mathjax_url"`
	Telemetry         bool     `toml:"telemetry"`
	TelemetryEndpoint string   `toml:"telemetry_endpoint"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Provider:          ProviderGemini,
		PreferModels:      []string{"flash", "pro"},
		ExcludeModels:     []string{"exp"},
		MaxOutputTokens:   4096,
		Addr:              ":8501",
		SessionTTL:        2 * time.Hour,
		RequestsPerMinute: 20,
		APIRequestsPerSec: 2,
		FontPath:          "ipaexg.ttf",
		MathJaxURL:        "https://cdn.jsdelivr.net/npm/mathjax@3/es5/tex-mml-chtml.js",
	}
}

// Load builds the configuration from defaults, the secrets file at path and the environment. A missing file is not an
// error; the environment alone may be enough.
func Load(path string) (Config, error) {
	config := Default()

	if path == "" {
		path = DefaultSecretsPath
	}
	err := config.applyFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("No secrets file at %s, using environment variables", path)
	} else if err != nil {
		return Config{}, err
	}

	if err := config.applyEnv(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	_, err := toml.DecodeFile(path, &fc)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("failed to parse secrets file '%s': %w", path, err)
	}

	setString(&c.GeminiAPIKey, fc.GeminiAPIKey)
	setString(&c.AnthropicAPIKey, fc.AnthropicAPIKey)

	t := fc.Tutor
	setString(&c.Provider, t.Provider)
	setString(&c.Model, t.Model)
	if len(t.PreferModels) > 0 {
		c.PreferModels = t.PreferModels
	}
	if len(t.ExcludeModels) > 0 {
		c.ExcludeModels = t.ExcludeModels
	}
	if t.MaxOutputTokens > 0 {
		c.MaxOutputTokens = t.MaxOutputTokens
	}
	setString(&c.Addr, t.Addr)
	if t.SessionTTL != "" {
		d, err := time.ParseDuration(t.SessionTTL)
		if err != nil {
			return fmt.Errorf("failed to parse session_ttl '%s': %w", t.SessionTTL, err)
		}
		c.SessionTTL = d
	}
	if t.RequestsPerMinute > 0 {
		c.RequestsPerMinute = t.RequestsPerMinute
	}
	if t.APIRequestsPerSec > 0 {
		c.APIRequestsPerSec = t.APIRequestsPerSec
	}
	setString(&c.FontPath, t.FontPath)
	if t.RawHTML != nil {
		c.RawHTML = *t.RawHTML
	}
	setString(&c.MathJaxURL, t.MathJaxURL)
	c.TelemetryEnabled = c.TelemetryEnabled || t.Telemetry
	setString(&c.TelemetryEndpoint, t.TelemetryEndpoint)
	return nil
}

func (c *Config) applyEnv() error {
	loadOptionalFromEnv(&c.GeminiAPIKey, "GEMINI_API_KEY")
	loadOptionalFromEnv(&c.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	loadOptionalFromEnv(&c.Provider, "TUTOR_PROVIDER")
	loadOptionalFromEnv(&c.Model, "TUTOR_MODEL")
	loadOptionalFromEnv(&c.Addr, "TUTOR_ADDR")
	loadOptionalFromEnv(&c.FontPath, "TUTOR_FONT_PATH")
	loadOptionalFromEnv(&c.TelemetryEndpoint, "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")

	if err := parseOptionalFromEnv(&c.SessionTTL, "TUTOR_SESSION_TTL", time.ParseDuration); err != nil {
		return err
	}
	if err := parseOptionalFromEnv(&c.RawHTML, "TUTOR_RAW_HTML", strconv.ParseBool); err != nil {
		return err
	}
	if err := parseOptionalFromEnv(&c.TelemetryEnabled, "TUTOR_TELEMETRY", strconv.ParseBool); err != nil {
		return err
	}
	parseFloat := func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }
	if err := parseOptionalFromEnv(&c.RequestsPerMinute, "TUTOR_REQUESTS_PER_MINUTE", parseFloat); err != nil {
		return err
	}
	if err := parseOptionalFromEnv(&c.APIRequestsPerSec, "TUTOR_API_REQUESTS_PER_SECOND", parseFloat); err != nil {
		return err
	}
	return nil
}

// APIKey returns the server-side key for the configured provider with incidental whitespace removed, or "" if none
func (c Config) APIKey() string {
	switch c.Provider {
	case ProviderAnthropic:
		return strings.TrimSpace(c.AnthropicAPIKey)
	default:
		return strings.TrimSpace(c.GeminiAPIKey)
	}
}

// ModelID returns the configured model, falling back to the provider's default
func (c Config) ModelID() string {
	if model := strings.TrimSpace(c.Model); model != "" {
		return model
	}
	return defaultModels[c.Provider]
}

// Validate checks that the configuration is usable. A missing API key is allowed: the page asks for one.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderAnthropic:
	default:
		return fmt.Errorf("unsupported provider '%s', expected '%s' or '%s'", c.Provider, ProviderGemini, ProviderAnthropic)
	}
	model := c.ModelID()
	if c.Provider == ProviderAnthropic && strings.HasPrefix(model, "gemini") {
		return fmt.Errorf("model '%s' is not served by provider '%s'", model, c.Provider)
	}
	if c.Provider == ProviderGemini && strings.HasPrefix(model, "claude") {
		return fmt.Errorf("model '%s' is not served by provider '%s'", model, c.Provider)
	}
	if c.MaxOutputTokens <= 0 {
		return fmt.Errorf("max output tokens must be positive, got %d", c.MaxOutputTokens)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive, got %s", c.SessionTTL)
	}
	return nil
}

func setString(dest *string, v string) {
	if v != "" {
		*dest = v
	}
}

func loadOptionalFromEnv(dest *string, key string) {
	_ = parseOptionalFromEnv(dest, key, func(v string) (string, error) { return v, nil })
}

func parseOptionalFromEnv[T any](dest *T, key string, parseFn func(string) (T, error)) error {
	str := os.Getenv(key)
	if str == "" {
		return nil // Leave default value
	}
	v, err := parseFn(str)
	if err != nil {
		return fmt.Errorf("failed to parse environment variable '%s' value '%s' as '%T': %w", key, str, *dest, err)
	}
	*dest = v
	return nil
}
