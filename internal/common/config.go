package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production" - controls test URL validation
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Engine      EngineConfig     `toml:"engine"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	RateLimit   RateLimitConfig  `toml:"rate_limit"`
	Fetcher     FetcherConfig    `toml:"fetcher"`
	Normalizer  NormalizerConfig `toml:"normalizer"`
	Gemini      GeminiConfig     `toml:"gemini"`
	Claude      ClaudeConfig     `toml:"claude"`
	Auth        AuthConfig       `toml:"auth"`
	API         APIConfig        `toml:"api"`
	Logging     LoggingConfig    `toml:"logging"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path (STORE_CONNECTION_STRING)
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// EngineConfig controls the worker pool and engine state subsystem
type EngineConfig struct {
	MaxConcurrentJobs int    `toml:"max_concurrent_jobs"` // Worker pool size (default: 5)
	JobTimeout        string `toml:"job_timeout"`         // Per-job wall clock limit (default: "1h")
	GracefulTimeout   string `toml:"graceful_timeout"`    // Shutdown drain window (default: "30s")
	PollInterval      string `toml:"poll_interval"`       // Dispatch poll cadence (default: "500ms")
	HeartbeatInterval string `toml:"heartbeat_interval"`  // Engine state heartbeat (default: "10s")
	QueueHighWater    int    `toml:"queue_high_water"`    // Admission gate closes at this queue depth (default: 1000)
	QueueLowWater     int    `toml:"queue_low_water"`     // Admission gate reopens below this depth (default: 800)
	StaleJobInterval  string `toml:"stale_job_interval"`  // Watchdog cadence for timed-out RUNNING jobs (default: "1m")
}

// SchedulerConfig controls cron schedule evaluation
type SchedulerConfig struct {
	TickInterval string `toml:"tick_interval"` // Due-schedule scan cadence (SCHEDULER_TICK_MS, default: "1s")
}

// RateLimitConfig controls per-domain request pacing and adaptive backoff
type RateLimitConfig struct {
	DefaultDelaySeconds   float64 `toml:"default_delay_seconds"`   // Base per-domain delay (DEFAULT_RATE_LIMIT_DELAY_S)
	MaxDelaySeconds       float64 `toml:"max_delay_seconds"`       // Adaptive backoff ceiling
	BackoffMultiplier     float64 `toml:"backoff_multiplier"`      // Delay multiplier on 429/5xx (default: 2.0)
	RecoverySeconds       float64 `toml:"recovery_seconds"`        // Minimum time between delay halvings (default: 300)
	RequestsPerMinute     int     `toml:"requests_per_minute"`     // Per-domain token refill rate
	MaxConcurrentRequests int     `toml:"max_concurrent_requests"` // Global in-flight request cap
}

// FetcherConfig controls the HTTP and browser fetcher implementations
type FetcherConfig struct {
	UserAgent      string `toml:"user_agent"`      // Default user agent string
	TimeoutSeconds int    `toml:"timeout_seconds"` // Default HTTP timeout (DEFAULT_REQUEST_TIMEOUT_S)
	MaxBodySize    int    `toml:"max_body_size"`   // Maximum response body size in bytes
	MaxRedirects   int    `toml:"max_redirects"`   // Redirect cap per fetch
	JavaScriptWait string `toml:"javascript_wait"` // Render settle time for the browser fetcher (default: "3s")
}

// NormalizerConfig controls the raw-to-normalized pipeline
type NormalizerConfig struct {
	Mode          string  `toml:"mode"`           // "rule_based" (default), "ml", or "hybrid"
	Provider      string  `toml:"provider"`       // LLM provider for ml/hybrid modes: "gemini" or "claude"
	PollInterval  string  `toml:"poll_interval"`  // Unprocessed-raw scan cadence (default: "5s")
	BatchSize     int     `toml:"batch_size"`     // Max raws normalized per pass (default: 50)
	MinConfidence float64 `toml:"min_confidence"` // Below this the hybrid mode falls back to the LLM (default: 0.5)
}

// GeminiConfig contains Google Gemini API configuration for the ml normalizer backend
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model for normalization calls (default: "gemini-2.0-flash")
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "1m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.2)
}

// ClaudeConfig contains Anthropic Claude API configuration for the ml normalizer backend
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Model for normalization calls (default: "claude-haiku-3-5-20241022")
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 2048)
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "1m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.2)
}

// AuthConfig controls bearer token validation on the control API.
// An empty secret disables auth; mutating endpoints then accept any caller.
type AuthConfig struct {
	Secret   string `toml:"secret"`   // HMAC signing secret (AUTH_SECRET)
	Issuer   string `toml:"issuer"`   // Expected token issuer (default: "laboro")
	Audience string `toml:"audience"` // Expected token audience (default: "laboro-api")
}

// APIConfig controls client-facing request limits
type APIConfig struct {
	RateLimitPerMinute int `toml:"rate_limit_per_minute"` // Per-process request budget exposed via X-RateLimit headers
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Format        string   `toml:"format"`          // "json" or "text"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Time format for logs (default: "15:04:05.000")
	MinEventLevel string   `toml:"min_event_level"` // Minimum log level to publish as events ("debug", "info", "warn", "error")
	BufferSize    int      `toml:"buffer_size"`     // Ring buffer capacity behind /api/logs (default: 10000)
}

// WebSocketConfig contains configuration for WebSocket event streaming
type WebSocketConfig struct {
	MinLevel      string   `toml:"min_level"`      // Minimum log level to broadcast ("debug", "info", "warn", "error")
	AllowedEvents []string `toml:"allowed_events"` // Whitelist of event types to broadcast. Empty allows all.
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in laboro.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode - allows test URLs
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Engine: EngineConfig{
			MaxConcurrentJobs: 5,
			JobTimeout:        "1h",
			GracefulTimeout:   "30s",
			PollInterval:      "500ms",
			HeartbeatInterval: "10s",
			QueueHighWater:    1000,
			QueueLowWater:     800,
			StaleJobInterval:  "1m",
		},
		Scheduler: SchedulerConfig{
			TickInterval: "1s",
		},
		RateLimit: RateLimitConfig{
			DefaultDelaySeconds:   2.0,
			MaxDelaySeconds:       300.0,
			BackoffMultiplier:     2.0,
			RecoverySeconds:       300.0,
			RequestsPerMinute:     30,
			MaxConcurrentRequests: 10,
		},
		Fetcher: FetcherConfig{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			TimeoutSeconds: 30,
			MaxBodySize:    10 * 1024 * 1024, // 10MB
			MaxRedirects:   5,
			JavaScriptWait: "3s",
		},
		Normalizer: NormalizerConfig{
			Mode:          "rule_based", // Rule-based is the only backend that needs no API key
			Provider:      "gemini",
			PollInterval:  "5s",
			BatchSize:     50,
			MinConfidence: 0.5,
		},
		Gemini: GeminiConfig{
			APIKey:      "", // User must provide API key for ml/hybrid modes
			Model:       "gemini-2.0-flash",
			Timeout:     "1m",
			Temperature: 0.2,
		},
		Claude: ClaudeConfig{
			APIKey:      "", // User must provide API key (ANTHROPIC_API_KEY or config)
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   2048,
			Timeout:     "1m",
			Temperature: 0.2,
		},
		Auth: AuthConfig{
			Secret:   "", // Empty disables bearer auth (development)
			Issuer:   "laboro",
			Audience: "laboro-api",
		},
		API: APIConfig{
			RateLimitPerMinute: 120,
		},
		Logging: LoggingConfig{
			Level:         "info",                     // Info level for production (debug|info|warn|error)
			Format:        "text",                     // Human-readable text format (text|json)
			Output:        []string{"stdout", "file"}, // Log to both console and file
			MinEventLevel: "info",
			BufferSize:    10000,
		},
		WebSocket: WebSocketConfig{
			MinLevel:      "info",
			AllowedEvents: []string{},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// The engine's documented variables (MAX_CONCURRENT_JOBS, AUTH_SECRET, ...)
// are unprefixed; everything else uses the LABORO_ prefix.
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: LABORO_ENV, fallback: GO_ENV)
	if env := os.Getenv("LABORO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("LABORO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("LABORO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Documented engine variables
	if v := os.Getenv("MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Engine.MaxConcurrentJobs = n
		}
	}
	if v := os.Getenv("DEFAULT_RATE_LIMIT_DELAY_S"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			config.RateLimit.DefaultDelaySeconds = f
		}
	}
	if v := os.Getenv("DEFAULT_REQUEST_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Fetcher.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("SCHEDULER_TICK_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Scheduler.TickInterval = fmt.Sprintf("%dms", n)
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Engine.HeartbeatInterval = fmt.Sprintf("%ds", n)
		}
	}
	if v := os.Getenv("GRACEFUL_SHUTDOWN_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Engine.GracefulTimeout = fmt.Sprintf("%ds", n)
		}
	}
	if v := os.Getenv("AUTH_SECRET"); v != "" {
		config.Auth.Secret = v
	}
	if v := os.Getenv("STORE_CONNECTION_STRING"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	// Logging configuration
	if format := os.Getenv("LABORO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("LABORO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if minEventLevel := os.Getenv("LABORO_LOG_MIN_EVENT_LEVEL"); minEventLevel != "" {
		config.Logging.MinEventLevel = minEventLevel
	}

	// Fetcher configuration
	if userAgent := os.Getenv("LABORO_FETCHER_USER_AGENT"); userAgent != "" {
		config.Fetcher.UserAgent = userAgent
	}
	if maxBodySize := os.Getenv("LABORO_FETCHER_MAX_BODY_SIZE"); maxBodySize != "" {
		if mbs, err := strconv.Atoi(maxBodySize); err == nil {
			config.Fetcher.MaxBodySize = mbs
		}
	}

	// Rate limit configuration
	if v := os.Getenv("LABORO_RATE_LIMIT_MAX_DELAY_S"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			config.RateLimit.MaxDelaySeconds = f
		}
	}
	if v := os.Getenv("LABORO_RATE_LIMIT_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.RateLimit.MaxConcurrentRequests = n
		}
	}

	// Normalizer configuration
	if mode := os.Getenv("LABORO_NORMALIZER_MODE"); mode != "" {
		config.Normalizer.Mode = mode
	}
	if provider := os.Getenv("LABORO_NORMALIZER_PROVIDER"); provider != "" {
		config.Normalizer.Provider = provider
	}

	// Gemini configuration
	if apiKey := os.Getenv("LABORO_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("LABORO_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}

	// Claude configuration
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("LABORO_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey // LABORO_ prefix takes priority
	}
	if model := os.Getenv("LABORO_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}

	// Auth configuration
	if issuer := os.Getenv("LABORO_AUTH_ISSUER"); issuer != "" {
		config.Auth.Issuer = issuer
	}
	if audience := os.Getenv("LABORO_AUTH_AUDIENCE"); audience != "" {
		config.Auth.Audience = audience
	}

	// API configuration
	if v := os.Getenv("LABORO_API_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.API.RateLimitPerMinute = n
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks cross-field constraints that TOML parsing cannot express
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrentJobs < 1 {
		return fmt.Errorf("engine.max_concurrent_jobs must be at least 1, got %d", c.Engine.MaxConcurrentJobs)
	}
	if c.Engine.QueueLowWater >= c.Engine.QueueHighWater {
		return fmt.Errorf("engine.queue_low_water (%d) must be below engine.queue_high_water (%d)",
			c.Engine.QueueLowWater, c.Engine.QueueHighWater)
	}
	if c.RateLimit.BackoffMultiplier < 1.0 {
		return fmt.Errorf("rate_limit.backoff_multiplier must be >= 1.0, got %f", c.RateLimit.BackoffMultiplier)
	}
	if c.RateLimit.MaxDelaySeconds < c.RateLimit.DefaultDelaySeconds {
		return fmt.Errorf("rate_limit.max_delay_seconds (%f) must be >= default_delay_seconds (%f)",
			c.RateLimit.MaxDelaySeconds, c.RateLimit.DefaultDelaySeconds)
	}
	switch c.Normalizer.Mode {
	case "rule_based", "ml", "hybrid":
	default:
		return fmt.Errorf("normalizer.mode must be rule_based, ml, or hybrid, got %q", c.Normalizer.Mode)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"engine.job_timeout", c.Engine.JobTimeout},
		{"engine.graceful_timeout", c.Engine.GracefulTimeout},
		{"engine.poll_interval", c.Engine.PollInterval},
		{"engine.heartbeat_interval", c.Engine.HeartbeatInterval},
		{"engine.stale_job_interval", c.Engine.StaleJobInterval},
		{"scheduler.tick_interval", c.Scheduler.TickInterval},
		{"normalizer.poll_interval", c.Normalizer.PollInterval},
		{"fetcher.javascript_wait", c.Fetcher.JavaScriptWait},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", field.name, err)
		}
	}
	return nil
}

// Duration parses a duration config string, falling back when it is malformed.
// Validate catches bad values at load time; the fallback keeps call sites total.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// SecondsDuration converts a float seconds value into a time.Duration
func SecondsDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowTestURLs returns true if test URLs (localhost, 127.0.0.1, etc.) are allowed.
// Test URLs are only allowed in development mode.
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}
