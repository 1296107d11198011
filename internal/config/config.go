package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends recognized in StorageConfig.Backend.
const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

// Config holds all externally supplied tuning knobs. The core never
// hard-codes cadence, rate limits or retry bounds.
type Config struct {
	Storage  StorageConfig
	Telegram TelegramConfig
	Poll     PollConfig
	Fetch    FetchConfig
}

// StorageConfig selects and parameterizes the state store backend.
type StorageConfig struct {
	Backend     string
	ProjectID   string // firestore
	PostgresDSN string // postgres
}

// TelegramConfig wires the outbound chat collaborator.
type TelegramConfig struct {
	BotToken string
}

// PollConfig drives the scheduler.
type PollConfig struct {
	Interval          time.Duration // base cadence per filter
	JitterFrac        float64       // cadence jittered by ±Interval*JitterFrac
	MaxPages          int           // pagination ceiling per run
	RunTimeout        time.Duration // cumulative ceiling for one filter run
	MaxConcurrent     int64         // global bound on filters processed at once
	MaxStoredListings int           // retention ceiling for the listings store, 0 disables trimming
}

// FetchConfig bounds the fetcher's behavior toward the upstream host.
type FetchConfig struct {
	RequestTimeout    time.Duration
	HostMinInterval   time.Duration // minimum spacing between requests per host
	MaxRetries        uint          // transient-failure retry budget per page
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RateLimitCooldown time.Duration // cool-down window after an upstream 429
	UseBrowser        bool          // fetch through headless Chrome instead of plain HTTP
}

// fileConfig mirrors Config for the optional YAML file. Durations are strings
// so the file can use "10m" style values.
type fileConfig struct {
	Storage struct {
		Backend     string `yaml:"backend"`
		ProjectID   string `yaml:"projectId"`
		PostgresDSN string `yaml:"postgresDsn"`
	} `yaml:"storage"`
	Telegram struct {
		BotToken string `yaml:"botToken"`
	} `yaml:"telegram"`
	Poll struct {
		Interval          string  `yaml:"interval"`
		JitterFrac        float64 `yaml:"jitterFrac"`
		MaxPages          int     `yaml:"maxPages"`
		RunTimeout        string  `yaml:"runTimeout"`
		MaxConcurrent     int64   `yaml:"maxConcurrent"`
		MaxStoredListings int     `yaml:"maxStoredListings"`
	} `yaml:"poll"`
	Fetch struct {
		RequestTimeout    string `yaml:"requestTimeout"`
		HostMinInterval   string `yaml:"hostMinInterval"`
		MaxRetries        uint   `yaml:"maxRetries"`
		RetryBaseDelay    string `yaml:"retryBaseDelay"`
		RetryMaxDelay     string `yaml:"retryMaxDelay"`
		RateLimitCooldown string `yaml:"rateLimitCooldown"`
		UseBrowser        *bool  `yaml:"useBrowser"`
	} `yaml:"fetch"`
}

// Load builds the configuration from defaults, an optional YAML file named by
// CARSCOUT_CONFIG, and environment variable overrides, in that order. A .env
// file in the working directory is honored when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := defaultConfig()

	if path := os.Getenv("CARSCOUT_CONFIG"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Telegram.BotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is required but not set")
	}
	switch cfg.Storage.Backend {
	case BackendFirestore:
		if cfg.Storage.ProjectID == "" {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the firestore backend")
		}
	case BackendPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return nil, fmt.Errorf("DATABASE_DSN is required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want %q or %q)", cfg.Storage.Backend, BackendFirestore, BackendPostgres)
	}
	if cfg.Poll.JitterFrac < 0 || cfg.Poll.JitterFrac >= 1 {
		return nil, fmt.Errorf("poll jitter fraction %v out of range [0, 1)", cfg.Poll.JitterFrac)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{Backend: BackendFirestore},
		Poll: PollConfig{
			Interval:          10 * time.Minute,
			JitterFrac:        0.2,
			MaxPages:          3,
			RunTimeout:        4 * time.Minute,
			MaxConcurrent:     4,
			MaxStoredListings: 50000,
		},
		Fetch: FetchConfig{
			RequestTimeout:    30 * time.Second,
			HostMinInterval:   5 * time.Second,
			MaxRetries:        3,
			RetryBaseDelay:    time.Second,
			RetryMaxDelay:     30 * time.Second,
			RateLimitCooldown: 15 * time.Minute,
		},
	}
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return err
	}

	if fc.Storage.Backend != "" {
		cfg.Storage.Backend = fc.Storage.Backend
	}
	if fc.Storage.ProjectID != "" {
		cfg.Storage.ProjectID = fc.Storage.ProjectID
	}
	if fc.Storage.PostgresDSN != "" {
		cfg.Storage.PostgresDSN = fc.Storage.PostgresDSN
	}
	if fc.Telegram.BotToken != "" {
		cfg.Telegram.BotToken = fc.Telegram.BotToken
	}
	if fc.Poll.JitterFrac != 0 {
		cfg.Poll.JitterFrac = fc.Poll.JitterFrac
	}
	if fc.Poll.MaxPages != 0 {
		cfg.Poll.MaxPages = fc.Poll.MaxPages
	}
	if fc.Poll.MaxConcurrent != 0 {
		cfg.Poll.MaxConcurrent = fc.Poll.MaxConcurrent
	}
	if fc.Poll.MaxStoredListings != 0 {
		cfg.Poll.MaxStoredListings = fc.Poll.MaxStoredListings
	}
	if fc.Fetch.MaxRetries != 0 {
		cfg.Fetch.MaxRetries = fc.Fetch.MaxRetries
	}
	if fc.Fetch.UseBrowser != nil {
		cfg.Fetch.UseBrowser = *fc.Fetch.UseBrowser
	}

	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.Poll.Interval, &cfg.Poll.Interval, "poll.interval"},
		{fc.Poll.RunTimeout, &cfg.Poll.RunTimeout, "poll.runTimeout"},
		{fc.Fetch.RequestTimeout, &cfg.Fetch.RequestTimeout, "fetch.requestTimeout"},
		{fc.Fetch.HostMinInterval, &cfg.Fetch.HostMinInterval, "fetch.hostMinInterval"},
		{fc.Fetch.RetryBaseDelay, &cfg.Fetch.RetryBaseDelay, "fetch.retryBaseDelay"},
		{fc.Fetch.RetryMaxDelay, &cfg.Fetch.RetryMaxDelay, "fetch.retryMaxDelay"},
		{fc.Fetch.RateLimitCooldown, &cfg.Fetch.RateLimitCooldown, "fetch.rateLimitCooldown"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		cfg.Storage.ProjectID = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}

	if v := os.Getenv("POLL_JITTER"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid POLL_JITTER %q: %w", v, err)
		}
		cfg.Poll.JitterFrac = parsed
	}
	if v := os.Getenv("MAX_PAGES"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_PAGES %q: %w", v, err)
		}
		cfg.Poll.MaxPages = parsed
	}
	if v := os.Getenv("MAX_CONCURRENT_FILTERS"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_CONCURRENT_FILTERS %q: %w", v, err)
		}
		cfg.Poll.MaxConcurrent = parsed
	}
	if v := os.Getenv("MAX_STORED_LISTINGS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_STORED_LISTINGS %q: %w", v, err)
		}
		cfg.Poll.MaxStoredListings = parsed
	}
	if v := os.Getenv("FETCH_MAX_RETRIES"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid FETCH_MAX_RETRIES %q: %w", v, err)
		}
		cfg.Fetch.MaxRetries = uint(parsed)
	}
	if v := os.Getenv("USE_BROWSER_FETCHER"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid USE_BROWSER_FETCHER %q: %w", v, err)
		}
		cfg.Fetch.UseBrowser = parsed
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"POLL_INTERVAL", &cfg.Poll.Interval},
		{"RUN_TIMEOUT", &cfg.Poll.RunTimeout},
		{"REQUEST_TIMEOUT", &cfg.Fetch.RequestTimeout},
		{"HOST_MIN_INTERVAL", &cfg.Fetch.HostMinInterval},
		{"RETRY_BASE_DELAY", &cfg.Fetch.RetryBaseDelay},
		{"RETRY_MAX_DELAY", &cfg.Fetch.RetryMaxDelay},
		{"RATE_LIMIT_COOLDOWN", &cfg.Fetch.RateLimitCooldown},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.env, v, err)
		}
		*d.dst = parsed
	}
	return nil
}
