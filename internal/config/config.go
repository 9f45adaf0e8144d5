package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the recorder and gateway binaries.
type Config struct {
	// Transcription backend
	BackendURL     string        // websocket endpoint of the transcription service
	TokenURL       string        // HTTP endpoint issuing short-lived backend tokens
	ConnectTimeout time.Duration // per connect attempt
	MaxRetries     int           // retries after the first connect attempt; -1 disables
	RetryBackoff   time.Duration // base backoff, multiplied by the retry count
	CommitGrace    time.Duration // bounded wait for the final commit on stop

	// Audio
	SampleRate    int           // target sample rate sent to the backend
	FrameInterval time.Duration // chunking interval for outbound frames

	// Gateway
	ListenAddr  string
	TokenSecret string // HMAC secret for the built-in token issuer
	TokenTTL    time.Duration

	// Minutes generation
	OpenAIAPIKey string
	MinutesModel string

	LogLevel string
}

// fileConfig is the YAML representation of the optional config file.
type fileConfig struct {
	Backend struct {
		URL            string `yaml:"url"`
		TokenURL       string `yaml:"token_url"`
		ConnectTimeout string `yaml:"connect_timeout"`
		MaxRetries     *int   `yaml:"max_retries"`
		RetryBackoff   string `yaml:"retry_backoff"`
		CommitGrace    string `yaml:"commit_grace"`
	} `yaml:"backend"`
	Audio struct {
		SampleRate    int    `yaml:"sample_rate"`
		FrameInterval string `yaml:"frame_interval"`
	} `yaml:"audio"`
	Gateway struct {
		ListenAddr  string `yaml:"listen_addr"`
		TokenSecret string `yaml:"token_secret"`
		TokenTTL    string `yaml:"token_ttl"`
	} `yaml:"gateway"`
	Minutes struct {
		Model string `yaml:"model"`
	} `yaml:"minutes"`
	LogLevel string `yaml:"log_level"`
}

// Load loads configuration from an optional YAML file, environment variables
// and flags, in that order of precedence (lowest to highest).
func Load() (*Config, error) {
	cfg := Default()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	if path := getEnv("MINUTEVAULT_CONFIG", ""); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	// Load from environment
	cfg.BackendURL = getEnv("MV_BACKEND_URL", cfg.BackendURL)
	cfg.TokenURL = getEnv("MV_TOKEN_URL", cfg.TokenURL)
	cfg.ListenAddr = getEnv("MV_LISTEN_ADDR", cfg.ListenAddr)
	cfg.TokenSecret = getEnv("MV_TOKEN_SECRET", cfg.TokenSecret)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.MinutesModel = getEnv("MV_MINUTES_MODEL", cfg.MinutesModel)
	cfg.LogLevel = getEnv("MV_LOG_LEVEL", cfg.LogLevel)

	if v := getEnv("MV_CONNECT_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ConnectTimeout = d
		}
	}
	if v := getEnv("MV_MAX_RETRIES", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= -1 {
			cfg.MaxRetries = n
		}
	}
	if v := getEnv("MV_COMMIT_GRACE", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CommitGrace = d
		}
	}
	if v := getEnv("MV_FRAME_INTERVAL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FrameInterval = d
		}
	}

	// Override with flags
	flag.StringVar(&cfg.BackendURL, "backend-url", cfg.BackendURL, "Transcription backend websocket URL")
	flag.StringVar(&cfg.TokenURL, "token-url", cfg.TokenURL, "Token issuer URL")
	flag.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "Gateway listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "Connect attempt timeout")
	flag.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Maximum connect retries (-1 disables)")
	flag.DurationVar(&cfg.CommitGrace, "commit-grace", cfg.CommitGrace, "Grace period for the final commit on stop")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		ConnectTimeout: 15 * time.Second,
		MaxRetries:     3,
		RetryBackoff:   time.Second,
		CommitGrace:    1200 * time.Millisecond,
		SampleRate:     16000,
		FrameInterval:  200 * time.Millisecond,
		ListenAddr:     ":8080",
		TokenTTL:       5 * time.Minute,
		MinutesModel:   "gpt-4o-mini",
		LogLevel:       "info",
	}
}

// ApplyFile overlays values from a YAML config file.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Backend.URL != "" {
		c.BackendURL = fc.Backend.URL
	}
	if fc.Backend.TokenURL != "" {
		c.TokenURL = fc.Backend.TokenURL
	}
	if fc.Backend.MaxRetries != nil && *fc.Backend.MaxRetries >= -1 {
		c.MaxRetries = *fc.Backend.MaxRetries
	}
	applyDuration(&c.ConnectTimeout, fc.Backend.ConnectTimeout)
	applyDuration(&c.RetryBackoff, fc.Backend.RetryBackoff)
	applyDuration(&c.CommitGrace, fc.Backend.CommitGrace)
	if fc.Audio.SampleRate > 0 {
		c.SampleRate = fc.Audio.SampleRate
	}
	applyDuration(&c.FrameInterval, fc.Audio.FrameInterval)
	if fc.Gateway.ListenAddr != "" {
		c.ListenAddr = fc.Gateway.ListenAddr
	}
	if fc.Gateway.TokenSecret != "" {
		c.TokenSecret = fc.Gateway.TokenSecret
	}
	applyDuration(&c.TokenTTL, fc.Gateway.TokenTTL)
	if fc.Minutes.Model != "" {
		c.MinutesModel = fc.Minutes.Model
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}

	return nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("MV_BACKEND_URL is required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame interval must be positive")
	}
	return nil
}

func applyDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
