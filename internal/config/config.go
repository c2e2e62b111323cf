package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the interpretation service.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	RateLimit RateLimitConfig  `yaml:"rateLimit"`
	Providers []ProviderConfig `yaml:"providers"`
	Archive   ArchiveConfig    `yaml:"archive"`
	Engine    EngineConfig     `yaml:"engine"`
	Symbols   SymbolsConfig    `yaml:"symbols"`
	Logging   LoggingConfig    `yaml:"logging"`
	Cache     CacheConfig      `yaml:"cache"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// RateLimitConfig controls the sliding-window admission gates. Zero disables
// the corresponding gate.
type RateLimitConfig struct {
	PerClient   int           `yaml:"perClient"`
	Global      int           `yaml:"global"`
	Window      time.Duration `yaml:"window"`
	IdleWindows int           `yaml:"idleWindows"`
}

// ProviderConfig describes one model provider in cascade order. Endpoint and
// Model fall back to the provider's published defaults when empty; API keys
// are normally injected through the environment.
type ProviderConfig struct {
	ID          string        `yaml:"id"`
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	CostTier    float64       `yaml:"costTier"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryBudget int           `yaml:"retryBudget"`
	MaxOutput   int           `yaml:"maxOutput"`
}

// ArchiveConfig configures the narrative case archive.
type ArchiveConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EngineConfig tunes the interpretation pipeline.
type EngineConfig struct {
	ReviewThreshold  float64       `yaml:"reviewThreshold"`
	RequestDeadline  time.Duration `yaml:"requestDeadline"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerCooldown  time.Duration `yaml:"breakerCooldown"`
}

// SymbolsConfig controls symbol-pack loading for the extractors.
type SymbolsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed caching. Enabled without an address
// degrades to the in-process provider.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	DialTimeout     time.Duration `yaml:"dialTimeout"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	MaxRetries      int           `yaml:"maxRetries"`
	TLS             bool          `yaml:"tls"`
	ResultTTL       time.Duration `yaml:"resultTTL"`
	SimilarCasesTTL time.Duration `yaml:"similarCasesTTL"`
	PatternsTTL     time.Duration `yaml:"patternsTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ONEIRO_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerClient:   10,
			Global:      1000,
			Window:      60 * time.Second,
			IdleWindows: 10,
		},
		Providers: []ProviderConfig{
			{ID: "groq", CostTier: 1, Timeout: 30 * time.Second, RetryBudget: 2, MaxOutput: 2000},
			{ID: "together", CostTier: 2, Timeout: 30 * time.Second, RetryBudget: 2, MaxOutput: 2000},
			{ID: "openai", CostTier: 3, Timeout: 30 * time.Second, RetryBudget: 2, MaxOutput: 2000},
			{ID: "anthropic", CostTier: 4, Timeout: 30 * time.Second, RetryBudget: 2, MaxOutput: 2000},
		},
		Archive: ArchiveConfig{Timeout: 5 * time.Second},
		Engine: EngineConfig{
			ReviewThreshold:  0.60,
			BreakerThreshold: 5,
			BreakerCooldown:  60 * time.Second,
		},
		Symbols: SymbolsConfig{Path: "configs/symbols/default.yaml"},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:         false,
			ResultTTL:       15 * time.Minute,
			SimilarCasesTTL: 10 * time.Minute,
			PatternsTTL:     10 * time.Minute,
			DialTimeout:     2 * time.Second,
			ReadTimeout:     500 * time.Millisecond,
			WriteTimeout:    500 * time.Millisecond,
			MaxRetries:      2,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ONEIRO_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("ONEIRO_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("ONEIRO_RATE_LIMIT_PER_CLIENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.PerClient = n
		}
	}
	if v := os.Getenv("ONEIRO_RATE_LIMIT_GLOBAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Global = n
		}
	}
	if v := os.Getenv("ONEIRO_RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.Window = d
		}
	}
	if v := os.Getenv("ONEIRO_PROVIDER_ORDER"); v != "" {
		applyProviderOrder(cfg, v)
	}
	applyProviderKeys(cfg)
	if v := os.Getenv("ONEIRO_ARCHIVE_URL"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("ONEIRO_ARCHIVE_API_KEY"); v != "" {
		cfg.Archive.APIKey = v
	}
	if v := os.Getenv("ONEIRO_REVIEW_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.ReviewThreshold = f
		}
	}
	if v := os.Getenv("ONEIRO_REQUEST_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.RequestDeadline = d
		}
	}
	if v := os.Getenv("ONEIRO_SYMBOLS_PATH"); v != "" {
		cfg.Symbols.Path = v
	}
	if v := os.Getenv("ONEIRO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ONEIRO_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("ONEIRO_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("ONEIRO_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("ONEIRO_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("ONEIRO_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("ONEIRO_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("ONEIRO_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("ONEIRO_CACHE_RESULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ResultTTL = d
		}
	}
	if v := os.Getenv("ONEIRO_CACHE_SIMILAR_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.SimilarCasesTTL = d
		}
	}
	if v := os.Getenv("ONEIRO_CACHE_PATTERNS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.PatternsTTL = d
		}
	}
}

// providerKeyEnv maps provider ids to the environment variables their API
// keys are conventionally supplied through.
var providerKeyEnv = map[string]string{
	"groq":      "GROQ_API_KEY",
	"together":  "TOGETHER_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

func applyProviderKeys(cfg *Config) {
	for i := range cfg.Providers {
		env, ok := providerKeyEnv[cfg.Providers[i].ID]
		if !ok {
			continue
		}
		if v := os.Getenv(env); v != "" {
			cfg.Providers[i].APIKey = v
		}
	}
}

// applyProviderOrder filters and reorders the configured providers to match a
// comma-separated id list. Unknown ids are ignored.
func applyProviderOrder(cfg *Config, order string) {
	byID := make(map[string]ProviderConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		byID[p.ID] = p
	}

	reordered := make([]ProviderConfig, 0, len(cfg.Providers))
	for _, name := range strings.Split(order, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if p, ok := byID[name]; ok {
			reordered = append(reordered, p)
		}
	}
	if len(reordered) > 0 {
		cfg.Providers = reordered
	}
}
