package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/tier"
)

// Config holds the quotagate configuration.
type Config struct {
	HTTP       HTTPConfig            `yaml:"http"`
	Auth       AuthConfig            `yaml:"auth"`
	Logging    LoggingConfig         `yaml:"logging"`
	Database   DatabaseConfig        `yaml:"database"`
	Ledger     LedgerConfig          `yaml:"ledger"`
	Cache      CacheConfig           `yaml:"cache"`
	RateLimit  RateLimitConfig       `yaml:"rate_limit"`
	Pricing    PricingConfig         `yaml:"pricing"`
	Tiers      map[string]TierConfig `yaml:"tiers"`
	Capability CapabilityConfig      `yaml:"capability"`
	Events     EventsConfig          `yaml:"events"`
	Receipts   ReceiptsConfig        `yaml:"receipts"`
	Anomaly    AnomalyConfig         `yaml:"anomaly"`
	Usage      UsageConfig           `yaml:"usage"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis/Valkey connection settings.
// Empty addrs keeps receipts and usage counters in memory.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Enabled reports whether a KV store is configured.
func (d DatabaseConfig) Enabled() bool { return len(d.Addrs) > 0 }

// LedgerConfig selects and bounds the entitlement ledger.
type LedgerConfig struct {
	Driver        string        `yaml:"driver"` // memory, sqlite, postgres (default: memory)
	DSN           string        `yaml:"dsn"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	CommitTimeout time.Duration `yaml:"commit_timeout"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	Breaker       BreakerConfig `yaml:"breaker"`
	Seed          []SeedConfig  `yaml:"seed"`
}

// BreakerConfig holds circuit breaker settings for ledger calls.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	HalfOpenRequests uint32        `yaml:"half_open_requests"`
	Interval         time.Duration `yaml:"interval"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// SeedConfig is an entitlement granted at startup.
type SeedConfig struct {
	SubscriberID string        `yaml:"subscriber_id"`
	Tier         string        `yaml:"tier"`
	Quota        int64         `yaml:"quota"`
	ValidFor     time.Duration `yaml:"valid_for"`
}

// CacheConfig holds entitlement cache settings.
type CacheConfig struct {
	// TTL of zero means every request reads the ledger.
	TTL         *time.Duration `yaml:"ttl"`
	StalePolicy string         `yaml:"stale_policy"` // fail_closed (default), serve_stale
	MaxStale    time.Duration  `yaml:"max_stale"`
}

// TTLOrDefault returns the configured TTL, DefaultCacheTTL when unset.
func (c CacheConfig) TTLOrDefault() time.Duration {
	if c.TTL == nil {
		return domain.DefaultCacheTTL
	}
	return *c.TTL
}

// RateLimitConfig holds per-subscriber rate limiting settings.
type RateLimitConfig struct {
	MaxRequests   int           `yaml:"max_requests"`
	Window        time.Duration `yaml:"window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// PricingConfig holds cost computation settings.
type PricingConfig struct {
	BaseCost             int64    `yaml:"base_cost"`
	LongPayloadThreshold int      `yaml:"long_payload_threshold"`
	LongPayloadIncrement int64    `yaml:"long_payload_increment"`
	MarkerIncrement      int64    `yaml:"marker_increment"`
	ExpensiveMarkers     []string `yaml:"expensive_markers"`
	BlockedTerms         []string `yaml:"blocked_terms"`
	MaxPayloadLength     int      `yaml:"max_payload_length"`
}

// TierConfig holds per-tier pricing settings.
type TierConfig struct {
	PricingMultiplier float64 `yaml:"pricing_multiplier"`
	MaxPayloadLength  int     `yaml:"max_payload_length"`
}

// CapabilityConfig selects the capability that serves requests.
type CapabilityConfig struct {
	Driver  string        `yaml:"driver"` // template (default), openai
	Timeout time.Duration `yaml:"timeout"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
}

// OpenAIConfig holds OpenAI-compatible provider settings.
type OpenAIConfig struct {
	Provider     string         `yaml:"provider"`
	APIKey       string         `yaml:"api_key"`
	BaseURL      string         `yaml:"base_url"`
	Model        string         `yaml:"model"`
	SystemPrompt string         `yaml:"system_prompt"`
	MaxTokens    map[string]int `yaml:"max_tokens"` // per tier
}

// EventsConfig holds analytics event settings.
type EventsConfig struct {
	Buffer   int    `yaml:"buffer"`
	AMQPURL  string `yaml:"amqp_url"` // empty disables forwarding
	Exchange string `yaml:"exchange"`
}

// ReceiptsConfig holds receipt persistence settings.
type ReceiptsConfig struct {
	Retention time.Duration `yaml:"retention"`
}

// DefaultAnomalyPath is the journal file used when none is configured.
const DefaultAnomalyPath = "quotagate-anomalies.db"

// AnomalyConfig holds the commit-anomaly journal location. ":memory:" is
// only accepted with the memory ledger.
type AnomalyConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// UsageConfig holds usage aggregation settings.
type UsageConfig struct {
	DedupeSize int           `yaml:"dedupe_size"`
	Retention  time.Duration `yaml:"retention"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands env variables in data, decodes it and applies defaults.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Ledger.ReadTimeout <= 0 {
		c.Ledger.ReadTimeout = domain.DefaultLedgerTimeout
	}
	if c.Ledger.CommitTimeout <= 0 {
		c.Ledger.CommitTimeout = domain.DefaultCommitTimeout
	}
	if c.Ledger.RetryBackoff <= 0 {
		c.Ledger.RetryBackoff = domain.DefaultRetryBackoff
	}
	if c.Ledger.Breaker.FailureThreshold == 0 {
		c.Ledger.Breaker.FailureThreshold = 5
	}
	if c.Ledger.Breaker.HalfOpenRequests == 0 {
		c.Ledger.Breaker.HalfOpenRequests = 1
	}
	if c.Ledger.Breaker.Interval <= 0 {
		c.Ledger.Breaker.Interval = 30 * time.Second
	}
	if c.Ledger.Breaker.OpenTimeout <= 0 {
		c.Ledger.Breaker.OpenTimeout = 10 * time.Second
	}
	for i := range c.Ledger.Seed {
		if c.Ledger.Seed[i].ValidFor <= 0 {
			c.Ledger.Seed[i].ValidFor = 30 * 24 * time.Hour
		}
	}

	if c.Cache.StalePolicy == "" {
		c.Cache.StalePolicy = "fail_closed"
	}
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = domain.DefaultRateLimitMax
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = domain.DefaultRateLimitWindow
	}
	if c.RateLimit.SweepInterval <= 0 {
		c.RateLimit.SweepInterval = c.RateLimit.Window
	}
	if len(c.Tiers) == 0 {
		c.Tiers = make(map[string]TierConfig)
		for id, t := range tier.DefaultCatalog() {
			c.Tiers[id] = TierConfig{PricingMultiplier: t.PricingMultiplier, MaxPayloadLength: t.MaxPayloadLength}
		}
	}
	if c.Capability.Driver == "" {
		c.Capability.Driver = "template"
	}
	if c.Capability.Timeout <= 0 {
		c.Capability.Timeout = domain.DefaultExecutionTimeout
	}
	if c.Capability.OpenAI.Provider == "" {
		c.Capability.OpenAI.Provider = "openai"
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "quotagate.events"
	}
	if c.Receipts.Retention <= 0 {
		c.Receipts.Retention = 30 * 24 * time.Hour
	}
	if c.Usage.Retention <= 0 {
		c.Usage.Retention = 62 * 24 * time.Hour
	}
	if c.Anomaly.SQLitePath == "" {
		c.Anomaly.SQLitePath = DefaultAnomalyPath
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Ledger.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for driver %q", c.Ledger.Driver)
		}
	default:
		return fmt.Errorf("ledger.driver must be \"memory\", \"sqlite\" or \"postgres\", got %q", c.Ledger.Driver)
	}
	for i, s := range c.Ledger.Seed {
		if s.SubscriberID == "" {
			return fmt.Errorf("ledger.seed[%d].subscriber_id is required", i)
		}
		if _, ok := c.Tiers[s.Tier]; !ok {
			return fmt.Errorf("ledger.seed[%d].tier %q is not a configured tier", i, s.Tier)
		}
		if s.Quota < 0 {
			return fmt.Errorf("ledger.seed[%d].quota must not be negative, got %d", i, s.Quota)
		}
	}

	if ttl := c.Cache.TTLOrDefault(); ttl < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %s", ttl)
	}
	switch c.Cache.StalePolicy {
	case "fail_closed":
	case "serve_stale":
		if c.Cache.MaxStale <= 0 {
			return fmt.Errorf("cache.max_stale is required for stale_policy \"serve_stale\"")
		}
	default:
		return fmt.Errorf(
			"cache.stale_policy must be \"fail_closed\" or \"serve_stale\", got %q", c.Cache.StalePolicy,
		)
	}

	for id, t := range c.Tiers {
		if t.PricingMultiplier <= 0 || t.PricingMultiplier > 1 {
			return fmt.Errorf("tiers.%s.pricing_multiplier must be in (0, 1], got %g", id, t.PricingMultiplier)
		}
		if t.MaxPayloadLength <= 0 {
			return fmt.Errorf("tiers.%s.max_payload_length must be positive, got %d", id, t.MaxPayloadLength)
		}
	}

	switch c.Capability.Driver {
	case "template":
	case "openai":
		if c.Capability.OpenAI.APIKey == "" || c.Capability.OpenAI.Model == "" {
			return fmt.Errorf("capability.openai.api_key and capability.openai.model are required")
		}
	default:
		return fmt.Errorf("capability.driver must be \"template\" or \"openai\", got %q", c.Capability.Driver)
	}

	if c.Events.Buffer < 0 {
		return fmt.Errorf("events.buffer must not be negative, got %d", c.Events.Buffer)
	}
	if c.Anomaly.SQLitePath == ":memory:" && c.Ledger.Driver != "memory" {
		return fmt.Errorf("anomaly.sqlite_path must be a file with the durable %q ledger", c.Ledger.Driver)
	}
	return nil
}

// TierCatalog converts the configured tiers to a catalog.
func (c *Config) TierCatalog() tier.Catalog {
	cat := make(tier.Catalog, len(c.Tiers))
	for id, t := range c.Tiers {
		cat[id] = tier.Tier{ID: id, PricingMultiplier: t.PricingMultiplier, MaxPayloadLength: t.MaxPayloadLength}
	}
	return cat
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
