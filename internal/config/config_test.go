package config

import (
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/quotagate/internal/domain"
)

func validConfig() Config {
	cfg := Config{HTTP: HTTPConfig{Port: 8080}}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Ledger.Driver != "memory" {
		t.Errorf("expected ledger driver memory, got %q", cfg.Ledger.Driver)
	}
	if cfg.Ledger.ReadTimeout != domain.DefaultLedgerTimeout {
		t.Errorf("expected ReadTimeout=%s, got %s", domain.DefaultLedgerTimeout, cfg.Ledger.ReadTimeout)
	}
	if cfg.Ledger.Breaker.FailureThreshold != 5 {
		t.Errorf("expected FailureThreshold=5, got %d", cfg.Ledger.Breaker.FailureThreshold)
	}
	if cfg.Cache.TTLOrDefault() != domain.DefaultCacheTTL {
		t.Errorf("expected cache ttl %s, got %s", domain.DefaultCacheTTL, cfg.Cache.TTLOrDefault())
	}
	if cfg.Cache.StalePolicy != "fail_closed" {
		t.Errorf("expected fail_closed, got %q", cfg.Cache.StalePolicy)
	}
	if cfg.RateLimit.MaxRequests != 10 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
	if len(cfg.Tiers) != 3 {
		t.Errorf("expected 3 default tiers, got %d", len(cfg.Tiers))
	}
	if cfg.Capability.Driver != "template" {
		t.Errorf("expected template capability, got %q", cfg.Capability.Driver)
	}
	if cfg.Events.Exchange != "quotagate.events" {
		t.Errorf("unexpected exchange %q", cfg.Events.Exchange)
	}
	if cfg.Anomaly.SQLitePath != DefaultAnomalyPath {
		t.Errorf("expected anomaly journal %q, got %q", DefaultAnomalyPath, cfg.Anomaly.SQLitePath)
	}
}

func TestValidate_AnomalyJournalDurability(t *testing.T) {
	tests := []struct {
		driver, path string
		wantErr      bool
	}{
		{"memory", ":memory:", false},
		{"memory", "anomalies.db", false},
		{"sqlite", ":memory:", true},
		{"postgres", ":memory:", true},
		{"sqlite", "anomalies.db", false},
	}
	for _, tt := range tests {
		t.Run(tt.driver+"/"+tt.path, func(t *testing.T) {
			cfg := validConfig()
			cfg.Ledger.Driver = tt.driver
			cfg.Ledger.DSN = "ledger.db"
			cfg.Anomaly.SQLitePath = tt.path
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_LedgerDriver(t *testing.T) {
	tests := []struct {
		driver, dsn string
		wantErr     bool
	}{
		{"memory", "", false},
		{"sqlite", "", true},
		{"sqlite", "ledger.db", false},
		{"postgres", "postgres://localhost/ledger", false},
		{"mysql", "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.driver+"/"+tt.dsn, func(t *testing.T) {
			cfg := validConfig()
			cfg.Ledger.Driver = tt.driver
			cfg.Ledger.DSN = tt.dsn
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_SeedUnknownTier(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.Seed = []SeedConfig{{SubscriberID: "0xabc", Tier: "gold", Quota: 10}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown seed tier")
	}
	expected := `ledger.seed[0].tier "gold" is not a configured tier`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_ServeStaleNeedsMaxStale(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.StalePolicy = "serve_stale"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without max_stale")
	}

	cfg.Cache.MaxStale = 5 * time.Minute
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_TierMultiplier(t *testing.T) {
	cfg := validConfig()
	cfg.Tiers["basic"] = TierConfig{PricingMultiplier: 1.5, MaxPayloadLength: 1000}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for multiplier above 1")
	}
}

func TestValidate_OpenAIRequiresKey(t *testing.T) {
	cfg := validConfig()
	cfg.Capability.Driver = "openai"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing api key")
	}

	cfg.Capability.OpenAI.APIKey = "sk-test"
	cfg.Capability.OpenAI.Model = "gpt-4o-mini"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParse(t *testing.T) {
	t.Setenv("QG_TEST_PORT", "9090")
	t.Setenv("QG_TEST_KEY", "")

	data := []byte(`
http:
  port: ${QG_TEST_PORT}
auth:
  api_keys: ["${QG_TEST_KEY:-fallback}"]
ledger:
  driver: memory
  seed:
    - subscriber_id: "0xabc"
      tier: premium
      quota: 50
cache:
  ttl: 0s
rate_limit:
  max_requests: 3
  window: 30s
tiers:
  basic:
    pricing_multiplier: 1
    max_payload_length: 500
  premium:
    pricing_multiplier: 0.8
    max_payload_length: 2000
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0] != "fallback" {
		t.Errorf("expected fallback api key, got %v", cfg.Auth.APIKeys)
	}
	if cfg.Cache.TTLOrDefault() != 0 {
		t.Errorf("explicit zero ttl must be kept, got %s", cfg.Cache.TTLOrDefault())
	}
	if cfg.RateLimit.Window != 30*time.Second || cfg.RateLimit.SweepInterval != 30*time.Second {
		t.Errorf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.Ledger.Seed[0].ValidFor != 30*24*time.Hour {
		t.Errorf("expected default seed validity, got %s", cfg.Ledger.Seed[0].ValidFor)
	}

	cat := cfg.TierCatalog()
	if tr, ok := cat.Lookup("premium"); !ok || tr.PricingMultiplier != 0.8 || tr.ID != "premium" {
		t.Errorf("unexpected premium tier %+v", tr)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("http: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "failed to parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("QG_SET", "value")

	got := string(expandEnvVars([]byte("a=${QG_SET} b=${QG_UNSET_VAR:-dflt} c=${QG_UNSET_VAR}")))
	if got != "a=value b=dflt c=" {
		t.Errorf("unexpected expansion %q", got)
	}
}
