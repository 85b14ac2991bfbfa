package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Redis    RedisConfig
	Chain    ChainConfig
	Retry    RetryConfig
	Upstream UpstreamConfig
	Policy   PolicyConfig
	Yield    YieldConfig
	Audit    AuditConfig
	Server   ServerConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ChainConfig struct {
	RPCURL           string `mapstructure:"rpc_url"`
	ChainID          int64  `mapstructure:"chain_id"`
	MerchantRegistry string `mapstructure:"merchant_registry"`
	PolicyRegistry   string `mapstructure:"policy_registry"`
}

type RetryConfig struct {
	MaxAttempts int   `mapstructure:"max_attempts"`
	BaseDelayMs int64 `mapstructure:"base_delay_ms"`
	JitterMs    int64 `mapstructure:"jitter_ms"`
}

type UpstreamConfig struct {
	RequireHTTPS bool  `mapstructure:"require_https"`
	DNSTimeoutMs int64 `mapstructure:"dns_timeout_ms"`
}

type PolicyConfig struct {
	VerifyHash       bool  `mapstructure:"verify_hash"`
	RequestTimeoutMs int64 `mapstructure:"request_timeout_ms"`
}

type YieldConfig struct {
	StableToken     string `mapstructure:"stable_token"`
	Vault           string `mapstructure:"vault"`
	WatchAddresses  string `mapstructure:"watch_addresses"`
	PollIntervalSec int64  `mapstructure:"poll_interval_sec"`
	HistoryLimit    int    `mapstructure:"history_limit"`
	Store           string `mapstructure:"store"`
	HistoryFile     string `mapstructure:"history_file"`
}

type AuditConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Addresses splits the comma-separated watch list, dropping blanks.
func (y YieldConfig) Addresses() []string {
	var out []string
	for _, a := range strings.Split(y.WatchAddresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Enabled reports whether the yield watcher has enough configuration to run.
func (y YieldConfig) Enabled() bool {
	return y.Vault != "" && y.StableToken != "" && len(y.Addresses()) > 0
}

func (r RetryConfig) BaseDelay() time.Duration { return time.Duration(r.BaseDelayMs) * time.Millisecond }
func (r RetryConfig) Jitter() time.Duration    { return time.Duration(r.JitterMs) * time.Millisecond }

func (u UpstreamConfig) DNSTimeout() time.Duration {
	return time.Duration(u.DNSTimeoutMs) * time.Millisecond
}

func (p PolicyConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutMs) * time.Millisecond
}

// maxHistoryLimit matches yield.DefaultHistoryLimit; history is never kept
// beyond it.
const maxHistoryLimit = 100

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.jitter_ms", 200)
	v.SetDefault("upstream.require_https", true)
	v.SetDefault("upstream.dns_timeout_ms", 2000)
	v.SetDefault("policy.verify_hash", false)
	v.SetDefault("policy.request_timeout_ms", 5000)
	v.SetDefault("yield.poll_interval_sec", 300)
	v.SetDefault("yield.history_limit", 100)
	v.SetDefault("yield.store", "redis")
	v.SetDefault("yield.history_file", "yield-history.json")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"redis.addr":                 "REDIS_ADDR",
		"redis.password":             "REDIS_PASSWORD",
		"chain.rpc_url":              "RPC_URL",
		"chain.chain_id":             "CHAIN_ID",
		"chain.merchant_registry":    "MERCHANT_REGISTRY",
		"chain.policy_registry":      "POLICY_REGISTRY",
		"retry.max_attempts":         "CHAIN_RETRY_ATTEMPTS",
		"retry.base_delay_ms":        "CHAIN_RETRY_BASE_DELAY_MS",
		"retry.jitter_ms":            "CHAIN_RETRY_JITTER_MS",
		"upstream.require_https":     "UPSTREAM_REQUIRE_HTTPS",
		"upstream.dns_timeout_ms":    "UPSTREAM_DNS_TIMEOUT_MS",
		"policy.verify_hash":         "POLICY_VERIFY_HASH",
		"policy.request_timeout_ms":  "AUTHORIZE_TIMEOUT_MS",
		"yield.stable_token":         "STABLE_TOKEN",
		"yield.vault":                "YIELD_VAULT",
		"yield.watch_addresses":      "YIELD_WATCH_ADDRESSES",
		"yield.poll_interval_sec":    "YIELD_POLL_INTERVAL_SEC",
		"yield.history_limit":        "YIELD_HISTORY_LIMIT",
		"yield.store":                "YIELD_STORE",
		"yield.history_file":         "YIELD_HISTORY_FILE",
		"audit.database_url":         "AUDIT_DATABASE_URL",
		"server.port":                "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Chain.MerchantRegistry, "MERCHANT_REGISTRY"},
		{c.Chain.PolicyRegistry, "POLICY_REGISTRY"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("CHAIN_RETRY_ATTEMPTS must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Yield.HistoryLimit < 1 || c.Yield.HistoryLimit > maxHistoryLimit {
		return fmt.Errorf("YIELD_HISTORY_LIMIT must be between 1 and %d, got %d", maxHistoryLimit, c.Yield.HistoryLimit)
	}
	switch c.Yield.Store {
	case "redis", "file":
	default:
		return fmt.Errorf("YIELD_STORE must be redis or file, got %q", c.Yield.Store)
	}
	return nil
}
