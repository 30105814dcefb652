// Package config loads the gateway's YAML configuration file, overridable
// by environment variables for secrets, matching the reference codebase's
// deployment config split (YAML for shape, env for anything that touches a
// credential).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Upstream holds §6's upstream.* keys.
type Upstream struct {
	TimeoutSeconds          int `yaml:"timeout_seconds"`
	MaxRetries              int `yaml:"max_retries"`
	MaxKeepaliveConnections int `yaml:"max_keepalive_connections"`
	MaxConnections          int `yaml:"max_connections"`
}

// Proxy holds §6's proxy.* keys.
type Proxy struct {
	ForwardAuthorization bool     `yaml:"forward_authorization"`
	BlockedHeaders       []string `yaml:"blocked_headers"`
}

// Config is the full recognised configuration surface (§6).
type Config struct {
	Upstream             Upstream `yaml:"upstream"`
	Proxy                Proxy    `yaml:"proxy"`
	FailMode             string   `yaml:"fail_mode"`
	DecisionTimeoutMs    int      `yaml:"decision_timeout_ms"`
	PolicyCacheTTLSecs   int      `yaml:"policy_cache_ttl_seconds"`
	ListenAddr           string   `yaml:"listen_addr"`
	MetricsAddr          string   `yaml:"metrics_addr"`

	// Secrets, populated from the environment, never from YAML.
	DatabaseURL string `yaml:"-"`
	RedisURL    string `yaml:"-"`
	HMACSecret  string `yaml:"-"`
}

// Default returns the documented defaults from §6.
func Default() Config {
	return Config{
		Upstream: Upstream{
			TimeoutSeconds:          30,
			MaxRetries:              2,
			MaxKeepaliveConnections: 20,
			MaxConnections:          100,
		},
		Proxy: Proxy{
			BlockedHeaders: []string{"cookie", "set-cookie"},
		},
		FailMode:           "closed",
		DecisionTimeoutMs:  5000,
		PolicyCacheTTLSecs: 10,
		ListenAddr:         ":8080",
		MetricsAddr:        ":9090",
	}
}

// Load reads a YAML config file over the documented defaults, then layers
// environment variables for secrets (DATABASE_URL, REDIS_URL,
// GATEWAY_HMAC_SECRET).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.HMACSecret = os.Getenv("GATEWAY_HMAC_SECRET")

	return cfg, nil
}

// UpstreamTimeout returns the configured upstream timeout as a
// time.Duration.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// DecisionTimeout returns §6's decision_timeout_ms as a time.Duration.
// cmd/gateway adds it to UpstreamTimeout as the pipeline budget, and the
// sum is the per-request deadline.
func (c Config) DecisionTimeout() time.Duration {
	return time.Duration(c.DecisionTimeoutMs) * time.Millisecond
}

// PolicyCacheTTL returns the policy cache TTL as a time.Duration.
func (c Config) PolicyCacheTTL() time.Duration {
	return time.Duration(c.PolicyCacheTTLSecs) * time.Second
}

// BlockedHeaderSet returns Proxy.BlockedHeaders as a lowercase lookup set.
func (c Config) BlockedHeaderSet() map[string]bool {
	set := make(map[string]bool, len(c.Proxy.BlockedHeaders))
	for _, h := range c.Proxy.BlockedHeaders {
		set[lower(h)] = true
	}
	return set
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
