package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/tiktoken-go/tokenizer"

	"github.com/boerz-coding/camel/internal/auth"
	"github.com/boerz-coding/camel/internal/tokens"
)

// EnvPrefix prefixes environment overrides, e.g. TOKEND_SERVER__PORT=9000.
const EnvPrefix = "TOKEND_"

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Storage   StorageConfig   `koanf:"storage"`
	Counting  CountingConfig  `koanf:"counting"`
	Budget    BudgetConfig    `koanf:"budget"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Auth      AuthConfig      `koanf:"auth"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeout is a duration string like "30s".
	RequestTimeout string `koanf:"request_timeout"`
	// RateLimitPerMinute caps requests per client IP; 0 disables limiting.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// CountingConfig selects the overhead table used for counting.
type CountingConfig struct {
	Version string `koanf:"version"`
	// AllowEstimate enables the character-based estimator for models
	// without a rule instead of failing.
	AllowEstimate bool `koanf:"allow_estimate"`
	// ExtendDefaults keeps the built-in rules and adds Rules on top; a rule
	// with a built-in name replaces it.
	ExtendDefaults bool         `koanf:"extend_defaults"`
	Rules          []RuleConfig `koanf:"rules"`
}

type RuleConfig struct {
	Name                    string   `koanf:"name"`
	Models                  []string `koanf:"models"`
	Prefixes                []string `koanf:"prefixes"`
	Encoding                string   `koanf:"encoding"`
	TokensPerMessage        int      `koanf:"tokens_per_message"`
	TokensPerName           int      `koanf:"tokens_per_name"`
	TokensPerToolCall       int      `koanf:"tokens_per_tool_call"`
	TokensPerToolDefinition int      `koanf:"tokens_per_tool_definition"`
	ReplyPriming            int      `koanf:"reply_priming"`
	ContextWindow           int      `koanf:"context_window"`
}

type BudgetConfig struct {
	ReserveCompletionTokens int `koanf:"reserve_completion_tokens"`
}

type TelemetryConfig struct {
	ServiceName string  `koanf:"service_name"`
	Exporter    string  `koanf:"exporter"` // stdout, none
	SampleRatio float64 `koanf:"sample_ratio"`
}

type MetricsConfig struct {
	// Enabled serves Prometheus metrics on /metrics.
	Enabled bool `koanf:"enabled"`
}

// AuthConfig lists the API keys accepted on /v1/tokens. No keys leaves the
// API open.
type AuthConfig struct {
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"` // hex SHA-256 of the key
	Description string `koanf:"description"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (DefaultPath when empty), then applies TOKEND_ environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	// Try to load from the config file first
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]any{
		"server.port":                      8080,
		"server.request_timeout":           "30s",
		"log.level":                        "info",
		"storage.type":                     "memory",
		"storage.sqlite.path":              "./data/tokend.db",
		"budget.reserve_completion_tokens": 1024,
		"telemetry.service_name":           "tokend",
		"telemetry.exporter":               "none",
		"metrics.enabled":                  true,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Storage.SQLite.Path = substituteEnvVars(cfg.Storage.SQLite.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Port 0 asks the OS for a free port.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if _, err := c.RequestTimeout(); err != nil {
		return err
	}
	if c.Server.RateLimitPerMinute < 0 {
		return errors.New("config: server.rate_limit_per_minute must be >= 0")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Storage.Type {
	case "none", "memory":
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return errors.New("config: storage.sqlite.path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("config: unknown storage.type %q", c.Storage.Type)
	}
	if c.Budget.ReserveCompletionTokens < 0 {
		return errors.New("config: budget.reserve_completion_tokens must be >= 0")
	}
	switch c.Telemetry.Exporter {
	case "stdout", "none":
	default:
		return fmt.Errorf("config: unknown telemetry.exporter %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("config: telemetry.sample_ratio must be between 0 and 1")
	}
	for i, key := range c.Auth.APIKeys {
		if !auth.ValidHash(key.KeyHash) {
			return fmt.Errorf("config: auth.api_keys[%d].key_hash must be a hex SHA-256 digest", i)
		}
	}
	if _, err := c.RuleSet(); err != nil {
		return fmt.Errorf("config: counting: %w", err)
	}
	return nil
}

// Authenticator builds the API key authenticator, or nil when no keys are
// configured.
func (c *Config) Authenticator() *auth.Authenticator {
	if len(c.Auth.APIKeys) == 0 {
		return nil
	}
	keys := make([]auth.APIKey, len(c.Auth.APIKeys))
	for i, kc := range c.Auth.APIKeys {
		keys[i] = auth.APIKey{KeyHash: kc.KeyHash, Description: kc.Description}
	}
	return auth.NewAuthenticator(keys)
}

// RequestTimeout parses server.request_timeout.
func (c *Config) RequestTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Server.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: server.request_timeout: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("config: server.request_timeout must be positive")
	}
	return d, nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}

// RuleSet builds the counting rule table from the counting section.
func (c *Config) RuleSet() (*tokens.RuleSet, error) {
	if len(c.Counting.Rules) == 0 {
		// The built-in table keeps its own version so responses never claim
		// a custom label for unchanged overheads.
		if v := c.Counting.Version; v != "" && v != tokens.DefaultRulesVersion {
			return nil, fmt.Errorf("version %q requires counting.rules; the built-in rules are %s",
				v, tokens.DefaultRulesVersion)
		}
		return tokens.DefaultRuleSet(), nil
	}

	var rules []tokens.Rule
	if c.Counting.ExtendDefaults {
		rules = tokens.DefaultRules()
	}
	for _, rc := range c.Counting.Rules {
		rule := rc.toRule()
		replaced := false
		for i := range rules {
			if rules[i].Name == rule.Name {
				rules[i] = rule
				replaced = true
				break
			}
		}
		if !replaced {
			rules = append(rules, rule)
		}
	}

	version := c.Counting.Version
	if version == "" {
		version = "custom"
	}
	return tokens.NewRuleSet(version, rules)
}

func (rc RuleConfig) toRule() tokens.Rule {
	return tokens.Rule{
		Name:                    rc.Name,
		Models:                  rc.Models,
		Prefixes:                rc.Prefixes,
		Encoding:                tokenizer.Encoding(rc.Encoding),
		TokensPerMessage:        rc.TokensPerMessage,
		TokensPerName:           rc.TokensPerName,
		TokensPerToolCall:       rc.TokensPerToolCall,
		TokensPerToolDefinition: rc.TokensPerToolDefinition,
		ReplyPriming:            rc.ReplyPriming,
		ContextWindow:           rc.ContextWindow,
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
