package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boerz-coding/camel/internal/auth"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(missing)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 8080 {
			t.Errorf("Load() port = %v, want 8080", cfg.Server.Port)
		}
		if cfg.Storage.Type != "memory" {
			t.Errorf("Load() storage.type = %q, want memory", cfg.Storage.Type)
		}
		if cfg.Budget.ReserveCompletionTokens != 1024 {
			t.Errorf("Load() reserve = %d, want 1024", cfg.Budget.ReserveCompletionTokens)
		}
		if d, _ := cfg.RequestTimeout(); d != 30*time.Second {
			t.Errorf("RequestTimeout() = %v, want 30s", d)
		}
		if !cfg.Metrics.Enabled || cfg.Server.RateLimitPerMinute != 0 {
			t.Errorf("Load() metrics = %+v, rate limit = %d, want metrics on and no limit",
				cfg.Metrics, cfg.Server.RateLimitPerMinute)
		}
		if cfg.Telemetry.Exporter != "none" || cfg.Telemetry.ServiceName != "tokend" {
			t.Errorf("Load() telemetry = %+v, want none exporter for tokend", cfg.Telemetry)
		}
		if level, _ := cfg.LogLevel(); level != slog.LevelInfo {
			t.Errorf("LogLevel() = %v, want INFO", level)
		}

		rs, err := cfg.RuleSet()
		if err != nil {
			t.Fatalf("RuleSet() error = %v", err)
		}
		if rs.Version() != "openai-2025-01" {
			t.Errorf("RuleSet().Version() = %q, want built-in version", rs.Version())
		}
	})

	t.Run("env var port override", func(t *testing.T) {
		t.Setenv("TOKEND_SERVER__PORT", "9000")
		t.Setenv("TOKEND_METRICS__ENABLED", "false")
		t.Setenv("TOKEND_LOG__LEVEL", "debug")

		cfg, err := Load(missing)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("Load() port = %v, want 9000", cfg.Server.Port)
		}
		if cfg.Metrics.Enabled {
			t.Error("Load() metrics.enabled = true, want env override false")
		}
		if level, _ := cfg.LogLevel(); level != slog.LevelDebug {
			t.Errorf("LogLevel() = %v, want DEBUG", level)
		}
	})

	t.Run("file with custom rules", func(t *testing.T) {
		t.Setenv("TOKEND_DATA", "/var/lib/tokend")
		path := writeConfig(t, `
server:
  port: 7070
storage:
  type: sqlite
  sqlite:
    path: ${TOKEND_DATA}/usage.db
counting:
  version: acme-7
  allow_estimate: true
  rules:
    - name: acme
      prefixes: ["acme-"]
      encoding: cl100k_base
      tokens_per_message: 5
      tokens_per_name: 1
      tokens_per_tool_call: 4
      reply_priming: 2
      context_window: 32000
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 7070 {
			t.Errorf("port = %d, want 7070", cfg.Server.Port)
		}
		if cfg.Storage.SQLite.Path != "/var/lib/tokend/usage.db" {
			t.Errorf("sqlite path = %q, want substituted path", cfg.Storage.SQLite.Path)
		}
		if !cfg.Counting.AllowEstimate {
			t.Error("allow_estimate = false, want true")
		}

		rs, err := cfg.RuleSet()
		if err != nil {
			t.Fatalf("RuleSet() error = %v", err)
		}
		if rs.Version() != "acme-7" {
			t.Errorf("Version() = %q, want acme-7", rs.Version())
		}
		rule, err := rs.Lookup("acme-large")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if rule.TokensPerMessage != 5 || rule.ReplyPriming != 2 || rule.ContextWindow != 32000 {
			t.Errorf("rule = %+v, want configured overheads", rule)
		}
		if rs.Supports("gpt-4") {
			t.Error("custom rules without extend_defaults should not include built-ins")
		}
	})

	t.Run("default version named explicitly", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "counting:\n  version: openai-2025-01\n"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		rs, err := cfg.RuleSet()
		if err != nil {
			t.Fatalf("RuleSet() error = %v", err)
		}
		if rs.Version() != "openai-2025-01" {
			t.Errorf("Version() = %q, want the built-in version", rs.Version())
		}
	})

	t.Run("extend defaults", func(t *testing.T) {
		path := writeConfig(t, `
counting:
  extend_defaults: true
  rules:
    - name: gpt-4
      prefixes: ["gpt-4"]
      encoding: cl100k_base
      tokens_per_message: 3
      tokens_per_name: 1
      tokens_per_tool_call: 3
      reply_priming: 3
      context_window: 9000
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		rs, err := cfg.RuleSet()
		if err != nil {
			t.Fatalf("RuleSet() error = %v", err)
		}
		rule, err := rs.Lookup("gpt-4")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if rule.ContextWindow != 9000 {
			t.Errorf("ContextWindow = %d, want the override 9000", rule.ContextWindow)
		}
		if !rs.Supports("gpt-4o") {
			t.Error("built-in rules should remain with extend_defaults")
		}
	})
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown storage",
			body:    "storage:\n  type: redis\n",
			wantErr: "storage.type",
		},
		{
			name:    "bad log level",
			body:    "log:\n  level: loud\n",
			wantErr: "log.level",
		},
		{
			name:    "bad timeout",
			body:    "server:\n  request_timeout: soon\n",
			wantErr: "request_timeout",
		},
		{
			name:    "negative rate limit",
			body:    "server:\n  rate_limit_per_minute: -1\n",
			wantErr: "rate_limit_per_minute",
		},
		{
			name:    "unknown exporter",
			body:    "telemetry:\n  exporter: zipkin\n",
			wantErr: "telemetry.exporter",
		},
		{
			name:    "sample ratio above one",
			body:    "telemetry:\n  sample_ratio: 1.5\n",
			wantErr: "sample_ratio",
		},
		{
			name:    "bad key hash",
			body:    "auth:\n  api_keys:\n    - key_hash: sk-plaintext\n",
			wantErr: "auth.api_keys[0].key_hash",
		},
		{
			name:    "version without rules",
			body:    "counting:\n  version: acme-9\n",
			wantErr: "requires counting.rules",
		},
		{
			name:    "negative reserve",
			body:    "budget:\n  reserve_completion_tokens: -5\n",
			wantErr: "reserve_completion_tokens",
		},
		{
			name: "negative reply priming",
			body: `
counting:
  rules:
    - name: bad
      prefixes: ["bad-"]
      encoding: cl100k_base
      reply_priming: -1
`,
			wantErr: "reply_priming",
		},
		{
			name: "unknown encoding",
			body: `
counting:
  rules:
    - name: bad
      prefixes: ["bad-"]
      encoding: gpt2
`,
			wantErr: "unknown encoding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Authenticator(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Authenticator() != nil {
		t.Error("Authenticator() != nil without configured keys")
	}

	path := writeConfig(t, "auth:\n  api_keys:\n    - key_hash: "+auth.HashAPIKey("sk-ci")+"\n      description: ci\n")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	a := cfg.Authenticator()
	if a == nil {
		t.Fatal("Authenticator() = nil, want configured keys")
	}
	key, err := a.ValidateAPIKey("sk-ci")
	if err != nil || key.Description != "ci" {
		t.Errorf("ValidateAPIKey() = %+v, %v, want the ci key", key, err)
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "${TEST_VAR}",
			want:  "test-value",
		},
		{
			name:  "substitution in string",
			input: "prefix-${TEST_VAR}-suffix",
			want:  "prefix-test-value-suffix",
		},
		{
			name:  "no substitution",
			input: "plain-string",
			want:  "plain-string",
		},
		{
			name:  "undefined var",
			input: "${UNDEFINED_VAR}",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars() = %v, want %v", got, tt.want)
			}
		})
	}
}
