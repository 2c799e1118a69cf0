package profile

import (
	"os"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	clearPrizmEnvVars()

	p := &Profile{}
	p.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"LLMProvider default", "openai", p.LLMProvider},
		{"LLMBaseURL default", "https://api.openai.com/v1", p.LLMBaseURL},
		{"LLMModel default", "gpt-4o", p.LLMModel},
		{"LLMAPIKey default", "", p.LLMAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	intTests := []struct {
		name     string
		expected int
		actual   int
	}{
		{"LLMTimeout default", 120, p.LLMTimeout},
		{"CacheTTL default", 300, p.CacheTTL},
		{"CacheSweepInterval default", 60, p.CacheSweepInterval},
		{"BatchIntervalMs default", 100, p.BatchIntervalMs},
		{"MaxBatchSize default", 20, p.MaxBatchSize},
		{"ContentTruncateLen default", 1000, p.ContentTruncateLen},
		{"HeartbeatTimeout default", 30, p.HeartbeatTimeout},
		{"MonitorInterval default", 10, p.MonitorInterval},
		{"ExpressionCooldown default", 300, p.ExpressionCooldown},
		{"MonitoringInterval default", 60, p.MonitoringInterval},
		{"OfflineSpoolCap default", 100, p.OfflineSpoolCap},
		{"OfflineNotificationCap default", 100, p.OfflineNotificationCap},
		{"BatchSize default", 50, p.BatchSize},
	}
	for _, tt := range intTests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %d, got %d", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if p.ExpressionThreshold != 0.7 {
		t.Errorf("ExpressionThreshold: expected 0.7, got %v", p.ExpressionThreshold)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "LLM provider deepseek picks deepseek defaults",
			envVar:   "PRIZM_AI_LLM_PROVIDER",
			envValue: "deepseek",
			field:    func(p *Profile) string { return p.LLMBaseURL },
			expected: "https://api.deepseek.com",
		},
		{
			name:     "explicit model wins over provider default",
			envVar:   "PRIZM_AI_LLM_MODEL",
			envValue: "gpt-4o-mini",
			field:    func(p *Profile) string { return p.LLMModel },
			expected: "gpt-4o-mini",
		},
		{
			name:     "API key is read",
			envVar:   "PRIZM_AI_LLM_API_KEY",
			envValue: "test-key",
			field:    func(p *Profile) string { return p.LLMAPIKey },
			expected: "test-key",
		},
		{
			name:     "unknown provider falls back to openai",
			envVar:   "PRIZM_AI_LLM_PROVIDER",
			envValue: "not-a-provider",
			field:    func(p *Profile) string { return p.LLMProvider },
			expected: "openai",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearPrizmEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			p := &Profile{}
			p.FromEnv()

			if actual := tt.field(p); actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestValidateDriver(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{"memory is accepted", "memory", false},
		{"empty defaults to sqlite", "", false},
		{"unknown is rejected", "surrealdb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Profile{Mode: "dev", Driver: tt.driver, Data: t.TempDir()}
			err := p.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("expected error for driver %q", tt.driver)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for driver %q: %v", tt.driver, err)
			}
		})
	}
}

func TestValidateSQLiteDSN(t *testing.T) {
	dir := t.TempDir()
	p := &Profile{Mode: "dev", Driver: "sqlite", Data: dir}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DSN == "" {
		t.Error("expected a generated sqlite DSN")
	}
}

// clearPrizmEnvVars clears all configuration environment variables.
func clearPrizmEnvVars() {
	suffixes := []string{
		"AI_LLM_PROVIDER",
		"AI_LLM_API_KEY",
		"AI_LLM_BASE_URL",
		"AI_LLM_MODEL",
		"AI_LLM_TIMEOUT_SECONDS",
		"CACHE_TTL_SECONDS",
		"CACHE_SWEEP_INTERVAL_SECONDS",
		"OPTIMIZER_BATCH_INTERVAL_MS",
		"OPTIMIZER_MAX_BATCH_SIZE",
		"OPTIMIZER_CONTENT_TRUNCATE_CHARS",
		"PRESENCE_HEARTBEAT_TIMEOUT_SECONDS",
		"PRESENCE_MONITOR_INTERVAL_SECONDS",
		"FREQUENCY_EXPRESSION_THRESHOLD",
		"FREQUENCY_COOLDOWN_SECONDS",
		"FREQUENCY_MONITORING_INTERVAL_SECONDS",
		"OFFLINE_SPOOL_CAP",
		"OFFLINE_MAX_NOTIFICATIONS_PER_USER",
		"BATCH_SIZE",
		"TELEGRAM_BOT_TOKEN",
		"WEBHOOK_URL",
	}
	for _, suffix := range suffixes {
		os.Unsetenv("PRIZM_" + suffix)
	}
}
