package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol).
	// All providers (openai, deepseek, zai, ollama) use the same config.
	LLMProvider string // Provider identifier: openai, deepseek, zai, ollama
	LLMAPIKey   string
	LLMBaseURL  string // Optional, has a default per provider
	LLMModel    string
	LLMTimeout  int // LLM request timeout in seconds (default: 120)

	// Cache tuning.
	CacheTTL           int // seconds an entry stays valid (default: 300)
	CacheSweepInterval int // seconds between sweeper passes (default: 60)

	// Outbound batching.
	BatchIntervalMs    int // max age of a queued message before flush (default: 100)
	MaxBatchSize       int // queue length that forces a flush (default: 20)
	ContentTruncateLen int // content longer than this is truncated on flush (default: 1000)

	// Presence tracking.
	HeartbeatTimeout int // seconds without a heartbeat before a user goes offline (default: 30)
	MonitorInterval  int // seconds between presence sweeps (default: 10)

	// Proactive expression.
	ExpressionThreshold float64 // priority score at which expression fires (default: 0.7)
	ExpressionCooldown  int     // seconds between expressions per user (default: 300)
	MonitoringInterval  int     // seconds between integrator ticks (default: 60)

	// Offline accumulation.
	OfflineSpoolCap        int // spooled messages kept per offline user (default: 100)
	OfflineNotificationCap int // typed notifications kept per offline user (default: 100)

	// Bulk read fan-in.
	BatchSize int // max ids per parallel storage request (default: 50)

	// Delivery channels.
	TelegramBotToken string
	WebhookURL       string // optional external webhook channel target

	// Server.
	Mode        string // demo, dev or prod
	Addr        string
	Port        int
	Data        string
	Driver      string // sqlite, postgres, httpdoc or memory
	DSN         string
	InstanceURL string
	Version     string
}

// Provider default configurations for LLM.
// Used when PRIZM_AI_LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured.
// Ollama runs without a key, so the provider alone is enough there.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("PRIZM_AI_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("PRIZM_AI_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("PRIZM_AI_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("PRIZM_AI_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("PRIZM_AI_LLM_TIMEOUT_SECONDS", 120)

	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("unknown LLM provider, using default: openai", "provider", p.LLMProvider)
			p.LLMProvider = "openai"
		}
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.CacheTTL = getEnvOrDefaultInt("PRIZM_CACHE_TTL_SECONDS", 300)
	p.CacheSweepInterval = getEnvOrDefaultInt("PRIZM_CACHE_SWEEP_INTERVAL_SECONDS", 60)

	p.BatchIntervalMs = getEnvOrDefaultInt("PRIZM_OPTIMIZER_BATCH_INTERVAL_MS", 100)
	p.MaxBatchSize = getEnvOrDefaultInt("PRIZM_OPTIMIZER_MAX_BATCH_SIZE", 20)
	p.ContentTruncateLen = getEnvOrDefaultInt("PRIZM_OPTIMIZER_CONTENT_TRUNCATE_CHARS", 1000)

	p.HeartbeatTimeout = getEnvOrDefaultInt("PRIZM_PRESENCE_HEARTBEAT_TIMEOUT_SECONDS", 30)
	p.MonitorInterval = getEnvOrDefaultInt("PRIZM_PRESENCE_MONITOR_INTERVAL_SECONDS", 10)

	p.ExpressionThreshold = getEnvOrDefaultFloat("PRIZM_FREQUENCY_EXPRESSION_THRESHOLD", 0.7)
	p.ExpressionCooldown = getEnvOrDefaultInt("PRIZM_FREQUENCY_COOLDOWN_SECONDS", 300)
	p.MonitoringInterval = getEnvOrDefaultInt("PRIZM_FREQUENCY_MONITORING_INTERVAL_SECONDS", 60)

	p.OfflineSpoolCap = getEnvOrDefaultInt("PRIZM_OFFLINE_SPOOL_CAP", 100)
	p.OfflineNotificationCap = getEnvOrDefaultInt("PRIZM_OFFLINE_MAX_NOTIFICATIONS_PER_USER", 100)

	p.BatchSize = getEnvOrDefaultInt("PRIZM_BATCH_SIZE", 50)

	p.TelegramBotToken = getEnvOrDefault("PRIZM_TELEGRAM_BOT_TOKEN", "")
	p.WebhookURL = getEnvOrDefault("PRIZM_WEBHOOK_URL", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.Driver {
	case "sqlite", "postgres", "httpdoc", "memory":
	case "":
		p.Driver = "sqlite"
	default:
		return errors.Errorf("unsupported storage driver %q", p.Driver)
	}

	// Memory and httpdoc backends need no data directory.
	if p.Driver == "memory" || (p.Driver == "httpdoc" && p.Data == "") {
		return nil
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "prizm")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/prizm"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data directory", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("prizm_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}
