package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Overload policies for a text backend that keeps answering 503.
const (
	OverloadAbortRun = "abort_run"
	OverloadStop     = "stop"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	Timezone         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	StoragePath string
	PromptsDir  string
	FontPath    string

	RecordSinks    []string
	SQLitePath     string
	SQLiteBlob     bool
	DatabaseURL    string
	DynamoTable    string
	DynamoEndpoint string
	AWSRegion      string
	KafkaBrokers   []string
	KafkaTopic     string

	TelegramToken   string
	TelegramBaseURL string
	TargetChatID    string
	ProxyURL        string

	PromptProvider      string
	GeminiAPIKeys       []string
	GeminiModel         string
	GeminiBaseURL       string
	OpenAIAPIKeys       []string
	OpenAIModel         string
	OpenAIBaseURL       string
	TextOverloadRetries int
	TextOverloadDelay   time.Duration
	TextOverloadPolicy  string

	MidjourneyAPIToken string
	MidjourneyBaseURL  string
	KandinskyAPIKey    string
	KandinskySecretKey string
	KandinskyBaseURL   string
	BFLAPIKey          string
	BFLBaseURL         string
	QwenAPIURL         string
	YandexOAuthToken   string
	YandexFolderID     string
	GeminiImageModel   string

	EnabledRunners []string
	RunTimeout     time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// Values from .env and .env.local are applied first when the files exist.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		Timezone:         getEnv("TZ", "Local"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		StoragePath: getEnv("STORAGE_PATH", "storage"),
		PromptsDir:  getEnv("PROMPTS_DIR", "prompts"),
		FontPath:    os.Getenv("FONT_PATH"),

		RecordSinks:    getEnvList("RECORD_SINKS", []string{"sqlite"}),
		SQLitePath:     getEnv("SQLITE_PATH", "daily_images.db"),
		SQLiteBlob:     getEnvBool("SQLITE_STORE_BLOB", true),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DynamoTable:    os.Getenv("DYNAMO_TABLE"),
		DynamoEndpoint: os.Getenv("DYNAMO_ENDPOINT"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-2"),
		KafkaBrokers:   getEnvList("KAFKA_BROKERS", nil),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "generation.completed"),

		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		TelegramBaseURL: getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
		TargetChatID:    os.Getenv("TARGET_CHAT_ID"),
		ProxyURL:        os.Getenv("PROXY_URL"),

		PromptProvider:      strings.ToLower(getEnv("PROMPT_PROVIDER", "gemini")),
		GeminiAPIKeys:       getEnvList("GEMINI_API_KEYS", getEnvList("GEMINI_API_KEY", nil)),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-1.5-pro-latest"),
		GeminiBaseURL:       getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OpenAIAPIKeys:       getEnvList("OPENAI_API_KEYS", getEnvList("OPENAI_API_KEY", nil)),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		TextOverloadRetries: getEnvInt("TEXT_OVERLOAD_RETRIES", 3),
		TextOverloadDelay:   getEnvDuration("TEXT_OVERLOAD_DELAY", 30*time.Second),
		TextOverloadPolicy:  strings.ToLower(getEnv("TEXT_OVERLOAD_POLICY", OverloadAbortRun)),

		MidjourneyAPIToken: os.Getenv("MIDJOURNEY_API_TOKEN"),
		MidjourneyBaseURL:  getEnv("MIDJOURNEY_BASE_URL", "https://api.kolersky.com/v1"),
		KandinskyAPIKey:    os.Getenv("KANDINSKY_API_KEY"),
		KandinskySecretKey: os.Getenv("KANDINSKY_SECRET_KEY"),
		KandinskyBaseURL:   getEnv("KANDINSKY_BASE_URL", "https://api-key.fusionbrain.ai"),
		BFLAPIKey:          os.Getenv("BFL_API_KEY"),
		BFLBaseURL:         getEnv("BFL_BASE_URL", "https://api.bfl.ml/v1"),
		QwenAPIURL:         os.Getenv("QWEN_API_URL"),
		YandexOAuthToken:   os.Getenv("OAUTH_TOKEN"),
		YandexFolderID:     os.Getenv("FOLDER_ID"),
		GeminiImageModel:   getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image-preview"),

		EnabledRunners: getEnvList("ENABLED_RUNNERS", nil),
		RunTimeout:     getEnvDuration("RUN_TIMEOUT", 2*time.Hour),
	}

	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if cfg.TargetChatID == "" {
		return nil, fmt.Errorf("TARGET_CHAT_ID is required")
	}
	switch cfg.TextOverloadPolicy {
	case OverloadAbortRun, OverloadStop:
	default:
		return nil, fmt.Errorf("TEXT_OVERLOAD_POLICY must be %q or %q", OverloadAbortRun, OverloadStop)
	}
	if cfg.Port == "off" {
		cfg.Port = ""
	}
	if cfg.TextOverloadRetries < 1 {
		cfg.TextOverloadRetries = 1
	}
	for _, sink := range cfg.RecordSinks {
		switch sink {
		case "sqlite":
		case "postgres":
			if cfg.DatabaseURL == "" {
				return nil, fmt.Errorf("DATABASE_URL is required for the postgres record sink")
			}
		case "dynamo":
			if cfg.DynamoTable == "" {
				return nil, fmt.Errorf("DYNAMO_TABLE is required for the dynamo record sink")
			}
		default:
			return nil, fmt.Errorf("unsupported record sink %q", sink)
		}
	}

	return cfg, nil
}

// RunnerEnabled reports whether the named runner should be scheduled.
// An empty ENABLED_RUNNERS list enables every runner.
func (c *Config) RunnerEnabled(name string) bool {
	if len(c.EnabledRunners) == 0 {
		return true
	}
	for _, n := range c.EnabledRunners {
		if n == name {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	return SplitCSV(v)
}

// SplitCSV splits a comma separated list and drops blank entries.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
