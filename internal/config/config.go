package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the agent.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Workflow  WorkflowConfig
	Chat      ChatConfig
	DocStore  DocStoreDefaults
	Scheduler SchedulerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// WorkflowConfig points at the hosted LLM flow service.
type WorkflowConfig struct {
	BaseURL        string
	FlowID         string
	TriggerFlowID  string
	APIKey         string
	InputSlotID    string
	TimeoutSeconds int
}

// ChatConfig holds chat-platform credentials and surface settings.
type ChatConfig struct {
	BotToken      string
	SigningSecret string
	APIBaseURL    string
	AdminUserIDs  []string
	MarkEmoji     string
	PendingEmoji  string
	ApprovedEmoji string
	RejectedEmoji string
}

// DocStoreDefaults is the shared document-store service identity. Per-user
// records may override only the folder id and account email.
type DocStoreDefaults struct {
	ProjectID           string
	ServiceAccountEmail string
	PrivateKey          string
	PrivateKeyID        string
	ClientID            string
	FolderID            string
	FolderName          string
	FileFilter          string
}

// SchedulerConfig controls the background document poller.
type SchedulerConfig struct {
	IntervalMinutes int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-agent"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Workflow: WorkflowConfig{
			BaseURL:        strings.TrimRight(os.Getenv("WORKFLOW_BASE_URL"), "/"),
			FlowID:         os.Getenv("WORKFLOW_FLOW_ID"),
			TriggerFlowID:  os.Getenv("WORKFLOW_TRIGGER_FLOW_ID"),
			APIKey:         os.Getenv("WORKFLOW_API_KEY"),
			InputSlotID:    getEnv("WORKFLOW_INPUT_SLOT_ID", "ChatInput-main"),
			TimeoutSeconds: getEnvAsInt("WORKFLOW_TIMEOUT_SECONDS", 300),
		},
		Chat: ChatConfig{
			BotToken:      os.Getenv("CHAT_BOT_TOKEN"),
			SigningSecret: os.Getenv("CHAT_SIGNING_SECRET"),
			APIBaseURL:    getEnv("CHAT_API_BASE_URL", "https://slack.com/api"),
			AdminUserIDs:  splitCSV(os.Getenv("CHAT_ADMIN_USER_IDS")),
			MarkEmoji:     getEnv("CHAT_MARK_EMOJI", "ticket"),
			PendingEmoji:  getEnv("CHAT_PENDING_EMOJI", "eyes"),
			ApprovedEmoji: getEnv("CHAT_APPROVED_EMOJI", "white_check_mark"),
			RejectedEmoji: getEnv("CHAT_REJECTED_EMOJI", "x"),
		},
		DocStore: DocStoreDefaults{
			ProjectID:           os.Getenv("DOCSTORE_PROJECT_ID"),
			ServiceAccountEmail: os.Getenv("DOCSTORE_SERVICE_ACCOUNT_EMAIL"),
			PrivateKey:          os.Getenv("DOCSTORE_PRIVATE_KEY"),
			PrivateKeyID:        os.Getenv("DOCSTORE_PRIVATE_KEY_ID"),
			ClientID:            os.Getenv("DOCSTORE_CLIENT_ID"),
			FolderID:            os.Getenv("DOCSTORE_FOLDER_ID"),
			FolderName:          os.Getenv("DOCSTORE_FOLDER_NAME"),
			FileFilter:          os.Getenv("DOCSTORE_FILE_FILTER"),
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: getEnvAsInt("SCHEDULER_INTERVAL_MINUTES", 15),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout returns the workflow call deadline.
func (w WorkflowConfig) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// Interval returns the poll interval duration.
func (s SchedulerConfig) Interval() time.Duration {
	if s.IntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// IsAdmin reports whether the user may run admin subcommands. With no admins
// configured, everyone is allowed.
func (c ChatConfig) IsAdmin(userID string) bool {
	if len(c.AdminUserIDs) == 0 {
		return true
	}
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func splitCSV(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
