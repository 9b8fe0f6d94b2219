package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string
	AccessTTL     time.Duration
	CORSOrigin    string
	Debug         bool
	AppURL        string
	// Redis directory cache
	RedisURL          string
	DirectoryCacheTTL time.Duration
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// Notification dispatch
	NotifyQueueConnection string
	NotifyQueueName       string
	NotifyWorkers         int
	NotifyBuffer          int
	NotifyTimeout         time.Duration
	// First admin account, created when the directory has none
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
	BootstrapAdminName     string
}

func Load() Config {
	return Config{
		Addr:          getenv("API_ADDR", ":8787"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("TASKFLOW_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:     getenv("TASKFLOW_JWT_SECRET", "taskflow-dev-secret"),
		AccessTTL:     time.Duration(getenvInt("TASKFLOW_ACCESS_TTL_SECONDS", 3600)) * time.Second,
		CORSOrigin:    getenv("TASKFLOW_CORS_ORIGIN", "*"),
		Debug:         getenvBool("TASKFLOW_DEBUG", false),
		AppURL:        getenv("TASKFLOW_APP_URL", "http://localhost:5173"),
		// Redis - directory cache disabled if empty
		RedisURL:          getenv("REDIS_URL", ""),
		DirectoryCacheTTL: getenvDuration("TASKFLOW_DIRECTORY_CACHE_TTL", 5*time.Minute),
		MeiliURL:          getenv("MEILI_URL", ""),
		MeiliMasterKey:    getenv("MEILI_MASTER_KEY", "taskflow-meili-key"),
		// SMTP - empty by default, email disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Taskflow"),
		// Queue sink disabled if either value is empty
		NotifyQueueConnection: getenv("NOTIFY_QUEUE_CONNECTION_STRING", ""),
		NotifyQueueName:       getenv("NOTIFY_QUEUE_NAME", "workflow-events"),
		NotifyWorkers:         getenvInt("NOTIFY_WORKERS", 4),
		NotifyBuffer:          getenvInt("NOTIFY_BUFFER", 1024),
		NotifyTimeout:         getenvDuration("NOTIFY_TIMEOUT", 15*time.Second),

		BootstrapAdminEmail:    getenv("TASKFLOW_BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword: getenv("TASKFLOW_BOOTSTRAP_ADMIN_PASSWORD", ""),
		BootstrapAdminName:     getenv("TASKFLOW_BOOTSTRAP_ADMIN_NAME", "Administrator"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
