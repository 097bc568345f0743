package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port        string
	Env         string
	APIUrl      string
	FrontendURL string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBTimeZone string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret               string
	JWTAccessTokenDuration  time.Duration
	JWTRefreshTokenDuration time.Duration

	// Admin
	AdminUsername string
	AdminPassword string
	AdminEmail    string

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Backup S3 - object store for device configuration exports
	BackupS3Endpoint        string
	BackupS3Region          string
	BackupS3AccessKeyID     string
	BackupS3SecretAccessKey string
	BackupS3UsePathStyle    bool
	BackupBucket            string

	// Device SSH
	SSHConnectTimeout time.Duration
	SSHCommandTimeout time.Duration
	DefaultSSHPort    int

	// Retention
	RetentionDaily   int
	RetentionWeekly  int
	RetentionMonthly int

	// Device run locks
	DeviceLockTTL time.Duration

	// Scheduled backups
	ScheduledBackupsEnabled bool
	SchedulerPollInterval   time.Duration

	// Alerts
	AlertEmailEnabled bool
	AlertEmailTo      string

	// Security
	BcryptCost        int
	RateLimitRequests int
	RateLimitDuration time.Duration

	// CORS
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

func New() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		APIUrl:      getEnv("API_URL", "http://localhost:8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "routefleet"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "routefleet_db"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),
		DBTimeZone: getEnv("DB_TIMEZONE", "UTC"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// JWT
		JWTSecret:               getEnv("JWT_SECRET", "your-secret-key"),
		JWTAccessTokenDuration:  getEnvAsDuration("JWT_ACCESS_TOKEN_DURATION", "1h"),
		JWTRefreshTokenDuration: getEnvAsDuration("JWT_REFRESH_TOKEN_DURATION", "168h"),

		// Admin
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@routefleet.local"),

		// SMTP
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 465),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "alerts@routefleet.local"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "RouteFleet"),

		// Backup S3
		BackupS3Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupS3Region:          getEnv("BACKUP_S3_REGION", "us-east-1"),
		BackupS3AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		BackupS3SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		BackupS3UsePathStyle:    getEnv("BACKUP_S3_USE_PATH_STYLE", "true") == "true",
		BackupBucket:            getEnv("BACKUP_BUCKET", "routefleet-backups"),

		// Device SSH
		SSHConnectTimeout: getEnvAsDuration("SSH_CONNECT_TIMEOUT", "30s"),
		SSHCommandTimeout: getEnvAsDuration("SSH_COMMAND_TIMEOUT", "120s"),
		DefaultSSHPort:    getEnvAsInt("DEFAULT_SSH_PORT", 22),

		// Retention
		RetentionDaily:   getEnvAsInt("RETENTION_DAILY", 7),
		RetentionWeekly:  getEnvAsInt("RETENTION_WEEKLY", 4),
		RetentionMonthly: getEnvAsInt("RETENTION_MONTHLY", 12),

		// Device run locks
		DeviceLockTTL: getEnvAsDuration("DEVICE_LOCK_TTL", "10m"),

		// Scheduled backups
		ScheduledBackupsEnabled: getEnv("SCHEDULED_BACKUPS_ENABLED", "true") == "true",
		SchedulerPollInterval:   getEnvAsDuration("SCHEDULER_POLL_INTERVAL", "1m"),

		// Alerts
		AlertEmailEnabled: getEnv("ALERT_EMAIL_ENABLED", "false") == "true",
		AlertEmailTo:      getEnv("ALERT_EMAIL_TO", ""),

		// Security
		BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitDuration: getEnvAsDuration("RATE_LIMIT_DURATION", "1m"),

		// CORS
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		AllowedMethods: getEnvAsSlice("ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		AllowedHeaders: getEnvAsSlice("ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}
	return time.Hour
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
