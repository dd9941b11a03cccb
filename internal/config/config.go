package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	Node        string

	LogLevel  string
	LogFormat string

	OTLPEndpoint string

	HTTPAddr         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	SyncAPIToken     string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBDebug           bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SnowflakeNode int64

	UploadDir   string
	TempDir     string
	UploadRate  float64
	UploadBurst int

	SchedulerInterval time.Duration
	SchedulerJobs     string

	// Defaults written by params-init when the parameter is absent.
	DefaultServerAddress string
	DefaultLocationCode  string
}

const (
	NodeLocation = "location"
	NodeAdmin    = "admin"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewSyncConfigHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "possync"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		Node:        normalizeNode(getenv("POSSYNC_NODE", NodeLocation)),

		LogLevel:  strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat: strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),

		OTLPEndpoint: strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),

		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		HTTPReadTimeout:  getenvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
		HTTPWriteTimeout: getenvDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
		SyncAPIToken:     strings.TrimSpace(getenv("SYNC_API_TOKEN", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "possync"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "possync.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBDebug:           getenvBool("DATABASE_DEBUG", false),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),

		UploadDir:   getenv("SYNC_UPLOAD_DIR", "var/sync"),
		TempDir:     getenv("SYNC_TEMP_DIR", os.TempDir()),
		UploadRate:  getenvFloat("SYNC_UPLOAD_RATE", 1),
		UploadBurst: int(getenvInt64("SYNC_UPLOAD_BURST", 30)),

		SchedulerInterval: getenvDuration("SYNC_SCHEDULER_INTERVAL", 0),
		SchedulerJobs:     getenv("SYNC_SCHEDULER_JOBS", ""),

		DefaultServerAddress: strings.TrimSpace(getenv("SYNC_SERVER_ADDRESS", "")),
		DefaultLocationCode:  strings.TrimSpace(getenv("LOCATION_CODE", "")),
	}

	return cfg
}

func (c Config) IsAdmin() bool {
	return c.Node == NodeAdmin
}

func normalizeNode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case NodeAdmin, "main":
		return NodeAdmin
	default:
		return NodeLocation
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
