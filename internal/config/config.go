package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NewRelic   NewRelicConfig
	Logger     LoggerConfig
	LocalCache LocalCacheConfig
	Remote     RemoteConfig
	NATS       NATSConfig
	Fare       FareConfig
	Tracking   TrackingConfig
	Sync       SyncConfig
	Metrics    MetricsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration for the remote trip store.
type DatabaseConfig struct {
	Driver   string // postgres (lib/pq) or pgx
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LoggerConfig holds structured logging configuration.
type LoggerConfig struct {
	Level string
}

// LocalCacheConfig selects the on-device key-value store.
type LocalCacheConfig struct {
	Backend    string // redis or sqlite
	SQLitePath string
}

// RemoteConfig selects the durable remote trip store.
type RemoteConfig struct {
	Backend             string // postgres, firebase or none
	FirebaseDatabaseURL string
	FirebaseCredentials string
}

// NATSConfig holds NATS configuration. An empty URL disables NATS.
type NATSConfig struct {
	URL             string
	LocationSubject string
	EventsSubject   string
}

// FareConfig holds the default fare structure for a fresh installation.
type FareConfig struct {
	BaseFare       float64
	BaseDistanceKm float64
	RatePerKm      float64
	Currency       string
}

// TrackingConfig holds location tracking configuration.
type TrackingConfig struct {
	MinMovementKm   float64
	ProviderTimeout time.Duration
	Provider        string // push or nats
}

// SyncConfig controls the background push of unsynced trips.
type SyncConfig struct {
	Interval time.Duration
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// Load loads configuration from environment variables and an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "fare"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "fare-calculator"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		LocalCache: LocalCacheConfig{
			Backend:    getEnv("LOCAL_CACHE_BACKEND", "redis"),
			SQLitePath: getEnv("LOCAL_CACHE_SQLITE_PATH", "fare-local.db"),
		},
		Remote: RemoteConfig{
			Backend:             getEnv("REMOTE_BACKEND", "postgres"),
			FirebaseDatabaseURL: getEnv("FIREBASE_DATABASE_URL", ""),
			FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		NATS: NATSConfig{
			URL:             getEnv("NATS_URL", ""),
			LocationSubject: getEnv("NATS_LOCATION_SUBJECT", "fare.location"),
			EventsSubject:   getEnv("NATS_EVENTS_SUBJECT", "fare.sync"),
		},
		Fare: FareConfig{
			BaseFare:       getFloatEnv("FARE_BASE", 15),
			BaseDistanceKm: getFloatEnv("FARE_BASE_DISTANCE_KM", 4),
			RatePerKm:      getFloatEnv("FARE_RATE_PER_KM", 1),
			Currency:       getEnv("FARE_CURRENCY", "₱"),
		},
		Tracking: TrackingConfig{
			MinMovementKm:   getFloatEnv("TRACKING_MIN_MOVEMENT_KM", 0.01),
			ProviderTimeout: getDurationEnv("TRACKING_PROVIDER_TIMEOUT", 5*time.Second),
			Provider:        getEnv("TRACKING_PROVIDER", "push"),
		},
		Sync: SyncConfig{
			Interval: getDurationEnv("SYNC_INTERVAL", 5*time.Minute),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("METRICS_ENABLED", true),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
