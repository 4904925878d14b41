package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process level configuration. Dynamic policy (feature flags,
// abuse thresholds, rate-limit policy) lives in the settings file instead.
type Server struct {
	Addr         string
	LogLevel     string
	SettingsPath string // empty means built-in defaults
	SettingsTTL  time.Duration

	// AdminSigningKey verifies admin bearer tokens (HS256). Empty rejects
	// every admin request.
	AdminSigningKey string
	CORSOrigins     []string

	AbuseCleanupInterval time.Duration

	Redis    RedisConfig
	Accounts AccountsConfig
	Audit    AuditConfig
}

// RedisConfig configures the redis-backed rate limiter. Empty URL means the
// in-memory limiter is used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AccountsConfig selects the account-status datastore. Empty DSN means the
// in-memory store is used.
type AccountsConfig struct {
	Driver string // pgx, mysql or sqlite
	DSN    string
	Table  string
}

// AuditConfig selects the audit sink. No brokers means audit events are kept in memory.
type AuditConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	BufferSize   int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:                 getString("AUTHGATE_ADDR", ":8080"),
		LogLevel:             getString("AUTHGATE_LOG_LEVEL", "info"),
		SettingsPath:         os.Getenv("AUTHGATE_SETTINGS_PATH"),
		SettingsTTL:          getDuration("AUTHGATE_SETTINGS_TTL", 30*time.Second),
		AdminSigningKey:      os.Getenv("AUTHGATE_ADMIN_SIGNING_KEY"),
		CORSOrigins:          getList("AUTHGATE_CORS_ORIGINS"),
		AbuseCleanupInterval: getDuration("AUTHGATE_ABUSE_CLEANUP_INTERVAL", 10*time.Minute),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Accounts: AccountsConfig{
			Driver: getString("ACCOUNTS_DB_DRIVER", "pgx"),
			DSN:    os.Getenv("ACCOUNTS_DB_DSN"),
			Table:  getString("ACCOUNTS_DB_TABLE", "users"),
		},
		Audit: AuditConfig{
			KafkaBrokers: getList("AUDIT_KAFKA_BROKERS"),
			KafkaTopic:   getString("AUDIT_KAFKA_TOPIC", "authgate.audit"),
			BufferSize:   getInt("AUDIT_BUFFER_SIZE", 1024),
		},
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
