package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL string
	ServerAddr  string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
	// KafkaSubscriptions filters which routing keys the broker bridge feeds
	// back into the bus; empty accepts everything.
	KafkaSubscriptions []string

	JWTSecret string

	PresenceWindow    time.Duration
	PresenceSweepAge  time.Duration
	EventRetention    time.Duration
	SchedulerInterval time.Duration
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "pulsecrm")
		pass := getenv("POSTGRES_PASSWORD", "pulsecrm_pass")
		db := getenv("POSTGRES_DB", "pulsecrm")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		DatabaseURL:        dsn,
		ServerAddr:         getenv("SERVER_ADDR", "0.0.0.0:8080"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getenv("KAFKA_TOPIC", "pulsecrm.sync"),
		KafkaGroupID:       getenv("KAFKA_GROUP_ID", "pulsecrm-sync"),
		KafkaSubscriptions: splitList(os.Getenv("KAFKA_SUBSCRIPTIONS")),
		JWTSecret:          secret,
		PresenceWindow:     parseDuration(getenv("PRESENCE_WINDOW", "5m"), 5*time.Minute),
		PresenceSweepAge:   parseDuration(getenv("PRESENCE_SWEEP_AGE", "1h"), time.Hour),
		EventRetention:     parseDuration(getenv("EVENT_RETENTION", "720h"), 720*time.Hour),
		SchedulerInterval:  parseDuration(getenv("SCHEDULER_INTERVAL", "5s"), 5*time.Second),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}
