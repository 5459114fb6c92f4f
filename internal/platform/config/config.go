package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
}

type Log struct {
	Level  string
	Format string
}

// RedisConfig configures the shared geocode cache tier. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit sink. No brokers means audit events stay in memory.
type Kafka struct {
	Brokers    []string
	AuditTopic string
}

// Learning configures the downstream learning system. A zero RetryInterval
// disables the background re-forwarding of failed examples.
type Learning struct {
	URL           string
	Timeout       time.Duration
	RetryInterval time.Duration
}

type Geocoder struct {
	ConfigPath          string
	MapboxToken         string
	SecondaryConfidence float64
	QueueSize           int
}

type Config struct {
	Server         Server
	Log            Log
	DatabaseURL    string
	Redis          RedisConfig
	Kafka          Kafka
	FeedbackDBPath string
	Learning       Learning
	Geocoder       Geocoder
	InboxDir       string
}

// Load reads a .env file when present and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []string
	dur := func(key string, def time.Duration) time.Duration {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return d
	}
	integer := func(key string, def int) int {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return n
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	secondary := 0.7
	if v := os.Getenv("SECONDARY_CONFIDENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("SECONDARY_CONFIDENCE: %v", err))
		case f < 0 || f > 1:
			errs = append(errs, "SECONDARY_CONFIDENCE: must be within [0,1]")
		default:
			secondary = f
		}
	}

	cfg := Config{
		Server: Server{
			Addr:          getenv("DHRUV_ADDR", ":8080"),
			JWTSigningKey: jwtSigningKey,
			JWTIssuer:     os.Getenv("JWT_ISSUER"),
		},
		Log: Log{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "text"),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  dur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  dur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: dur("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getenv("AUDIT_TOPIC", "dhruv.review.audit"),
		},
		FeedbackDBPath: os.Getenv("FEEDBACK_DB_PATH"),
		Learning: Learning{
			URL:           os.Getenv("LEARNING_URL"),
			Timeout:       dur("LEARNING_TIMEOUT", 10*time.Second),
			RetryInterval: dur("LEARNING_RETRY_INTERVAL", 5*time.Minute),
		},
		Geocoder: Geocoder{
			ConfigPath:          os.Getenv("GEOCODER_CONFIG"),
			MapboxToken:         os.Getenv("MAPBOX_TOKEN"),
			SecondaryConfidence: secondary,
			QueueSize:           integer("GEOCODE_QUEUE_SIZE", 256),
		},
		InboxDir: os.Getenv("INBOX_DIR"),
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
