package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

type Config struct {
	AppPort       string
	LogLevel      string
	Timezone      string
	SnowflakeNode string

	StoreDriver   string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	MigrationsDir string

	LockBackend   string
	LockTTL       string
	LockWait      string
	RedisAddr     string
	RedisPassword string
	RedisDB       string

	MetricsEnabled string

	KafkaBrokers           string
	KafkaClientID          string
	KafkaGroupID           string
	KafkaRetryGroupID      string
	KafkaInstanceID        string
	KafkaTopicPartitions   string
	KafkaRetryPartitions   string
	KafkaReplicationFactor string
	EventDrivenEnabled     string
}

// Load reads configuration from the environment, after merging an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	instanceID := os.Getenv("KAFKA_INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Timezone:      getEnv("APP_TIMEZONE", "Asia/Taipei"),
		SnowflakeNode: getEnv("SNOWFLAKE_NODE", "1"),

		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "loyaltydb"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "db/migrations"),

		LockBackend:   strings.ToLower(getEnv("LOCK_BACKEND", LockBackendLocal)),
		LockTTL:       getEnv("LOCK_TTL", "5s"),
		LockWait:      getEnv("LOCK_WAIT", "2s"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),

		MetricsEnabled: getEnv("METRICS_ENABLED", "true"),

		KafkaBrokers:           getEnv("KAFKA_BROKERS", "kafka:9092"),
		KafkaClientID:          getEnv("KAFKA_CLIENT_ID", "loyalty-coupon"),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "loyalty-coupon-consumers"),
		KafkaRetryGroupID:      getEnv("KAFKA_RETRY_GROUP_ID", "loyalty-coupon-retry"),
		KafkaInstanceID:        instanceID,
		KafkaTopicPartitions:   getEnv("KAFKA_TOPIC_PARTITIONS", "3"),
		KafkaRetryPartitions:   getEnv("KAFKA_RETRY_PARTITIONS", "1"),
		KafkaReplicationFactor: getEnv("KAFKA_REPLICATION_FACTOR", "1"),
		EventDrivenEnabled:     getEnv("EVENT_DRIVEN_ENABLED", "false"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) TopicPartitions() int {
	return parseInt(c.KafkaTopicPartitions, 3)
}

func (c *Config) RetryPartitions() int {
	return parseInt(c.KafkaRetryPartitions, 1)
}

func (c *Config) ReplicationFactor() int16 {
	value := parseInt(c.KafkaReplicationFactor, 1)
	return int16(value)
}

func (c *Config) RedisDatabase() int {
	parsed, err := strconv.Atoi(c.RedisDB)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func (c *Config) SnowflakeNodeID() int64 {
	return int64(parseInt(c.SnowflakeNode, 1))
}

func (c *Config) LockTTLDuration() time.Duration {
	return parseDuration(c.LockTTL, 5*time.Second)
}

func (c *Config) LockWaitDuration() time.Duration {
	return parseDuration(c.LockWait, 2*time.Second)
}

func (c *Config) EventDriven() bool {
	return parseBool(c.EventDrivenEnabled, false)
}

func (c *Config) MetricsOn() bool {
	return parseBool(c.MetricsEnabled, true)
}

// Location resolves the configured timezone used to decide "today". Falls back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
