package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string
	MetricsAddr  string

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Stream StreamConfig

	Contracts ContractsConfig

	// ProductsFile overrides the products.yml search path.
	ProductsFile string

	Remittance RemittanceConfig

	Scheduler SchedulerConfig
}

type StreamConfig struct {
	// Driver is "redis" or "memory". The memory driver keeps everything in
	// process and is meant for local runs.
	Driver          string
	Group           string
	Consumer        string
	Compression     string
	TallySummary    string
	BillableUsage   string
	BillableStatus  string
	BillableRetry   string
	RemittancePurge string
	MaxLen          int64
	BatchSize       int64
	Block           time.Duration
	ClaimIdle       time.Duration
}

type ContractsConfig struct {
	URL             string
	Timeout         time.Duration
	MaxAttempts     int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	BackoffMultiple float64
}

type RemittanceConfig struct {
	// Retention is the purge window; zero disables purging.
	Retention time.Duration
	// RetryDelay is added to now when a failed remittance is sent to the
	// retry topic.
	RetryDelay time.Duration
	// ContractMissingGrace is how old a snapshot may be before a missing
	// contract is logged as an error instead of a warning.
	ContractMissingGrace time.Duration
	LockEnabled          bool
	LockTTL              time.Duration
	RetryBatchSize       int
}

type SchedulerConfig struct {
	Enabled       bool
	RetryInterval time.Duration
	PurgeInterval time.Duration
	JobTimeout    time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()
	driver := strings.ToLower(getenv("STREAM_DRIVER", "redis"))

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "billableusage"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		MetricsAddr:  getenv("METRICS_ADDR", ":9090"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "billableusage"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "billableusage.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Stream: StreamConfig{
			Driver:          driver,
			Group:           getenv("STREAM_GROUP", "billable-usage"),
			Consumer:        getenv("STREAM_CONSUMER", hostname),
			Compression:     strings.ToLower(getenv("STREAM_COMPRESSION", "snappy")),
			TallySummary:    getenv("TOPIC_TALLY_SUMMARY", "billableusage.tally-summary"),
			BillableUsage:   getenv("TOPIC_BILLABLE_USAGE", "billableusage.billable-usage"),
			BillableStatus:  getenv("TOPIC_BILLABLE_USAGE_STATUS", "billableusage.billable-usage.status"),
			BillableRetry:   getenv("TOPIC_BILLABLE_USAGE_RETRY", "billableusage.billable-usage.retry"),
			RemittancePurge: getenv("TOPIC_REMITTANCE_PURGE", "billableusage.remittance-purge"),
			MaxLen:          getenvInt64("STREAM_MAX_LEN", 100_000),
			BatchSize:       getenvInt64("STREAM_BATCH_SIZE", 16),
			Block:           getenvDuration("STREAM_BLOCK", 5*time.Second),
			ClaimIdle:       getenvDuration("STREAM_CLAIM_IDLE", time.Minute),
		},

		Contracts: ContractsConfig{
			URL:             getenv("CONTRACTS_URL", "http://localhost:8000"),
			Timeout:         getenvDuration("CONTRACTS_TIMEOUT", 10*time.Second),
			MaxAttempts:     getenvInt("CONTRACTS_MAX_ATTEMPTS", 2),
			BackoffInitial:  getenvDuration("CONTRACTS_BACKOFF_INITIAL", time.Second),
			BackoffMax:      getenvDuration("CONTRACTS_BACKOFF_MAX", 64*time.Second),
			BackoffMultiple: getenvFloat("CONTRACTS_BACKOFF_MULTIPLIER", 2),
		},

		ProductsFile: strings.TrimSpace(getenv("PRODUCTS_FILE", "")),

		Remittance: RemittanceConfig{
			Retention:            getenvDuration("REMITTANCE_RETENTION", 0),
			RetryDelay:           getenvDuration("REMITTANCE_RETRY_DELAY", time.Hour),
			ContractMissingGrace: getenvDuration("CONTRACT_MISSING_GRACE", 30*time.Minute),
			// the in-memory driver runs without Redis
			LockEnabled:          getenvBool("REMITTANCE_LOCK_ENABLED", driver != "memory"),
			LockTTL:              getenvDuration("REMITTANCE_LOCK_TTL", 30*time.Second),
			RetryBatchSize:       getenvInt("REMITTANCE_RETRY_BATCH_SIZE", 100),
		},

		Scheduler: SchedulerConfig{
			Enabled:       getenvBool("SCHEDULER_ENABLED", true),
			RetryInterval: getenvDuration("SCHEDULER_RETRY_INTERVAL", 5*time.Minute),
			PurgeInterval: getenvDuration("SCHEDULER_PURGE_INTERVAL", 24*time.Hour),
			JobTimeout:    getenvDuration("SCHEDULER_JOB_TIMEOUT", 2*time.Minute),
		},
	}

	return cfg
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

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
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

// getenvDuration accepts Go durations ("90s") and ISO-8601 day counts ("P70D").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	upper := strings.ToUpper(value)
	if strings.HasPrefix(upper, "P") && strings.HasSuffix(upper, "D") {
		days, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(upper, "P"), "D"))
		if err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	return def
}
