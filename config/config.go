package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"gunner-api"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"gunner"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SQL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Dead letter stream for outbound calls that exhaust their retries
	RedisDLQStream string `env:"REDIS_DLQ_STREAM" env-default:"gunner:dlq"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic every normalized event is mirrored to for audit/replay consumers
	KafkaAuditTopic string `env:"KAFKA_AUDIT_TOPIC" env-default:"crm-events"`

	// CRM write API base URL
	CRMBaseURL string `env:"CRM_BASE_URL" env-default:""`
	// CRM API key
	CRMAPIKey string `env:"CRM_API_KEY" env-default:""`
	// CRM request timeout
	CRMTimeout time.Duration `env:"CRM_TIMEOUT" env-default:"30s"`

	// Throttle settings
	// Steady-state refill rate for the outbound token bucket (tokens/second)
	ThrottleRPS float64 `env:"THROTTLE_RPS" env-default:"10"`
	// Burst capacity of the outbound token bucket
	ThrottleBurst int `env:"THROTTLE_BURST" env-default:"20"`
	// Drain loop tick
	ThrottleTick time.Duration `env:"THROTTLE_TICK" env-default:"100ms"`
	// Base delay for rate-limit retry backoff
	ThrottleRetryBase time.Duration `env:"THROTTLE_RETRY_BASE" env-default:"1s"`
	// Maximum retries before a rate-limited call is surfaced to the caller
	ThrottleMaxRetries int `env:"THROTTLE_MAX_RETRIES" env-default:"5"`

	// Poller settings
	// Poller tick interval
	PollerInterval time.Duration `env:"POLLER_INTERVAL" env-default:"60s"`
	// Delay before the first tick so projections settle after boot
	PollerInitialDelay time.Duration `env:"POLLER_INITIAL_DELAY" env-default:"30s"`
	// Max matches fetched per rule per tick
	PollerBatchSize int `env:"POLLER_BATCH_SIZE" env-default:"200"`
	// TTL for the distributed tick lock
	PollerLockTTL time.Duration `env:"POLLER_LOCK_TTL" env-default:"55s"`
	// Enable/disable the poller
	PollerEnabled bool `env:"POLLER_ENABLED" env-default:"true"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}
