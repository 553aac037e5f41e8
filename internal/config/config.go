// Package config loads and validates engine configuration via
// github.com/spf13/viper (defaults + env binding + optional YAML file),
// validated with github.com/go-playground/validator/v10 struct tags.
// Grounded on internal/config/config.go's Load/setDefaults/bindEnvVars
// shape, with the hand-rolled validate() replaced by validator tags and
// the gRPC server section dropped (this engine exposes no gRPC surface).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the engine process.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	MessageQueue  MessageQueueConfig  `mapstructure:"message_queue"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Execution     ExecutionConfig     `mapstructure:"execution"`
	UserTask      UserTaskConfig      `mapstructure:"user_task"`
}

type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`
}

type HTTPConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type MessageQueueConfig struct {
	URL       string          `mapstructure:"url"`
	Exchanges ExchangesConfig `mapstructure:"exchanges"`
	Consumer  ConsumerConfig  `mapstructure:"consumer"`
}

type ExchangesConfig struct {
	Events string `mapstructure:"events"`
}

type ConsumerConfig struct {
	Workers       int           `mapstructure:"workers" validate:"gte=0"`
	PrefetchCount int           `mapstructure:"prefetch_count" validate:"gte=0"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" validate:"required"`
	Environment  string `mapstructure:"environment"`
}

type ExecutionConfig struct {
	MaxConcurrentInstances int           `mapstructure:"max_concurrent_instances" validate:"gt=0"`
	DefaultStepTimeout     time.Duration `mapstructure:"default_step_timeout"`
	DefaultMaxRetries      int           `mapstructure:"default_max_retries" validate:"gte=0"`
	DefaultRetryDelay      time.Duration `mapstructure:"default_retry_delay"`
	HistoryRetention       time.Duration `mapstructure:"history_retention"`
}

type UserTaskConfig struct {
	DefaultAssignmentStrategy string `mapstructure:"default_assignment_strategy" validate:"oneof=direct round_robin load_balance random"`
}

// Load reads configuration from an optional YAML file plus environment
// overrides, falling back to setDefaults' baseline, then validates it.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/workflow-engine")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "workflow-engine")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")

	viper.SetDefault("http.address", ":8080")

	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("redis.db", 0)

	viper.SetDefault("message_queue.exchanges.events", "workflow.events")
	viper.SetDefault("message_queue.consumer.workers", 10)
	viper.SetDefault("message_queue.consumer.prefetch_count", 50)
	viper.SetDefault("message_queue.consumer.retry_delay", "5s")

	viper.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
	viper.SetDefault("observability.service_name", "workflow-engine")
	viper.SetDefault("observability.environment", "development")

	viper.SetDefault("execution.max_concurrent_instances", 200)
	viper.SetDefault("execution.default_step_timeout", "30s")
	viper.SetDefault("execution.default_max_retries", 3)
	viper.SetDefault("execution.default_retry_delay", "1s")
	viper.SetDefault("execution.history_retention", "720h")

	viper.SetDefault("user_task.default_assignment_strategy", "direct")
}

func bindEnvVars() {
	viper.BindEnv("app.environment", "APP_ENV")

	viper.BindEnv("http.address", "HTTP_ADDR")

	viper.BindEnv("database.url", "POSTGRES_URL")
	viper.BindEnv("database.max_open_conns", "DB_MAX_OPEN_CONNS")
	viper.BindEnv("database.max_idle_conns", "DB_MAX_IDLE_CONNS")
	viper.BindEnv("database.conn_max_lifetime", "DB_CONN_MAX_LIFETIME")

	viper.BindEnv("redis.url", "REDIS_URL")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("message_queue.url", "RABBITMQ_URL")

	viper.BindEnv("observability.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	viper.BindEnv("observability.service_name", "OTEL_SERVICE_NAME")

	viper.BindEnv("execution.max_concurrent_instances", "ENGINE_CONCURRENCY")
	viper.BindEnv("execution.default_step_timeout", "STEP_DEFAULT_TIMEOUT")
	viper.BindEnv("execution.default_max_retries", "RETRY_MAX")
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value.
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value.
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value.
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
