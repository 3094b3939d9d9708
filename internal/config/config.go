package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the probe services
type Config struct {
	// Service name
	ServiceName string `yaml:"-"`

	// HTTP listen host and port
	HTTPHost string `yaml:"host"`
	HTTPPort int    `yaml:"port_http"`

	// gRPC health port, 0 disables the gRPC listener
	GRPCPort int `yaml:"port_grpc"`

	// Log level: debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// Runtime label reported in responses (native, wasmer, ...)
	Runtime string `yaml:"runtime"`

	// Upstream database and REST proxy
	OracleHost     string `yaml:"oracle_host"`
	OracleUsername string `yaml:"oracle_username"`
	OraclePassword string `yaml:"oracle_password"`
	OracleDBName   string `yaml:"oracle_db_name"`
	ORDSSchema     string `yaml:"ords_schema"`
	ORDSModule     string `yaml:"ords_module"`

	Topic               string `yaml:"topic"`
	ConsumerGroupPrefix string `yaml:"consumer_group_prefix"`
	MaxStoredMessages   int    `yaml:"max_stored_messages"`

	RequestTimeoutMs int `yaml:"request_timeout_ms"`
	PublishTimeoutMs int `yaml:"publish_timeout_ms"`

	DirectConsumerName   string `yaml:"direct_consumer_name"`
	DirectTimeoutSeconds int    `yaml:"direct_timeout_seconds"`

	// SQLite journal path, empty disables the journal
	JournalPath string `yaml:"journal_path"`

	// Kafka brokers (comma-separated), empty disables native publishing
	KafkaBrokers string `yaml:"kafka_brokers"`
}

// Default returns the built-in configuration
func Default(serviceName string) *Config {
	return &Config{
		ServiceName:          serviceName,
		HTTPHost:             "127.0.0.1",
		HTTPPort:             8070,
		LogLevel:             "info",
		Runtime:              "native",
		OracleHost:           "myhost.adb.region.oraclecloudapps.com",
		OracleUsername:       "ADMIN",
		OraclePassword:       "mypassword",
		OracleDBName:         "MYDATABASE",
		ORDSSchema:           "admin",
		ORDSModule:           "wasm-kafka",
		Topic:                "TEST_KAFKA_TOPIC_NEW",
		ConsumerGroupPrefix:  "probe",
		MaxStoredMessages:    100,
		RequestTimeoutMs:     30000,
		PublishTimeoutMs:     10000,
		DirectConsumerName:   "probe_direct_consumer",
		DirectTimeoutSeconds: 2,
	}
}

// LoadConfig loads configuration from an optional YAML file (CONFIG_FILE) and
// environment variables. Environment values win over the file.
func LoadConfig(serviceName string) (*Config, error) {
	cfg := Default(serviceName)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.HTTPHost = getEnvAsString("HOST", cfg.HTTPHost)
	cfg.HTTPPort = getEnvAsInt("PORT_HTTP", getEnvAsInt("PORT", cfg.HTTPPort))
	cfg.GRPCPort = getEnvAsInt("PORT_GRPC", cfg.GRPCPort)
	cfg.LogLevel = getEnvAsString("LOG_LEVEL", cfg.LogLevel)
	cfg.Runtime = getEnvAsString("RUNTIME", cfg.Runtime)
	cfg.OracleHost = getEnvAsString("ORACLE_HOST", cfg.OracleHost)
	cfg.OracleUsername = getEnvAsString("ORACLE_USERNAME", cfg.OracleUsername)
	cfg.OraclePassword = getEnvAsString("ORACLE_PASSWORD", cfg.OraclePassword)
	cfg.OracleDBName = getEnvAsString("ORACLE_DB_NAME", cfg.OracleDBName)
	cfg.ORDSSchema = getEnvAsString("ORDS_SCHEMA", cfg.ORDSSchema)
	cfg.ORDSModule = getEnvAsString("ORDS_MODULE", cfg.ORDSModule)
	cfg.Topic = getEnvAsString("KAFKA_TOPIC", cfg.Topic)
	cfg.ConsumerGroupPrefix = getEnvAsString("CONSUMER_GROUP_PREFIX", cfg.ConsumerGroupPrefix)
	cfg.MaxStoredMessages = getEnvAsInt("MAX_STORED_MESSAGES", cfg.MaxStoredMessages)
	cfg.RequestTimeoutMs = getEnvAsInt("REQUEST_TIMEOUT_MS", cfg.RequestTimeoutMs)
	cfg.PublishTimeoutMs = getEnvAsInt("PUBLISH_TIMEOUT_MS", cfg.PublishTimeoutMs)
	cfg.DirectConsumerName = getEnvAsString("DIRECT_CONSUMER_NAME", cfg.DirectConsumerName)
	cfg.DirectTimeoutSeconds = getEnvAsInt("DIRECT_TIMEOUT_SECONDS", cfg.DirectTimeoutSeconds)
	cfg.JournalPath = getEnvAsString("JOURNAL_PATH", cfg.JournalPath)
	cfg.KafkaBrokers = getEnvAsString("KAFKA_BROKERS", cfg.KafkaBrokers)

	if cfg.MaxStoredMessages <= 0 {
		return nil, fmt.Errorf("max_stored_messages must be positive, got %d", cfg.MaxStoredMessages)
	}

	return cfg, nil
}

// HTTPAddr returns the HTTP server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

// GRPCAddr returns the gRPC server address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// ConsumerGroupID derives the topic-specific consumer group so that probes of
// different topics never share offsets.
func (c *Config) ConsumerGroupID() string {
	topicSafe := strings.ToLower(strings.ReplaceAll(c.Topic, "_", ""))
	return fmt.Sprintf("%s_%s_consumer", c.ConsumerGroupPrefix, topicSafe)
}

// RequestTimeout is the per-call timeout of the upstream HTTP client
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// PublishTimeout bounds publish and stored-procedure calls
func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMs) * time.Millisecond
}

// Brokers splits KafkaBrokers into a trimmed list
func (c *Config) Brokers() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	brokers := strings.Split(c.KafkaBrokers, ",")
	out := brokers[:0]
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
