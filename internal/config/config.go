// Package config loads application configuration from YAML with
// environment-variable overrides, and supports hot-reloading the subset of
// settings safe to retune without a restart.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"aegismind-siem/pkg/clusterer"
	"aegismind-siem/pkg/correlator"
	"aegismind-siem/pkg/fanout"
	"aegismind-siem/pkg/store"

	"gopkg.in/yaml.v2"
)

// AppConfig is the application identity block, mirrored from the teacher's
// App section.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// GatewayConfig configures the ingest/query HTTP surface.
type GatewayConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	IngestSecret    string `yaml:"ingest_secret"`
	IngestMaxBodyKB int    `yaml:"ingest_max_body_kb"`
	SeedFile        string `yaml:"seed_file"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// HotReloadConfig configures live config-file watching. Kept as plain
// fields rather than importing pkg/hotreload.Config directly, since that
// package imports this one to reload through LoadConfig/ValidateConfig.
type HotReloadConfig struct {
	Enabled          bool          `yaml:"enabled"`
	WatchInterval    time.Duration `yaml:"watch_interval"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
	ValidateOnReload bool          `yaml:"validate_on_reload"`
}

// Config is the complete application configuration tree.
type Config struct {
	App                          AppConfig          `yaml:"app"`
	Gateway                      GatewayConfig      `yaml:"gateway"`
	Metrics                      MetricsConfig      `yaml:"metrics"`
	Tracing                      TracingConfig      `yaml:"tracing"`
	Mongo                        store.MongoConfig  `yaml:"mongo"`
	Kafka                        fanout.KafkaConfig `yaml:"kafka"`
	Clusterer                    clusterer.Config   `yaml:"clusterer"`
	Correlator                   correlator.Config  `yaml:"correlator"`
	ChangeStreamReconnectSeconds int                `yaml:"changestream_reconnect_seconds"`
	HotReload                    HotReloadConfig    `yaml:"hot_reload"`
}

// LoadConfig reads configFile (if non-empty), applies defaults for unset
// fields, then applies environment-variable overrides — the same two-pass
// shape the teacher's loader uses.
func LoadConfig(configFile string) (*Config, error) {
	config := &Config{}

	if configFile != "" {
		if err := loadConfigFile(configFile, config); err != nil {
			fmt.Printf("Warning: failed to load config file %s: %v\n", configFile, err)
		}
	}

	applyDefaults(config)
	applyEnvironmentOverrides(config)

	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.App.Name == "" {
		config.App.Name = "aegismind-siem"
	}
	if config.App.Environment == "" {
		config.App.Environment = "development"
	}
	if config.App.LogLevel == "" {
		config.App.LogLevel = "info"
	}
	if config.App.LogFormat == "" {
		config.App.LogFormat = "json"
	}

	if config.Gateway.Host == "" {
		config.Gateway.Host = "0.0.0.0"
	}
	if config.Gateway.Port == 0 {
		config.Gateway.Port = 8080
	}
	if config.Gateway.IngestMaxBodyKB == 0 {
		config.Gateway.IngestMaxBodyKB = 1024
	}

	if config.Metrics.Port == 0 {
		config.Metrics.Port = 9090
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}
	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "aegismind"
	}

	if config.Tracing.ServiceName == "" {
		config.Tracing.ServiceName = "aegismind-siem"
	}

	if config.Mongo.URI == "" {
		config.Mongo = store.DefaultMongoConfig()
	}

	if config.Clusterer.WindowSeconds == 0 {
		config.Clusterer = clusterer.DefaultConfig()
	}
	if config.Correlator.WindowSeconds == 0 {
		config.Correlator = correlator.DefaultConfig()
	}
	if config.ChangeStreamReconnectSeconds == 0 {
		config.ChangeStreamReconnectSeconds = 5
	}

	if config.HotReload.WatchInterval == 0 {
		config.HotReload.WatchInterval = 5 * time.Second
	}
	if config.HotReload.DebounceInterval == 0 {
		config.HotReload.DebounceInterval = time.Second
	}
}

func applyEnvironmentOverrides(config *Config) {
	config.App.Name = getEnvString("SIEM_APP_NAME", config.App.Name)
	config.App.Environment = getEnvString("SIEM_APP_ENVIRONMENT", config.App.Environment)
	config.App.LogLevel = getEnvString("SIEM_LOG_LEVEL", config.App.LogLevel)
	config.App.LogFormat = getEnvString("SIEM_LOG_FORMAT", config.App.LogFormat)

	config.Gateway.Host = getEnvString("SIEM_GATEWAY_HOST", config.Gateway.Host)
	config.Gateway.Port = getEnvInt("SIEM_GATEWAY_PORT", config.Gateway.Port)
	config.Gateway.IngestSecret = getEnvString("SIEM_INGEST_SECRET", config.Gateway.IngestSecret)
	config.Gateway.IngestMaxBodyKB = getEnvInt("SIEM_INGEST_MAX_BODY_KB", config.Gateway.IngestMaxBodyKB)

	config.Metrics.Enabled = getEnvBool("SIEM_METRICS_ENABLED", config.Metrics.Enabled)
	config.Metrics.Port = getEnvInt("SIEM_METRICS_PORT", config.Metrics.Port)
	config.Metrics.Namespace = getEnvString("SIEM_METRICS_NAMESPACE", config.Metrics.Namespace)

	config.Tracing.Enabled = getEnvBool("SIEM_TRACING_ENABLED", config.Tracing.Enabled)
	config.Tracing.OTLPEndpoint = getEnvString("SIEM_OTLP_ENDPOINT", config.Tracing.OTLPEndpoint)

	config.Mongo.URI = getEnvString("SIEM_MONGO_URI", config.Mongo.URI)
	config.Mongo.Database = getEnvString("SIEM_MONGO_DATABASE", config.Mongo.Database)

	config.Kafka.Brokers = getEnvStringSlice("SIEM_KAFKA_BROKERS", config.Kafka.Brokers)
	config.Kafka.Topic = getEnvString("SIEM_KAFKA_TOPIC", config.Kafka.Topic)

	config.Clusterer.WindowSeconds = getEnvInt("SIEM_CLUSTER_WINDOW_SECONDS", config.Clusterer.WindowSeconds)
	config.Clusterer.SimilarityThreshold = getEnvFloat("SIEM_CLUSTER_SIMILARITY_THRESHOLD", config.Clusterer.SimilarityThreshold)
	config.Correlator.WindowSeconds = getEnvInt("SIEM_CORRELATE_WINDOW_SECONDS", config.Correlator.WindowSeconds)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		out := []string{}
		start := 0
		for i := 0; i <= len(value); i++ {
			if i == len(value) || value[i] == ',' {
				if i > start {
					out = append(out, value[start:i])
				}
				start = i + 1
			}
		}
		return out
	}
	return defaultValue
}

// ValidateConfig checks invariants the loader can't safely default around.
func ValidateConfig(config *Config) error {
	if config.Clusterer.SimilarityThreshold <= 0 || config.Clusterer.SimilarityThreshold > 1 {
		return fmt.Errorf("clusterer.similarity_threshold must be in (0, 1], got %f", config.Clusterer.SimilarityThreshold)
	}
	if config.Clusterer.WindowSeconds <= 0 {
		return fmt.Errorf("clusterer.window_seconds must be positive")
	}
	if config.Correlator.WindowSeconds <= 0 {
		return fmt.Errorf("correlator.window_seconds must be positive")
	}
	if config.Gateway.Port <= 0 {
		return fmt.Errorf("gateway.port must be positive")
	}
	return nil
}
