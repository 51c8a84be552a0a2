package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tickstream/internal/decoder"
	"tickstream/internal/protocol"
	"tickstream/internal/tunnel"
)

// DefaultPath is the configuration file used when no -config flag is given.
const DefaultPath = "config/config.yml"

const (
	defaultIdleTimeout  = 10 * time.Second
	defaultProbeMessage = "haha"
	defaultBridgeBuffer = 256
)

type Config struct {
	Tickstream TickstreamConfig `yaml:"tickstream"`
	Feed       FeedConfig       `yaml:"feed"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type TickstreamConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type FeedConfig struct {
	Variant            string             `yaml:"variant"`
	URL                string             `yaml:"url"`
	Instrument         string             `yaml:"instrument"`
	IdleTimeout        time.Duration      `yaml:"idle_timeout"`
	ProbeMessage       string             `yaml:"probe_message"`
	UnknownFramePolicy string             `yaml:"unknown_frame_policy"`
	HandshakeTimeout   time.Duration      `yaml:"handshake_timeout"`
	ReconnectDelay     time.Duration      `yaml:"reconnect_delay"`
	InsecureSkipVerify bool               `yaml:"insecure_skip_verify"`
	Instruments        []InstrumentConfig `yaml:"instruments"`
}

// InstrumentConfig overrides the default catalog of the selected variant.
type InstrumentConfig struct {
	ID          string `yaml:"id"`
	WireName    string `yaml:"wire_name"`
	DisplayName string `yaml:"display_name"`
	MatchKey    string `yaml:"match_key"`
}

type ProxyConfig struct {
	URL string `yaml:"url"`
}

type BridgeConfig struct {
	Buffer int `yaml:"buffer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

type CloudWatchConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Region          string        `yaml:"region"`
	Namespace       string        `yaml:"namespace"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoadConfig reads, defaults, overrides from the environment and validates
// the configuration at path. APP_ENV may redirect the default path to an
// environment specific file.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultPath)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Feed: FeedConfig{
			Variant:      "htx",
			IdleTimeout:  defaultIdleTimeout,
			ProbeMessage: defaultProbeMessage,
		},
		Bridge: BridgeConfig{Buffer: defaultBridgeBuffer},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("TICKSTREAM_PROXY"); v != "" {
		config.Proxy.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.TrimSpace(v)
	}

	cw := &config.Metrics.CloudWatch
	if !cw.Enabled {
		return
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cw.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cw.SecretAccessKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cw.Region = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Tickstream.Name == "" {
		return fmt.Errorf("tickstream.name is required")
	}

	if cfg.Tickstream.Version == "" {
		return fmt.Errorf("tickstream.version is required")
	}

	if _, err := protocol.ByName(cfg.Feed.Variant); err != nil {
		return fmt.Errorf("feed.variant: %w", err)
	}

	if strings.TrimSpace(cfg.Feed.Instrument) == "" {
		return fmt.Errorf("feed.instrument is required")
	}

	if cfg.Feed.IdleTimeout <= 0 {
		return fmt.Errorf("feed.idle_timeout must be greater than 0")
	}

	if cfg.Feed.ReconnectDelay < 0 {
		return fmt.Errorf("feed.reconnect_delay cannot be negative")
	}

	if _, err := decoder.ParsePolicy(cfg.Feed.UnknownFramePolicy); err != nil {
		return fmt.Errorf("feed.unknown_frame_policy: %w", err)
	}

	for i, inst := range cfg.Feed.Instruments {
		if inst.ID == "" || inst.WireName == "" || inst.MatchKey == "" {
			return fmt.Errorf("feed.instruments[%d]: id, wire_name and match_key are required", i)
		}
	}

	if _, err := tunnel.ParseProxy(cfg.Proxy.URL); err != nil {
		return fmt.Errorf("proxy.url: %w", err)
	}

	if cfg.Bridge.Buffer <= 0 {
		return fmt.Errorf("bridge.buffer must be greater than 0")
	}

	if cfg.Metrics.CloudWatch.Enabled {
		if cfg.Metrics.CloudWatch.Namespace == "" {
			return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
		}
		if (cfg.Metrics.CloudWatch.AccessKeyID == "") != (cfg.Metrics.CloudWatch.SecretAccessKey == "") {
			return fmt.Errorf("metrics.cloudwatch.access_key_id and metrics.cloudwatch.secret_access_key must be set together")
		}
	}

	if cfg.Metrics.Prometheus.Enabled && cfg.Metrics.Prometheus.Address == "" {
		return fmt.Errorf("metrics.prometheus.address is required when Prometheus is enabled")
	}

	return nil
}
