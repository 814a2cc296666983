// Package config loads the publisher's settings once at startup from
// defaults, an optional YAML file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"loadpub/internal/pub/metrics"
	"loadpub/internal/pub/queue"
	"loadpub/internal/pub/tracing"
)

// DefaultPath is read when no config file is named explicitly. Its absence is not an error.
const DefaultPath = "config.yaml"

type Config struct {
	Producer    ProducerConfig       `yaml:"producer" envPrefix:"PRODUCER_"`
	Dispatch    DispatchConfig       `yaml:"dispatch" envPrefix:"DISPATCH_"`
	Concurrency ConcurrencyConfig    `yaml:"concurrency" envPrefix:"CONCURRENCY_"`
	Log         LogConfig            `yaml:"log"`
	Metrics     metrics.ServerConfig `yaml:"metrics"`
	Tracing     tracing.Config       `yaml:"tracing"`
	ProfileDir  string               `yaml:"profile_dir" env:"PROFILE_DIR"`
}

type ProducerConfig struct {
	Brokers        BrokerList `yaml:"brokers" env:"BROKERS"`
	Topic          string     `yaml:"topic" env:"TOPIC"`
	Compression    string     `yaml:"compression" env:"COMPRESSION"`
	Acks           string     `yaml:"acks" env:"ACKS"`
	TimeoutMS      int        `yaml:"timeout_ms" env:"TIMEOUT_MS"`
	BufferingMaxMS int        `yaml:"buffering_max_ms" env:"BUFFERING_MAX_MS"`
}

// Timeout bounds each individual send.
func (p ProducerConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// BufferingMax is how long the client may hold messages to build a wire batch.
func (p ProducerConfig) BufferingMax() time.Duration {
	return time.Duration(p.BufferingMaxMS) * time.Millisecond
}

type DispatchConfig struct {
	BatchSize       int `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushIntervalMS int `yaml:"flush_interval_ms" env:"FLUSH_INTERVAL_MS"`
	QueueCapacity   int `yaml:"queue_capacity" env:"QUEUE_CAPACITY"`
}

func (d DispatchConfig) FlushInterval() time.Duration {
	return time.Duration(d.FlushIntervalMS) * time.Millisecond
}

type ConcurrencyConfig struct {
	ThrottlingEnabled bool  `yaml:"throttling_enabled" env:"THROTTLING_ENABLED"`
	ThrottlingMS      int   `yaml:"throttling_ms" env:"THROTTLING_MS"`
	Workers           int   `yaml:"workers" env:"WORKERS"`
	MaxRecords        int64 `yaml:"max_records" env:"MAX_RECORDS"`
}

// Throttle is the pause after each generated record, zero when throttling is off.
func (c ConcurrencyConfig) Throttle() time.Duration {
	if !c.ThrottlingEnabled {
		return 0
	}
	return time.Duration(c.ThrottlingMS) * time.Millisecond
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// BrokerList is a bootstrap broker list. It accepts a YAML sequence or a
// comma separated string.
type BrokerList []string

func (b *BrokerList) UnmarshalText(text []byte) error {
	var out BrokerList
	for _, s := range strings.Split(string(text), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*b = out

	return nil
}

func (b *BrokerList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return b.UnmarshalText([]byte(value.Value))
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		return b.UnmarshalText([]byte(strings.Join(list, ",")))
	default:
		return fmt.Errorf("line %d: brokers must be a string or a list", value.Line)
	}
}

// Error reports missing or malformed configuration. It is fatal at startup.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Default() Config {
	return Config{
		Producer: ProducerConfig{
			Brokers:        BrokerList{"localhost:9092"},
			Topic:          "loadpub",
			Compression:    "none",
			Acks:           "all",
			TimeoutMS:      5000,
			BufferingMaxMS: 5,
		},
		Dispatch: DispatchConfig{
			BatchSize:       1000,
			FlushIntervalMS: 100,
			QueueCapacity:   queue.DefaultCapacity,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: metrics.ServerConfig{
			Enabled: true,
			Port:    9090,
			Timeout: 30 * time.Second,
		},
		Tracing: tracing.Config{
			ServiceName:    "loadpub",
			ServiceVersion: "1.0.0",
			JaegerEndpoint: "localhost:4318",
			SampleRate:     1.0,
			BatchTimeout:   time.Second,
			ExportTimeout:  30 * time.Second,
			MaxExportBatch: 512,
			MaxQueueSize:   2048,
		},
	}
}

// LoadDotEnv exports variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &Error{Field: p, Err: err}
		}
	}

	return nil
}

// Load builds the configuration from defaults, then the YAML file at path,
// then environment variables. A missing file is an error only when required.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, &Error{Field: path, Err: fmt.Errorf("failed to parse YAML config: %w", err)}
			}
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return nil, &Error{Field: path, Err: fmt.Errorf("failed to read config file: %w", err)}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to parse environment variables: %w", err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks every setting the pipeline depends on.
func (c *Config) Validate() error {
	checks := []struct {
		field string
		bad   bool
		msg   string
	}{
		{"producer.brokers", len(c.Producer.Brokers) == 0, "at least one broker is required"},
		{"producer.topic", strings.TrimSpace(c.Producer.Topic) == "", "must not be empty"},
		{"producer.timeout_ms", c.Producer.TimeoutMS <= 0, "must be positive"},
		{"producer.buffering_max_ms", c.Producer.BufferingMaxMS < 0, "must not be negative"},
		{"dispatch.batch_size", c.Dispatch.BatchSize <= 0, "must be positive"},
		{"dispatch.flush_interval_ms", c.Dispatch.FlushIntervalMS <= 0, "must be positive"},
		{"dispatch.queue_capacity", c.Dispatch.QueueCapacity <= 0, "must be positive"},
		{"concurrency.throttling_ms", c.Concurrency.ThrottlingEnabled && c.Concurrency.ThrottlingMS <= 0, "must be positive when throttling is enabled"},
		{"concurrency.workers", c.Concurrency.Workers < 0, "must not be negative"},
		{"concurrency.max_records", c.Concurrency.MaxRecords < 0, "must not be negative"},
	}

	for _, check := range checks {
		if check.bad {
			return &Error{Field: check.field, Err: errors.New(check.msg)}
		}
	}

	return nil
}
