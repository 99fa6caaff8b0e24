package appconf

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	SourceFirebase = "firebase"
	SourceKafka    = "kafka"
)

// Config holds all the configuration settings for the service. Values are
// layered: Default(), then an optional YAML file, then command-line flags.
type Config struct {
	Port      int          `yaml:"port" validate:"gt=0,lte=65535"`
	Env       Environment  `yaml:"env"`
	ApiKeys   []string     `yaml:"apiKeys" validate:"dive,required"`
	RateLimit int          `yaml:"rateLimit" validate:"gte=0"`
	LogLevel  string       `yaml:"logLevel" validate:"omitempty,oneof=debug info warn warning error"`
	Engine    EngineConfig `yaml:"engine"`
	Source    SourceConfig `yaml:"source"`
	Store     StoreConfig  `yaml:"store"`
}

// EngineConfig carries the trail engine options.
type EngineConfig struct {
	MinDisplacementMeters float64 `yaml:"minDisplacementMeters" validate:"gt=0"`
	PollIntervalMs        int     `yaml:"pollIntervalMs" validate:"gt=0"`
	PollTimeoutMs         int     `yaml:"pollTimeoutMs" validate:"gt=0"`
	SnapServiceEndpoint   string  `yaml:"snapServiceEndpoint" validate:"omitempty,url"`
	SnapServiceCredential string  `yaml:"snapServiceCredential"`
	SnapProfile           string  `yaml:"snapProfile" validate:"required"`
	SnapTimeoutMs         int     `yaml:"snapTimeoutMs" validate:"gt=0"`
	SnapRatePerSecond     float64 `yaml:"snapRatePerSecond" validate:"gte=0"`
}

func (c EngineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c EngineConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMs) * time.Millisecond
}

func (c EngineConfig) SnapTimeout() time.Duration {
	return time.Duration(c.SnapTimeoutMs) * time.Millisecond
}

type SourceConfig struct {
	Kind     string         `yaml:"kind" validate:"oneof=firebase kafka"`
	Firebase FirebaseConfig `yaml:"firebase"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

type FirebaseConfig struct {
	DatabaseURL string `yaml:"databaseURL" validate:"omitempty,url"`
	Root        string `yaml:"root" validate:"required"`
	Credential  string `yaml:"credential"`
	TimeZone    string `yaml:"timeZone" validate:"omitempty,timezone"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" validate:"dive,hostname_port"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"groupID"`
}

type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:      4000,
		Env:       Development,
		ApiKeys:   []string{"test"},
		RateLimit: 100,
		LogLevel:  "info",
		Engine: EngineConfig{
			MinDisplacementMeters: 10,
			PollIntervalMs:        2000,
			PollTimeoutMs:         15000,
			SnapProfile:           "driving",
			SnapTimeoutMs:         10000,
			SnapRatePerSecond:     2,
		},
		Source: SourceConfig{
			Kind: SourceFirebase,
			Firebase: FirebaseConfig{
				Root:     "TrackingData",
				TimeZone: "UTC",
			},
			Kafka: KafkaConfig{
				Topic:   "gps-data",
				GroupID: "livetrail",
			},
		},
		Store: StoreConfig{
			Path: "livetrail.db",
		},
	}
}

// LoadFile reads a YAML file over the defaults. Keys missing from the file
// keep their default value.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints and the source-specific requirements.
func (c Config) Validate() error {
	v := validator.New()
	v.RegisterStructValidation(validateSource, SourceConfig{})
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Env == Test && c.Store.Path != ":memory:" {
		return fmt.Errorf("invalid configuration: test environment requires an in-memory store, got %q", c.Store.Path)
	}
	return nil
}

func validateSource(sl validator.StructLevel) {
	src := sl.Current().Interface().(SourceConfig)
	switch src.Kind {
	case SourceFirebase:
		if src.Firebase.DatabaseURL == "" {
			sl.ReportError(src.Firebase.DatabaseURL, "DatabaseURL", "databaseURL", "required_for_firebase", "")
		}
	case SourceKafka:
		if len(src.Kafka.Brokers) == 0 {
			sl.ReportError(src.Kafka.Brokers, "Brokers", "brokers", "required_for_kafka", "")
		}
		if src.Kafka.Topic == "" {
			sl.ReportError(src.Kafka.Topic, "Topic", "topic", "required_for_kafka", "")
		}
	}
}
