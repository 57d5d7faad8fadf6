package sagaflow

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"
)

// RedisConfig describes the connection for the Redis persistence sink.
type RedisConfig struct {
	Addr      string        `yaml:"addr" json:"addr"`
	Password  string        `yaml:"password" json:"password"`
	DB        int           `yaml:"db" json:"db"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
}

// Enabled reports whether a Redis sink should be dialed at all.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// FileConfig is the YAML-file shape of an orchestrator configuration.
type FileConfig struct {
	DefaultStepTimeout  time.Duration `yaml:"default_step_timeout" json:"default_step_timeout"`
	CompensationTimeout time.Duration `yaml:"compensation_timeout" json:"compensation_timeout"`
	EventBuffer         int           `yaml:"event_buffer" json:"event_buffer"`
	Retry               RetryPolicy   `yaml:"retry" json:"retry"`
	Redis               RedisConfig   `yaml:"redis" json:"redis"`
	LogLevel            string        `yaml:"log_level" json:"log_level"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig parses YAML configuration bytes, applies defaults, and
// validates the result.
func ParseConfig(raw []byte) (*FileConfig, error) {
	cfg := &FileConfig{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *FileConfig) applyDefaults() {
	if c.CompensationTimeout <= 0 {
		c.CompensationTimeout = defaultCompensationTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryPolicy()
	}
	if c.LogLevel == "" {
		c.LogLevel = zerolog.LevelInfoValue
	}
}

// Validate checks the configuration after defaults have been applied.
func (c *FileConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.DefaultStepTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.CompensationTimeout, validation.Min(time.Nanosecond)),
		validation.Field(&c.EventBuffer, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrValidation, err)
	}
	return nil
}

// Level returns the parsed zerolog level. Validate must have accepted the
// configuration first.
func (c *FileConfig) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// OrchestratorConfig converts the file form into a Config. The caller
// supplies the logger and any sinks; the Redis sink, when configured, is
// dialed here.
func (c *FileConfig) OrchestratorConfig(logger *zerolog.Logger) Config {
	cfg := Config{
		Logger:              logger,
		DefaultRetry:        c.Retry,
		DefaultStepTimeout:  c.DefaultStepTimeout,
		CompensationTimeout: c.CompensationTimeout,
		EventBuffer:         c.EventBuffer,
	}
	if c.Redis.Enabled() {
		cfg.PersistenceSink = DialRedisSink(c.Redis)
	}
	return cfg
}
