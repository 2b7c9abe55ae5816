package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	QuoteAPI struct {
		BaseURL        string        `yaml:"base_url"`
		APIKey         string        `yaml:"api_key"`
		MaxRetries     int           `yaml:"max_retries"`
		AttemptTimeout time.Duration `yaml:"attempt_timeout"`
		RetryDelayMin  time.Duration `yaml:"retry_delay_min"`
		RetryDelayMax  time.Duration `yaml:"retry_delay_max"`
	} `yaml:"quote_api"`
	Feed struct {
		Symbols      []string      `yaml:"symbols"`
		PollInterval time.Duration `yaml:"poll_interval"`
		BatchSize    int           `yaml:"batch_size"`
		BatchDelay   time.Duration `yaml:"batch_delay"`
		BackoffMin   time.Duration `yaml:"backoff_min"`
		BackoffMax   time.Duration `yaml:"backoff_max"`
	} `yaml:"feed"`
	Detection struct {
		Method   string `yaml:"method"` // zscore, mad, iqr
		SeedDays int    `yaml:"seed_days"`
	} `yaml:"detection"`
	Alerts struct {
		Sink     string        `yaml:"sink"` // kafka, clickhouse, log
		Cooldown time.Duration `yaml:"cooldown"`
		Buffer   int           `yaml:"buffer"`
	} `yaml:"alerts"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		Table            string        `yaml:"table"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Cache struct {
		Redis struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("QUOTE_API_KEY"); v != "" {
		c.QuoteAPI.APIKey = v
	}
	if v := os.Getenv("QUOTE_API_URL"); v != "" {
		c.QuoteAPI.BaseURL = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Feed.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("ALERT_SINK"); v != "" {
		c.Alerts.Sink = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
		c.Cache.Redis.Enabled = true
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.QuoteAPI.BaseURL == "" {
		return fmt.Errorf("quote_api.base_url is required")
	}
	if c.QuoteAPI.APIKey == "" {
		return fmt.Errorf("quote_api.api_key is required")
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols cannot be empty")
	}
	switch c.Alerts.Sink {
	case "", "log":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers required for kafka alert sink")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic required for kafka alert sink")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host required for clickhouse alert sink")
		}
	default:
		return fmt.Errorf("alerts.sink must be 'kafka', 'clickhouse', or 'log', got '%s'", c.Alerts.Sink)
	}
	switch c.Detection.Method {
	case "", "zscore", "mad", "iqr":
	default:
		return fmt.Errorf("detection.method must be 'zscore', 'mad', or 'iqr', got '%s'", c.Detection.Method)
	}
	return nil
}
