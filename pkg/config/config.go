package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const (
	StorageModeMemory     = "memory"
	StorageModePersistent = "persistent"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Service     string `yaml:"service" default:"intelwatch"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Storage struct {
		Mode string `yaml:"mode" default:"memory"`
	} `yaml:"storage"`
	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns" default:"25"`
		MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"5m"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"intelwatch"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		Compress         bool          `yaml:"compress" default:"true"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"intelwatch"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled       bool     `yaml:"enabled"`
		Brokers       []string `yaml:"brokers"`
		AlertsTopic   string   `yaml:"alerts_topic" default:"intelwatch.alerts"`
		CommandsTopic string   `yaml:"commands_topic" default:"intelwatch.commands"`
		LogsTopic     string   `yaml:"logs_topic" default:"intelwatch.logs"`
		RequiredAcks  int      `yaml:"required_acks" default:"-1"`
		Compression   string   `yaml:"compression" default:"zstd"`
		Producer      struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"intelwatch"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"intelwatch.commands.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Queue struct {
		Workers     int           `yaml:"workers" default:"4"`
		MaxAttempts int           `yaml:"max_attempts" default:"3"`
		BackoffBase time.Duration `yaml:"backoff_base" default:"30s"`
		BackoffMax  time.Duration `yaml:"backoff_max" default:"15m"`
		TaskTimeout time.Duration `yaml:"task_timeout" default:"2m"`
		LaneRates   struct {
			Critical float64 `yaml:"critical"`
			High     float64 `yaml:"high" default:"20"`
			Normal   float64 `yaml:"normal" default:"10"`
			Low      float64 `yaml:"low" default:"2"`
		} `yaml:"lane_rates"`
	} `yaml:"queue"`
	Scheduler struct {
		PollInterval      time.Duration `yaml:"poll_interval" default:"60s"`
		BatchSize         int           `yaml:"batch_size" default:"5"`
		DueLimit          int           `yaml:"due_limit" default:"200"`
		AggregateInterval time.Duration `yaml:"aggregate_interval" default:"1h"`
		RetentionInterval time.Duration `yaml:"retention_interval" default:"24h"`
		RetrainInterval   time.Duration `yaml:"retrain_interval" default:"24h"`
		CheckLockTTL      time.Duration `yaml:"check_lock_ttl" default:"5m"`
	} `yaml:"scheduler"`
	Store struct {
		CompressionThreshold int           `yaml:"compression_threshold" default:"1024"`
		Compression          string        `yaml:"compression" default:"zstd"`
		BatchSize            int           `yaml:"batch_size" default:"50"`
		FlushInterval        time.Duration `yaml:"flush_interval" default:"2s"`
		CacheTTL             time.Duration `yaml:"cache_ttl" default:"5m"`
		CacheSize            int           `yaml:"cache_size" default:"512"`
	} `yaml:"store"`
	Detector struct {
		Mode        string `yaml:"mode" default:"balanced"`
		MinPoints   int    `yaml:"min_points" default:"14"`
		HistoryDays int    `yaml:"history_days" default:"90"`
	} `yaml:"detector"`
	Scorer struct {
		DailyCap int `yaml:"daily_cap" default:"5"`
	} `yaml:"scorer"`
	Aggregator struct {
		MAWindow int `yaml:"ma_window" default:"3"`
	} `yaml:"aggregator"`
	Retention struct {
		SnapshotDays int `yaml:"snapshot_days" default:"365"`
	} `yaml:"retention"`
	Analysis struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout" default:"60s"`
		Retries int           `yaml:"retries" default:"2"`
		// Upstream calls per second across all monitors.
		RateLimit float64 `yaml:"rate_limit" default:"5"`
		Burst     int     `yaml:"burst" default:"5"`
	} `yaml:"analysis"`
}

// Load reads and parses a YAML configuration file, filling unset fields from defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, decodes YAML bytes over them and validates.
// Defaults go first so an explicit false or zero in the file is kept.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
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

	c.applyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("INTELWATCH_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("INTELWATCH_STORAGE_MODE"); v != "" {
		c.Storage.Mode = v
	}
	if v := getenv("INTELWATCH_ANALYSIS_URL"); v != "" {
		c.Analysis.BaseURL = v
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Enabled = true
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Storage.Mode {
	case StorageModeMemory:
	case StorageModePersistent:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required in persistent mode")
		}
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required in persistent mode")
		}
	default:
		return fmt.Errorf("storage.mode must be '%s' or '%s', got '%s'", StorageModeMemory, StorageModePersistent, c.Storage.Mode)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	switch c.Detector.Mode {
	case "conservative", "balanced", "aggressive":
	default:
		return fmt.Errorf("detector.mode must be conservative, balanced or aggressive, got '%s'", c.Detector.Mode)
	}
	switch c.Store.Compression {
	case "zstd", "lz4", "none":
	default:
		return fmt.Errorf("store.compression must be zstd, lz4 or none, got '%s'", c.Store.Compression)
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive")
	}
	if c.Scorer.DailyCap <= 0 {
		return fmt.Errorf("scorer.daily_cap must be positive")
	}
	return nil
}
