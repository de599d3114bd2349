// Package config holds the file-backed configuration shared by every
// testfleet subcommand.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/testfleet/internal/logging"
)

// Config is the root configuration document.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Lock       LockConfig       `yaml:"lock"`
	LockServer LockServerConfig `yaml:"lock_server"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	ReportDB   ReportDBConfig   `yaml:"report_db"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Reporter   ReporterConfig   `yaml:"reporter"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Worker     WorkerConfig     `yaml:"worker"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// KafkaConfig describes the broker and the work topic.
type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	Topic             string        `yaml:"topic"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
	DeleteTimeout     time.Duration `yaml:"delete_timeout"`
	PollTimeout       time.Duration `yaml:"poll_timeout"`
	ConsumerGroup     string        `yaml:"consumer_group"`
	ClientID          string        `yaml:"client_id"`
}

// LockConfig tells workers how to reach the target lock store.
type LockConfig struct {
	Backend       string        `yaml:"backend"` // http or redis
	URL           string        `yaml:"url"`
	ReadKey       string        `yaml:"read_key"`
	WriteKey      string        `yaml:"write_key"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPrefix   string        `yaml:"redis_prefix"`
}

// LockServerConfig configures the lock store HTTP service (testfleet lockd).
type LockServerConfig struct {
	Addr      string   `yaml:"addr"`
	DBPath    string   `yaml:"db_path"`
	ReadKeys  []string `yaml:"read_keys"`
	WriteKeys []string `yaml:"write_keys"`
}

// TrackerConfig points at the issue tracker.
type TrackerConfig struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ReportDBConfig points at the metrics/report database.
type ReportDBConfig struct {
	DSN string `yaml:"dsn"` // postgres://... or a SQLite path
}

// ClassifierConfig controls primary-tag selection.
type ClassifierConfig struct {
	SkipTag           string   `yaml:"skip_tag"`
	ParallelTag       string   `yaml:"parallel_tag"`
	NoiseTags         []string `yaml:"noise_tags"`
	InternalSkipTags  []string `yaml:"internal_skip_tags"`
	BaseComponentTags []string `yaml:"base_component_tags"`
	TieBreak          string   `yaml:"tie_break"` // lexical or first-seen
}

// ReporterConfig configures the async reporting endpoint.
type ReporterConfig struct {
	Addr          string        `yaml:"addr"`
	Mode          string        `yaml:"mode"` // child or inproc
	StartTimeout  time.Duration `yaml:"start_timeout"`
	WatchInterval time.Duration `yaml:"watch_interval"`
	QueueSize     int           `yaml:"queue_size"`
}

// ExecutorConfig configures the local test executor.
type ExecutorConfig struct {
	Command     []string `yaml:"command"`
	WorkDir     string   `yaml:"workdir"`
	MaxParallel int      `yaml:"max_parallel"`
}

// WorkerConfig identifies a worker process.
type WorkerConfig struct {
	Name string `yaml:"name"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Kafka: KafkaConfig{
			Brokers:           []string{"localhost:9092"},
			Topic:             "testfleet-tickets",
			Partitions:        2,
			ReplicationFactor: 1,
			DeleteTimeout:     30 * time.Second,
			PollTimeout:       60 * time.Second,
			ConsumerGroup:     "testfleet-workers",
			ClientID:          "testfleet",
		},
		Lock: LockConfig{
			Backend:       "http",
			URL:           "http://localhost:8090",
			Timeout:       10 * time.Second,
			RetryInterval: 15 * time.Second,
			RedisAddr:     "localhost:6379",
			RedisPrefix:   "testfleet:target:",
		},
		LockServer: LockServerConfig{
			Addr: ":8090",
		},
		Tracker: TrackerConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Classifier: ClassifierConfig{
			SkipTag:     "skip",
			ParallelTag: "parallel",
			NoiseTags: []string{
				"parametrize", "usefixtures", "filterwarnings", "timeout",
				"flaky", "order", "xfail", "skipif",
			},
			InternalSkipTags: []string{"tags_skip", "wip"},
			TieBreak:         "lexical",
		},
		Reporter: ReporterConfig{
			Addr:          "127.0.0.1:8765",
			Mode:          "child",
			StartTimeout:  10 * time.Second,
			WatchInterval: time.Second,
			QueueSize:     256,
		},
		Executor: ExecutorConfig{
			Command:     []string{"pytest", "{test}", "--target={target}", "--build={build}"},
			MaxParallel: 8,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults. Secrets may be overridden from the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TESTFLEET_LOCK_READ_KEY"); v != "" {
		c.Lock.ReadKey = v
	}
	if v := os.Getenv("TESTFLEET_LOCK_WRITE_KEY"); v != "" {
		c.Lock.WriteKey = v
	}
	if v := os.Getenv("TESTFLEET_TRACKER_TOKEN"); v != "" {
		c.Tracker.Token = v
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if err := logging.CheckFormat(c.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers: at least one broker is required")
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic: required")
	}
	if c.Kafka.Partitions <= 0 {
		return fmt.Errorf("kafka.partitions: must be positive, got %d", c.Kafka.Partitions)
	}
	if c.Kafka.ReplicationFactor <= 0 {
		return fmt.Errorf("kafka.replication_factor: must be positive, got %d", c.Kafka.ReplicationFactor)
	}
	switch c.Lock.Backend {
	case "http", "redis":
	default:
		return fmt.Errorf("lock.backend: unknown backend %q", c.Lock.Backend)
	}
	switch c.Classifier.TieBreak {
	case "lexical", "first-seen":
	default:
		return fmt.Errorf("classifier.tie_break: unknown mode %q", c.Classifier.TieBreak)
	}
	switch c.Reporter.Mode {
	case "child", "inproc":
	default:
		return fmt.Errorf("reporter.mode: unknown mode %q", c.Reporter.Mode)
	}
	return nil
}
