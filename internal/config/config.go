// Package config loads the process configuration: where the database and
// artifacts live, how the gateway listens, which queue backend workers use and
// how the workflow is launched.
//
// Retry and timeout knobs are not here. They live in the database config
// table so `filingctl config set` can change them between worker restarts.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "filingctl.yaml"

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	Database  string `yaml:"database"`
	DataDir   string `yaml:"data_dir"`
	Listen    string `yaml:"listen"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Queue      QueueConfig      `yaml:"queue"`
	Redis      RedisConfig      `yaml:"redis"`
	Worker     WorkerConfig     `yaml:"worker"`
	Retry      RetryConfig      `yaml:"retry"`
	Runner     RunnerConfig     `yaml:"runner"`
	Notify     NotifyConfig     `yaml:"notify"`
	Validation ValidationConfig `yaml:"validation"`
}

type QueueConfig struct {
	Backend string `yaml:"backend"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type WorkerConfig struct {
	Count        int           `yaml:"count"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// LeaseGrace is added to the execution timeout to get the lease TTL.
	LeaseGrace time.Duration `yaml:"lease_grace"`
	// RateLimit caps execution starts per second across the pool, 0 is off.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type RetryConfig struct {
	MaxDelay time.Duration `yaml:"max_delay"`
}

type RunnerConfig struct {
	Command string   `yaml:"command"`
	Shell   []string `yaml:"shell"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	// PublicURL is the gateway's external base URL, used to link artifacts
	// in notifications.
	PublicURL string `yaml:"public_url"`
}

type ValidationConfig struct {
	Required []string `yaml:"required"`
}

func Default() *Config {
	return &Config{
		Database:  "filingctl.db",
		DataDir:   "data",
		Listen:    ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Queue:     QueueConfig{Backend: BackendSQLite},
		Redis:     RedisConfig{Addr: "localhost:6379", Prefix: "filingctl"},
		Worker: WorkerConfig{
			Count:        1,
			PollInterval: 300 * time.Millisecond,
			LeaseGrace:   time.Minute,
		},
		Runner: RunnerConfig{Shell: []string{"bash", "-lc"}},
	}
}

// Load reads path over the defaults, applies FILINGCTL_* environment
// overrides and validates the result. An empty path reads DefaultPath when
// it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"FILINGCTL_DATABASE":       &c.Database,
		"FILINGCTL_DATA_DIR":       &c.DataDir,
		"FILINGCTL_LISTEN":         &c.Listen,
		"FILINGCTL_LOG_LEVEL":      &c.LogLevel,
		"FILINGCTL_LOG_FORMAT":     &c.LogFormat,
		"FILINGCTL_QUEUE_BACKEND":  &c.Queue.Backend,
		"FILINGCTL_REDIS_ADDR":     &c.Redis.Addr,
		"FILINGCTL_REDIS_PASSWORD": &c.Redis.Password,
		"FILINGCTL_RUNNER_COMMAND": &c.Runner.Command,
		"FILINGCTL_WEBHOOK_URL":    &c.Notify.WebhookURL,
		"FILINGCTL_PUBLIC_URL":     &c.Notify.PublicURL,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("FILINGCTL_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FILINGCTL_WORKERS: %w", err)
		}
		c.Worker.Count = n
	}
	if v, ok := lookup("FILINGCTL_REQUIRED_FIELDS"); ok {
		c.Validation.Required = splitList(v)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	switch c.Queue.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q is not one of sqlite, redis", c.Queue.Backend))
	}
	if c.Worker.Count < 1 {
		errs = append(errs, errors.New("worker.count must be at least 1"))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	if c.Worker.RateLimit < 0 {
		errs = append(errs, errors.New("worker.rate_limit must not be negative"))
	}
	if len(c.Runner.Shell) == 0 {
		errs = append(errs, errors.New("runner.shell must name an interpreter"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not one of text, json", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return l, nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
