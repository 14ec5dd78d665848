package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "filingctl.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadFileOverDefaults(t *testing.T) {
	p := writeFile(t, `
database: /var/lib/filingctl/jobs.db
queue:
  backend: redis
redis:
  addr: redis:6379
worker:
  count: 4
  poll_interval: 1s
  rate_limit: 0.5
retry:
  max_delay: 30m
runner:
  command: python3 scripts/file_trademark.py
validation:
  required: [username, password, applicant_name]
`)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database != "/var/lib/filingctl/jobs.db" || cfg.Queue.Backend != BackendRedis {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Worker.Count != 4 || cfg.Worker.PollInterval != time.Second || cfg.Worker.RateLimit != 0.5 {
		t.Fatalf("worker = %+v", cfg.Worker)
	}
	if cfg.Retry.MaxDelay != 30*time.Minute {
		t.Fatalf("max_delay = %v", cfg.Retry.MaxDelay)
	}
	if len(cfg.Validation.Required) != 3 {
		t.Fatalf("required = %v", cfg.Validation.Required)
	}
	// untouched keys keep their defaults
	if cfg.Listen != ":8080" || cfg.Worker.LeaseGrace != time.Minute {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	wd, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Backend != BackendSQLite || cfg.Worker.Count != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"FILINGCTL_DATABASE":        "env.db",
		"FILINGCTL_WEBHOOK_URL":     "https://hooks.example/x",
		"FILINGCTL_WORKERS":         "3",
		"FILINGCTL_REQUIRED_FIELDS": "username, password,,mark",
	}
	err := cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database != "env.db" || cfg.Notify.WebhookURL != "https://hooks.example/x" || cfg.Worker.Count != 3 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if strings.Join(cfg.Validation.Required, "|") != "username|password|mark" {
		t.Fatalf("required = %v", cfg.Validation.Required)
	}

	bad := Default()
	err = bad.applyEnv(func(k string) (string, bool) {
		if k == "FILINGCTL_WORKERS" {
			return "many", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("expected error for non-numeric FILINGCTL_WORKERS")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":   func(c *Config) { c.Queue.Backend = "kafka" },
		"redis":     func(c *Config) { c.Queue.Backend = BackendRedis; c.Redis.Addr = "" },
		"workers":   func(c *Config) { c.Worker.Count = 0 },
		"log level": func(c *Config) { c.LogLevel = "chatty" },
		"format":    func(c *Config) { c.LogFormat = "xml" },
		"shell":     func(c *Config) { c.Runner.Shell = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	cfg.LogFormat = "json"

	var buf bytes.Buffer
	log := cfg.NewLogger(&buf)
	log.Info("hidden")
	log.Warn("shown", "job_id", "j1")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"job_id":"j1"`) {
		t.Fatalf("log output = %q", out)
	}
}
