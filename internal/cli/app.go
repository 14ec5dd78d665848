package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"filingctl/internal/api"
	"filingctl/internal/artifact"
	"filingctl/internal/config"
	"filingctl/internal/dispatch"
	"filingctl/internal/engine"
	"filingctl/internal/notify"
	"filingctl/internal/redisq"
	"filingctl/internal/retry"
	"filingctl/internal/runner"
	"filingctl/internal/store"
)

// App carries the global flags and lazily opens what a command needs.
type App struct {
	ConfigPath string
	LogLevel   string

	cfg    *config.Config
	logger *slog.Logger
	st     *store.Store
	rdb    *redis.Client
}

func (a *App) Config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.ConfigPath)
	if err != nil {
		return nil, err
	}
	if a.LogLevel != "" {
		if _, err := config.ParseLevel(a.LogLevel); err != nil {
			return nil, err
		}
		cfg.LogLevel = a.LogLevel
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger(os.Stderr)
	return cfg, nil
}

func (a *App) Logger() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

func (a *App) Store() (*store.Store, error) {
	if a.st != nil {
		return a.st, nil
	}
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}
	st, err := store.NewStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.st = st
	return st, nil
}

func (a *App) Close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.st != nil {
		errs = append(errs, a.st.Close())
	}
	return errors.Join(errs...)
}

// Runtime is the wired orchestrator and everything the worker pool and the
// gateway share.
type Runtime struct {
	Store     *store.Store
	Orch      *engine.Orchestrator
	Queue     dispatch.Queue
	Locker    dispatch.Locker
	Artifacts artifact.Store
	Health    []api.Pinger
	LeaseTTL  time.Duration
	Policy    retry.Policy
}

// Runtime reads the tunables from the config table and builds the
// orchestrator over the configured queue backend.
func (a *App) Runtime(ctx context.Context) (*Runtime, error) {
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}
	st, err := a.Store()
	if err != nil {
		return nil, err
	}
	logger := a.Logger()

	policy := retry.Policy{
		BaseDelay:   st.DurationOr(ctx, store.KeyBackoffBaseMS, time.Millisecond, retry.DefaultBaseDelay),
		MaxAttempts: st.IntOr(ctx, store.KeyMaxAttempts, retry.DefaultMaxAttempts),
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	execTimeout := st.DurationOr(ctx, store.KeyExecTimeout, time.Second, engine.DefaultExecTimeout)

	rt := &Runtime{
		Store:    st,
		Health:   []api.Pinger{st},
		LeaseTTL: execTimeout + cfg.Worker.LeaseGrace,
		Policy:   policy,
	}

	switch cfg.Queue.Backend {
	case config.BackendRedis:
		if a.rdb == nil {
			a.rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		}
		q := redisq.New(a.rdb, redisq.WithPrefix(cfg.Redis.Prefix), redisq.WithLogger(logger))
		if err := q.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		rt.Queue = q
		rt.Locker = redisq.NewLocker(a.rdb, cfg.Redis.Prefix)
		rt.Health = append(rt.Health, q)
	default:
		rt.Queue = st
		rt.Locker = dispatch.NewLocalLocker()
	}

	arts, err := artifact.NewFS(filepath.Join(cfg.DataDir, "artifacts"))
	if err != nil {
		return nil, err
	}
	rt.Artifacts = arts

	opts := []engine.Option{
		engine.WithPolicy(policy),
		engine.WithExecTimeout(execTimeout),
		engine.WithValidator(engine.Validator{Required: cfg.Validation.Required}),
		engine.WithNotifier(newNotifier(cfg, logger)),
		engine.WithLogger(logger),
	}
	if cfg.Runner.Command != "" {
		ex := runner.NewExec(cfg.Runner.Command, filepath.Join(cfg.DataDir, "work"), arts, logger)
		ex.Shell = cfg.Runner.Shell
		opts = append(opts, engine.WithRunner(ex))
	}
	rt.Orch = engine.New(st, rt.Queue, opts...)
	return rt, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) notify.Sink {
	sinks := notify.Multi{notify.Log{Logger: logger}}
	if cfg.Notify.WebhookURL != "" {
		wh := notify.NewWebhook(cfg.Notify.WebhookURL)
		if cfg.Notify.PublicURL != "" {
			wh.ArtifactURL = api.ArtifactURL(cfg.Notify.PublicURL)
		}
		sinks = append(sinks, wh)
	}
	return sinks
}

// NewPool builds a worker pool over the runtime. The caller decides when to
// stop it.
func (rt *Runtime) NewPool(cfg *config.Config, workers int, logger *slog.Logger, opts ...dispatch.PoolOption) *dispatch.Pool {
	base := []dispatch.PoolOption{
		dispatch.WithConcurrency(workers),
		dispatch.WithPollInterval(cfg.Worker.PollInterval),
		dispatch.WithLeaseTTL(rt.LeaseTTL),
		dispatch.WithLocker(rt.Locker),
		dispatch.WithRateLimit(cfg.Worker.RateLimit, cfg.Worker.Burst),
		dispatch.WithPoolLogger(logger),
	}
	return dispatch.NewPool(rt.Queue, rt.Orch, append(base, opts...)...)
}
