package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/cdv/internal/archive"
	"github.com/roach88/cdv/internal/config"
	"github.com/roach88/cdv/internal/engine"
	"github.com/roach88/cdv/internal/lock"
	"github.com/roach88/cdv/internal/store"
)

// app is the wiring shared by every command that touches the store.
type app struct {
	cfg      config.Config
	policy   config.Policy
	store    *store.Store
	engine   *engine.Engine
	archiver *archive.Archiver
	locker   lock.Locker
	logger   *slog.Logger
}

// resolveConfig reads the environment and applies flag overrides.
func (o *RootOptions) resolveConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if o.Database != "" {
		cfg.DB = o.Database
	}
	if o.Driver != "" {
		cfg.DBDriver = o.Driver
	}
	if o.PolicyFile != "" {
		cfg.PolicyFile = o.PolicyFile
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	return cfg, cfg.Validate()
}

// setupLogging installs the default slog logger on stderr.
func setupLogging(w io.Writer, format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, hopts)
	if format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// open loads configuration and policy, opens the store and builds the
// engine. Callers must Close the app.
func (o *RootOptions) open(ctx context.Context, f *OutputFormatter) (*app, error) {
	cfg, err := o.resolveConfig()
	if err != nil {
		return nil, f.CommandError(ErrCodeConfig, "invalid configuration", err)
	}
	logger := setupLogging(f.GetErrWriter(), cfg.LogFormat, o.Verbose)

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, f.CommandError(ErrCodeConfig, "invalid policy", err)
	}

	logger.Debug("opening store", "driver", cfg.DBDriver)
	st, err := store.OpenDriver(ctx, cfg.DBDriver, cfg.DB)
	if err != nil {
		return nil, f.CommandError(ErrCodeStore, "failed to open store", err)
	}

	a := &app{cfg: cfg, policy: policy, store: st, logger: logger}

	engineOpts := []engine.EngineOption{
		engine.WithPolicy(policy.Engine),
		engine.WithLogger(logger),
	}
	if o.Clock != nil {
		engineOpts = append(engineOpts, engine.WithClock(o.Clock))
	}
	if o.IDs != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(o.IDs))
	}
	if cfg.Archive.URL != "" {
		arch, err := archive.Open(ctx, cfg.Archive.URL, archive.Options{
			Region:   cfg.Archive.AWSRegion,
			Endpoint: cfg.Archive.S3Endpoint,
		})
		if err != nil {
			_ = st.Close()
			return nil, f.CommandError(ErrCodeConfig, "failed to open archive", err)
		}
		a.archiver = arch
		engineOpts = append(engineOpts, engine.WithArchiver(arch))
	}
	a.engine = engine.New(st, engineOpts...)

	if cfg.Redis.Addr != "" {
		rl := lock.NewRedisLocker(lock.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.locker = rl
		if err := rl.Ping(ctx); err != nil {
			_ = a.Close()
			return nil, f.CommandError(ErrCodeConfig, "failed to connect to redis", err)
		}
	} else {
		a.locker = lock.NewStoreLocker(st)
	}
	return a, nil
}

// Close releases the store, archive and lock connections.
func (a *app) Close() error {
	var firstErr error
	if a.archiver != nil {
		if err := a.archiver.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c, ok := a.locker.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		a.logger.Error("error closing resources", "error", firstErr)
	}
	return firstErr
}

// guarded runs fn under the job lock shared with the scheduler, so a
// one-shot command never overlaps a scheduled run of the same job.
func (a *app) guarded(ctx context.Context, job string, fn func(context.Context) error) (bool, error) {
	lease, ok, err := a.locker.TryLock(ctx, "job:"+job, 10*time.Minute)
	if err != nil {
		return false, fmt.Errorf("acquire %s lock: %w", job, err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("release job lock", "job", job, "error", err)
		}
	}()
	return true, fn(ctx)
}
