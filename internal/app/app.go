// Package app wires the cakisi components together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cakisi/config"
	"cakisi/internal/admin"
	"cakisi/internal/cache"
	"cakisi/internal/pipeline"
	"cakisi/internal/ratelimit"
	"cakisi/internal/server"
	"cakisi/internal/toolcalls"
	"cakisi/internal/tools"
)

// App represents the main application with all its dependencies.
type App struct {
	config    *config.Config
	remote    cache.Remote
	limiter   *ratelimit.Limiter
	pipeline  *pipeline.Registry
	toolCalls *toolcalls.Result
	server    *server.Server

	stopSweep chan struct{}
	sweepDone chan struct{}

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the result of config.Load.
	AppConfig *config.LoadResult
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}
	appCfg := cfg.AppConfig.Config

	app := &App{config: appCfg}

	if err := resetTempDir(appCfg.Server.TempDir); err != nil {
		return nil, err
	}

	if appCfg.Redis.Enabled {
		remote, err := cache.NewRedisRemote(cache.RedisConfig{
			URL:       appCfg.Redis.URL,
			KeyPrefix: appCfg.Redis.KeyPrefix,
			Timeout:   appCfg.RedisTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		app.remote = remote
	}

	pipelineDir := appCfg.Pipeline.Dir
	if pipelineDir == "" {
		pipelineDir = filepath.Join(appCfg.Server.TempDir, "pipeline")
	}
	reg, err := pipeline.New(pipeline.Config{Dir: pipelineDir, DefaultTTL: appCfg.PipelineTTL()})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize pipeline: %w", err), app.closeRemote())
	}
	app.pipeline = reg

	tcResult, err := toolcalls.New(ctx, appCfg)
	if err != nil {
		closeErr := errors.Join(app.pipeline.Close(), app.closeRemote())
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize tool call log: %w (also: close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize tool call log: %w", err)
	}
	app.toolCalls = tcResult

	registry := tools.DefaultRegistry(tools.Limits{
		MaxTextInputMB: appCfg.Uploads.MaxTextInputMB,
		MaxUploadMB:    appCfg.Uploads.MaxImageSizeMB,
	})
	toolCache := cache.NewToolCache(app.remote, cache.ToolCacheConfig{
		Tools:    registry.Cacheable(),
		Capacity: appCfg.Cache.TextToolSize,
		TTL:      appCfg.RedisTTL(),
	})
	app.limiter = ratelimit.New(app.remote, ratelimit.Config{
		RequestsPerMinute: appCfg.RateLimit.RequestsPerMinute,
		UploadMBPerHour:   appCfg.RateLimit.UploadMBPerHour,
		Dev:               appCfg.IsDev(),
	})
	recorder := toolcalls.NewRecorder(tcResult.Logger)

	app.logStartupInfo()

	deps := server.Deps{
		Tools:    registry,
		Cache:    toolCache,
		Limiter:  app.limiter,
		Pipeline: app.pipeline,
		Recorder: recorder,
		Remote:   app.remote,
		Storage:  tcResult.Storage,
		TempDir:  appCfg.Server.TempDir,
		Env:      appCfg.Server.Env,
	}
	if appCfg.AdminEnabled() {
		deps.Admin = admin.NewHandler(admin.Deps{
			Cache:    toolCache,
			Limiter:  app.limiter,
			Pipeline: app.pipeline,
			Recorder: recorder,
			Reader:   tcResult.Reader,
			Env:      appCfg.Server.Env,
		})
		slog.Info("admin API enabled", "path", "/admin")
	} else {
		slog.Info("admin API disabled")
	}

	app.server = server.New(deps, &server.Config{
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
		AdminKey:        appCfg.Admin.Key,
	})

	app.startSweepLoop(appCfg.PipelineSweepInterval())

	return app, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// HTTP server, sweep loop, pipeline registry, tool call log, remote store.
//
// Shutdown is idempotent. It attempts every step and returns the joined
// failures.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.stopSweep != nil {
		close(a.stopSweep)
		<-a.sweepDone
	}

	if a.pipeline != nil {
		if err := a.pipeline.Close(); err != nil {
			slog.Error("pipeline close error", "error", err)
			errs = append(errs, fmt.Errorf("pipeline close: %w", err))
		}
	}

	// Flushes pending tool call entries.
	if a.toolCalls != nil {
		if err := a.toolCalls.Close(); err != nil {
			slog.Error("tool call log close error", "error", err)
			errs = append(errs, fmt.Errorf("tool call log close: %w", err))
		}
	}

	if err := a.closeRemote(); err != nil {
		slog.Error("redis close error", "error", err)
		errs = append(errs, fmt.Errorf("redis close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

func (a *App) closeRemote() error {
	if a.remote == nil {
		return nil
	}
	return a.remote.Close()
}

// startSweepLoop removes expired pipeline files and idle rate limit windows
// every interval. A non-positive interval disables the loop; expired files
// are then only dropped when touched.
func (a *App) startSweepLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	a.stopSweep = make(chan struct{})
	a.sweepDone = make(chan struct{})

	go func() {
		defer close(a.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-a.stopSweep:
				return
			case <-ticker.C:
				a.sweep()
			}
		}
	}()
}

func (a *App) sweep() {
	files := a.pipeline.Sweep()
	windows := a.limiter.Sweep()
	if files > 0 || windows > 0 {
		slog.Debug("sweep complete", "pipeline_files", files, "rate_limit_windows", windows)
	}
}

// resetTempDir wipes and recreates the scratch directory so files from a
// previous run never leak into this one.
func resetTempDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("temp directory is required")
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear temp directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp directory %s: %w", dir, err)
	}
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.AdminEnabled() && cfg.Admin.Key == "" && !cfg.IsDev() {
		slog.Warn("SECURITY WARNING: admin API enabled without ADMIN_KEY",
			"security_risk", "unauthenticated access to cache and rate limit resets",
			"recommendation", "set ADMIN_KEY or disable the admin API")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if a.remote != nil {
		slog.Info("shared cache enabled", "ttl", cfg.RedisTTL())
	} else {
		slog.Info("shared cache disabled, using in-memory state only")
	}

	slog.Info("rate limits configured",
		"requests_per_minute", cfg.RateLimit.RequestsPerMinute,
		"upload_mb_per_hour", cfg.RateLimit.UploadMBPerHour,
		"dev", cfg.IsDev(),
	)

	slog.Info("pipeline configured",
		"dir", a.pipeline.Dir(),
		"ttl", cfg.PipelineTTL(),
		"sweep_interval", cfg.PipelineSweepInterval(),
	)

	if cfg.ToolCalls.Enabled {
		slog.Info("tool call log enabled",
			"storage_type", cfg.Storage.Type,
			"buffer_size", cfg.ToolCalls.BufferSize,
			"flush_interval", cfg.ToolCalls.FlushInterval,
			"retention_days", cfg.ToolCalls.RetentionDays,
		)
	} else {
		slog.Info("tool call log disabled")
	}
}
