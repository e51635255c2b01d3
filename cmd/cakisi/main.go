// Package main is the entry point for the cakisi tool server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cakisi/config"
	"cakisi/internal/app"
	"cakisi/internal/logging"
	"cakisi/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	result, err := config.Load()
	if err != nil {
		// Logging is not configured yet.
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := result.Config

	if err := logging.Setup(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		slog.Warn("invalid log level, using info", "error", err)
	}

	slog.Info("starting cakisi",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
		"env", cfg.Server.Env,
	)
	if result.ConfigFile != "" {
		slog.Info("config file loaded", "path", result.ConfigFile)
	}
	if result.DotEnvLoaded {
		slog.Info(".env file loaded")
	}

	application, err := app.New(context.Background(), app.Config{AppConfig: result})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("application shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	if err := application.Start(addr); err != nil {
		slog.Error("application failed", "error", err)
		_ = application.Shutdown(context.Background())
		os.Exit(1)
	}
	// Start returns as soon as the listener closes; wait for the flush.
	<-done
}
