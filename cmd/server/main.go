// Package main is the entry point for the agentgate server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/blueberrycongee/agentgate/internal/config"
	"github.com/blueberrycongee/agentgate/internal/observability"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("agentgate exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfgManager, err := config.NewManager(configPath, bootLogger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	defer cfgManager.Close()
	cfg := cfgManager.Get()

	logger, err := observability.NewLogger(cfg.Logging, os.Stdout)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)
	logger.Info("starting agentgate", "version", version, "config", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	cfgManager.OnChange(gateway.applyConfig)
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      gateway.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		_ = gateway.Close(context.Background())
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := gateway.Close(shutdownCtx); err != nil {
		logger.Error("component shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
