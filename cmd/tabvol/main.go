// Command tabvol is the cross-tab media control daemon: it attaches to a
// running Chromium instance over the DevTools protocol, discovers playing
// audio and video in every open tab, keeps per-site volume locks enforced,
// and serves a local control panel API.
//
// Usage:
//
//	tabvol -browser ws://127.0.0.1:9222/...   # attach to a running browser
//	tabvol -config tabvol.yaml                # full configuration
//	tabvol                                    # launch a local browser
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
	"time"

	_ "modernc.org/sqlite"

	"github.com/karune/tabvol/bridge"
	"github.com/karune/tabvol/config"
	"github.com/karune/tabvol/panel"
	"github.com/karune/tabvol/sitevol"
	"github.com/karune/tabvol/tabagent"
)

func main() {
	configPath := flag.String("config", "", "path to tabvol.yaml config file")
	browserURL := flag.String("browser", "", "DevTools WebSocket URL of a running browser (empty = launch)")
	listen := flag.String("listen", "", "panel listen address (overrides config)")
	dbPath := flag.String("db", "", "site-volume database path (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *browserURL, *listen, *dbPath); err != nil {
		logger.Error("tabvol: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, browserURL, listen, dbPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if browserURL != "" {
		cfg.Browser.Remote = browserURL
	}
	if listen != "" {
		cfg.Panel.Listen = listen
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}

	store, err := sitevol.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	router := bridge.New(bridge.WithLogger(logger))
	store.RegisterBridge(router)

	sup := tabagent.NewSupervisor(tabagent.SupervisorConfig{
		Browser: tabagent.BrowserConfig{
			RemoteURL: cfg.Browser.Remote,
			Headless:  cfg.Browser.Headless,
			Stealth:   cfg.Browser.Stealth,
		},
		Router: router,
		Scan: tabagent.ScanOptions{
			VisibleLimit:   cfg.Scan.VisibleLimit,
			OffscreenLimit: cfg.Scan.OffscreenLimit,
			ViewportMargin: cfg.Scan.ViewportMargin,
			FeedHosts:      cfg.Scan.FeedHosts,
			FeedMinWidth:   float64(cfg.Scan.FeedMinWidth),
			FeedMinHeight:  float64(cfg.Scan.FeedMinHeight),
			FeedMargin:     cfg.Scan.FeedMargin,
		},
		Logger: logger,
	})
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	defer sup.Stop()

	p := panel.New(panel.Config{
		Router:       router,
		Tabs:         sup,
		PollInterval: cfg.Panel.PollInterval,
		QuietDelay:   cfg.Panel.QuietDelay,
		Logger:       logger,
	})
	go p.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.Panel.Listen,
		Handler: p.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tabvol: panel listening", "addr", cfg.Panel.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("panel server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tabvol: panel shutdown", "error", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
