package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/dropwatch/internal/api"
	"github.com/mattjoyce/dropwatch/internal/auth"
	"github.com/mattjoyce/dropwatch/internal/config"
	"github.com/mattjoyce/dropwatch/internal/dispatch"
	"github.com/mattjoyce/dropwatch/internal/events"
	"github.com/mattjoyce/dropwatch/internal/joblog"
	"github.com/mattjoyce/dropwatch/internal/launch"
	"github.com/mattjoyce/dropwatch/internal/lock"
	"github.com/mattjoyce/dropwatch/internal/log"
	"github.com/mattjoyce/dropwatch/internal/metrics"
	"github.com/mattjoyce/dropwatch/internal/storage"
	"github.com/mattjoyce/dropwatch/internal/trigger"
	"github.com/mattjoyce/dropwatch/internal/tui/watch"
	"github.com/mattjoyce/dropwatch/internal/webhook"
)

// loadConfig resolves configPath (discovering one when empty) and loads it.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWithOptions(log.Options{
		Level:      cfg.Service.LogLevel,
		File:       cfg.Service.LogFile,
		MaxSizeMB:  cfg.Service.LogMaxSizeMB,
		MaxBackups: cfg.Service.LogMaxBackups,
		MaxAgeDays: cfg.Service.LogMaxAgeDays,
	})
	defer log.Close()
	logger := log.WithComponent("main")
	logger.Info("dropwatch starting", "version", version, "config", cfg.SourceFile)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	for _, p := range []struct{ path, setting string }{
		{cfg.Input.Dir, "input.dir"},
		{cfg.Output.Dir, "output.dir"},
		{cfg.State.Path, "state.path"},
	} {
		if err := storage.ValidateLocalFilesystem(p.path, p.setting); err != nil {
			logger.Error("unsupported filesystem", "setting", p.setting, "error", err)
			return 1
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	history := joblog.New(db)
	if n, err := history.AbandonInFlight(ctx, "dispatcher restarted"); err != nil {
		logger.Warn("failed to close out jobs from previous run", "error", err)
	} else if n > 0 {
		logger.Warn("previous run left jobs in flight; marked abandoned", "count", n)
	}

	hub := events.NewHub(256)
	m := metrics.New()

	launcher := launch.New(cfg.Launcher.Path, log.WithComponent("launch"))
	if err := launcher.Check(); err != nil {
		logger.Warn("launcher not usable; jobs will fail until it is", "path", launcher.Path(), "error", err)
	}

	disp := dispatch.New(dispatch.OptionsFromConfig(cfg), dispatch.Deps{
		Launcher: launcher,
		History:  history,
		Events:   hub,
		Metrics:  m,
		Logger:   log.WithComponent("dispatch"),
	})

	var hookServer *webhook.Server
	if len(cfg.Webhooks.Endpoints) > 0 {
		wcfg, err := webhook.FromConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("invalid webhook configuration", "error", err)
			return 1
		}
		wcfg.MarkerSuffix = cfg.Output.Suffix
		hookServer = webhook.New(wcfg, trigger.NewDropper(cfg.Input.Dir, cfg.Input.Pattern), log.WithComponent("webhook"))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 3)
	dispDone := make(chan struct{})

	go func() {
		defer close(dispDone)
		if err := disp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen:       cfg.API.Listen,
			APIKey:       cfg.API.Auth.APIKey,
			Tokens:       auth.TokensFromConfig(cfg.API.Auth),
			InputDir:     cfg.Input.Dir,
			InputPattern: cfg.Input.Pattern,
			MarkerSuffix: cfg.Output.Suffix,
		}, api.Deps{
			Status:  disp,
			History: history,
			Events:  hub,
			Metrics: m,
			Logger:  log.WithComponent("api"),
		})
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if hookServer != nil {
		go func() {
			if err := hookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", cfg.Webhooks.Listen, "endpoints", len(cfg.Webhooks.Endpoints))
	}

	logger.Info("dropwatch running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()

	// Handlers write their final history rows before the database closes.
	<-dispDone
	logger.Info("dropwatch stopped")
	return code
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "API URL")
	apiKey := fs.String("api-key", os.Getenv("DROPWATCH_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or DROPWATCH_API_KEY env var.")
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
