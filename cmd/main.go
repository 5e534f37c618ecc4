package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"stardaemon/internal/config"
	"stardaemon/internal/connector"
	"stardaemon/internal/database"
	"stardaemon/internal/dispatcher"
	"stardaemon/internal/domain"
	"stardaemon/internal/github"
	"stardaemon/internal/scheduler"
	"stardaemon/internal/status"
	"stardaemon/internal/summarizer"
	"stardaemon/internal/tracker"
	"stardaemon/internal/watcher"
	"syscall"
	"time"
)

const startupTimeout = 2 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load configuration",
			"error", err)

		return 1
	}

	level, ok := cfg.SlogLevel()
	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	if !ok {
		log.WarnContext(ctx, "Unknown LOG_LEVEL so INFO will be used",
			"logLevel", cfg.LogLevel)
	}

	log.InfoContext(ctx, "Configuration is loaded", cfg.LogAttrs()...)

	store, closeStore, err := initStore(ctx, cfg, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize state store",
			"error", err,
			"stateBackend", cfg.StateBackend)

		return 1
	}
	defer closeStore()

	seen := tracker.New(store, log)

	ghClient, err := github.NewClient(ctx, cfg.GitHubToken, cfg.GitHubAPIURL)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize GitHub client",
			"error", err,
			"githubAPIURL", cfg.GitHubAPIURL)

		return 1
	}

	poller := github.NewPoller(ghClient, cfg.GitHubUsername, log)
	username := resolveUsername(ctx, poller, cfg.GitHubUsername, log)
	if username == "" {
		return 1
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, startupTimeout)
	active := connector.Activate(startupCtx, connector.Build(cfg, log), cfg.DispatchTimeout(), log)
	startupCancel()

	if len(active) == 0 {
		log.ErrorContext(ctx, "No connector could be activated",
			"platforms", cfg.EnabledPlatforms())

		return 1
	}
	log.InfoContext(ctx, "Connectors are initialized",
		"active", connector.Names(active),
		"enabled", cfg.EnabledPlatforms())

	disp := dispatcher.New(active, dispatcher.Options{
		Template:           cfg.MessageTemplate,
		IncludeDescription: bool(cfg.IncludeDescription),
		MaxMessageLength:   cfg.MaxMessageLength,
		Timeout:            cfg.DispatchTimeout(),
	}, initOpenAISummarizer(ctx, cfg.OpenAIAPIKey, log), log)

	w := watcher.New(poller, seen, disp, watcher.Options{
		Username:         username,
		Interval:         cfg.CheckInterval(),
		NotifyOnFirstRun: bool(cfg.NotifyOnFirstRun),
	}, log)
	w.Start(ctx)

	// Registered before the first cycle starts.
	c, stopSignals := notifyShutdown()
	defer stopSignals()

	sched := scheduler.New(ctx, cfg.CheckInterval(), w.Cycle, log)
	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", sched.Spec())

		return 1
	}
	log.InfoContext(ctx, "Star-Daemon is started",
		"username", username,
		"spec", sched.Spec())

	var statusSrv *status.Server
	if cfg.StatusAddr != "" {
		statusSrv = status.New(cfg.StatusAddr, w, sched.Next, log)
		if err = statusSrv.Start(ctx); err != nil {
			log.ErrorContext(ctx, "Failed to start status server so it is disabled",
				"error", err,
				"statusAddr", cfg.StatusAddr)
			statusSrv = nil
		}
	}

	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())
	cancel()

	shutdownCtx := context.WithoutCancel(ctx)

	if statusSrv != nil {
		if err = statusSrv.Shutdown(shutdownCtx); err != nil {
			log.WarnContext(shutdownCtx, "Failed to stop status server",
				"error", err)
		}
	}

	sched.Stop()
	log.InfoContext(shutdownCtx, "Scheduler is stopped")

	if err = w.Flush(shutdownCtx); err != nil {
		log.ErrorContext(shutdownCtx, "Failed to flush seen-set on shutdown",
			"error", err,
			"seen", seen.Len())
	}

	log.InfoContext(shutdownCtx, "Exiting...",
		"signal", sig.String(),
		"seen", seen.Len(),
		"uptimeSeconds", time.Since(start).Seconds())

	return 0
}

func notifyShutdown() (<-chan os.Signal, func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	return c, func() { signal.Stop(c) }
}

func initStore(ctx context.Context, cfg config.Config, log *slog.Logger) (tracker.Store, func(), error) {
	if cfg.StateBackend != config.StateBackendSQLite {
		log.InfoContext(ctx, "Using state file",
			"stateFile", cfg.StateFile)

		return tracker.NewFileStore(cfg.StateFile, log), func() {}, nil
	}

	db, err := database.New(ctx, cfg.StateDBPath, log)
	if err != nil {
		return nil, nil, err
	}
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.StateDBPath)

	closeDB := func() {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.StateDBPath)
		}
	}

	return db, closeDB, nil
}

// resolveUsername returns the watched login, or "" when startup must stop.
// A GitHub outage at startup is not fatal when the username is configured.
func resolveUsername(ctx context.Context, poller *github.Poller, configured string, log *slog.Logger) string {
	loginCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	login, err := poller.Login(loginCtx)
	if err == nil {
		log.InfoContext(ctx, "GitHub account is resolved",
			"username", login)

		return login
	}

	if errors.Is(err, domain.ErrAuthentication) || configured == "" {
		log.ErrorContext(ctx, "Failed to resolve GitHub account",
			"error", err,
			"githubUsername", configured)

		return ""
	}

	log.WarnContext(ctx, "Failed to resolve GitHub account so the configured username will be used",
		"error", err,
		"githubUsername", configured)

	return configured
}

func initOpenAISummarizer(ctx context.Context, apiKey string, log *slog.Logger) summarizer.Summarizer {
	if apiKey == "" {
		log.InfoContext(ctx, "OPENAI_API_KEY is missing so {summary} falls back to the description",
			"envVar", "OPENAI_API_KEY")

		return nil
	}

	log.InfoContext(ctx, "OpenAI summarizer is initialized",
		"provider", "openai")

	return summarizer.NewCached(summarizer.NewOpenAISummarizer(apiKey))
}
