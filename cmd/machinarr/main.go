package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/machinarr/machinarr/internal/api"
	"github.com/machinarr/machinarr/internal/app"
	"github.com/machinarr/machinarr/internal/config"
	"github.com/machinarr/machinarr/internal/database"
	"github.com/machinarr/machinarr/internal/logger"
	"github.com/machinarr/machinarr/internal/startup"
	"github.com/machinarr/machinarr/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "machinarr: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logger.New(logger.Config{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		Path:            cfg.Logging.Path,
		MaxSizeMB:       cfg.Logging.MaxSizeMB,
		MaxBackups:      cfg.Logging.MaxBackups,
		MaxAgeDays:      cfg.Logging.MaxAgeDays,
		Compress:        cfg.Logging.Compress,
		EnableStreaming: true,
		BufferSize:      1000,
	})
	defer log.Close()

	log.Info().
		Str("version", config.Version).
		Str("logLevel", cfg.Logging.Level).
		Int("sonarr", len(cfg.Sonarr)).
		Int("radarr", len(cfg.Radarr)).
		Msg("starting Machinarr")

	hub := websocket.NewHub(log.Logger)
	go hub.Run()
	defer hub.Stop()

	// Enable log streaming via WebSocket now that hub is available
	log.SetBroadcastHub(hub)

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	log.Info().Str("path", cfg.Database.Path).Msg("running database migrations")
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	a, err := app.New(cfg, db, hub, log.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Restore(ctx)
	go checkInstances(ctx, a, log)

	if err := a.Start(); err != nil {
		return fmt.Errorf("start automation: %w", err)
	}

	server := api.NewServer(a, hub, log, cfg.Server, log.Logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Server.Address())
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("automation shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}

// checkInstances pings every instance once at startup. An unreachable
// instance is logged and left configured. Its health item shows the failure
// until a queue poll reaches it.
func checkInstances(ctx context.Context, a *app.App, log *logger.Logger) {
	retryCfg := startup.DefaultRetryConfig()
	for _, svc := range a.Services() {
		name := fmt.Sprintf("%s/%s connection check", svc.Source(), svc.Name())
		err := startup.WithRetry(ctx, name, retryCfg, func() error {
			return a.CheckInstance(ctx, svc)
		}, &log.Logger)
		if err != nil {
			log.Warn().Err(err).
				Str("source", string(svc.Source())).
				Str("instance", svc.Name()).
				Msg("instance unreachable, continuing without it")
			continue
		}
		log.Info().Str("source", string(svc.Source())).Str("instance", svc.Name()).Msg("instance connected")
	}
}
