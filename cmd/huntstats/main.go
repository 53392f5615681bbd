package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dealnotedev/hunt-stats/internal/config"
	"github.com/dealnotedev/hunt-stats/internal/install"
	"github.com/dealnotedev/hunt-stats/internal/server"
	"github.com/dealnotedev/hunt-stats/internal/sounds"
	"github.com/dealnotedev/hunt-stats/internal/storage"
	"github.com/dealnotedev/hunt-stats/internal/tracker"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Optional; environment variables work without it.
	_ = godotenv.Load()

	cfgPath := flag.String("config", config.Path(), "path to the config file")
	invalidateAll := flag.Bool("invalidate-all", false, "mark all stored matches outdated and exit")
	invalidateTeam := flag.String("invalidate-team", "", "mark one team's matches outdated and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.DebugLogging)

	if err := run(cfg, *invalidateAll, *invalidateTeam); err != nil {
		log.Fatal().Err(err).Msg("exiting")
	}
}

func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
}

func run(cfg config.Values, invalidateAll bool, invalidateTeam string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	engine := tracker.New(tracker.Config{
		Store:        db,
		Player:       soundPlayer(cfg),
		Locate:       locator(cfg),
		Isolated:     cfg.Tracking.Isolated,
		PollInterval: cfg.Tracking.PollInterval(),
		TailInterval: cfg.Tracking.TailInterval(),
	})

	// The maintenance flags run against the same engine so the refreshed
	// bundle lands in storage-backed state, then exit.
	if invalidateAll || invalidateTeam != "" {
		if err := engine.Start(ctx); err != nil {
			return err
		}
		defer engine.Stop()

		if invalidateAll {
			return engine.InvalidateAll(ctx)
		}
		return engine.InvalidateTeam(ctx, invalidateTeam)
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	var feed *server.Server
	if cfg.ListenAddr != "" {
		feed = server.New(cfg.ListenAddr, engine.Bundles(), engine.MapChanges())
		if err := feed.Start(); err != nil {
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")

	if feed != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := feed.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("feed server shutdown incomplete")
		}
	}
	return nil
}

func soundPlayer(cfg config.Values) sounds.Player {
	if !cfg.Sounds.Enabled {
		return sounds.NopPlayer{}
	}
	return sounds.NewBeepPlayer()
}

func locator(cfg config.Values) func() (string, error) {
	if cfg.AttributesPath != "" {
		return func() (string, error) {
			if _, err := os.Stat(cfg.AttributesPath); err != nil {
				return "", fmt.Errorf("configured attributes path: %w", err)
			}
			return cfg.AttributesPath, nil
		}
	}
	return install.Locate
}
