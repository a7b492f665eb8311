package main

import (
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowhook/flowhook-api/internal/capability/builtin"
	"github.com/flowhook/flowhook-api/internal/compiler"
	"github.com/flowhook/flowhook-api/internal/config"
	"github.com/flowhook/flowhook-api/internal/credentials"
	"github.com/flowhook/flowhook-api/internal/queue"
	"github.com/flowhook/flowhook-api/internal/repository"
	"github.com/flowhook/flowhook-api/internal/scheduler"
	"github.com/flowhook/flowhook-api/internal/temporal"

	_ "github.com/lib/pq" // PostgreSQL driver
	tc "go.temporal.io/sdk/client"
)

// The scheduler runs as its own process so polling cadence is unaffected by
// API traffic or worker load.
func main() {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	temporalClient, err := tc.Dial(tc.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporal.NewZerologAdapter(logger),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Unable to create Temporal client")
	}
	defer temporalClient.Close()

	automationRepo := repository.NewAutomationRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)

	registry := builtin.BuildRegistry(cfg, logger)
	credManager := credentials.NewManager(
		repository.NewCredentialRepository(db),
		automationRepo,
		scheduleRepo,
		[]credentials.OAuthClient{
			credentials.NewTwitchClient(cfg.Providers.Twitch),
			credentials.NewSpotifyClient(cfg.Providers.Spotify),
		},
		logger,
	)

	comp := compiler.New(automationRepo, registry, logger)
	enqueuer := queue.NewTemporalEnqueuer(temporalClient, logger)

	sched := scheduler.New(scheduleRepo, comp, enqueuer, credManager, cfg.Scheduler, logger)
	if err := sched.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Unable to start scheduler")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Msgf("Received signal: %s. Shutting down...", sig)

	sched.Stop()
	logger.Info().Msg("Scheduler terminated.")
}
