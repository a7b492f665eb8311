package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/capability/builtin"
	"github.com/flowhook/flowhook-api/internal/compiler"
	"github.com/flowhook/flowhook-api/internal/config"
	"github.com/flowhook/flowhook-api/internal/credentials"
	"github.com/flowhook/flowhook-api/internal/executor"
	"github.com/flowhook/flowhook-api/internal/handlers"
	"github.com/flowhook/flowhook-api/internal/ingress"
	"github.com/flowhook/flowhook-api/internal/middleware"
	"github.com/flowhook/flowhook-api/internal/migration"
	"github.com/flowhook/flowhook-api/internal/queue"
	"github.com/flowhook/flowhook-api/internal/repository"
	"github.com/flowhook/flowhook-api/internal/routes"
	"github.com/flowhook/flowhook-api/internal/temporal"
	"github.com/flowhook/flowhook-api/internal/temporal/activities"
	"github.com/flowhook/flowhook-api/internal/temporal/workflows"

	_ "github.com/lib/pq" // PostgreSQL driver
	tc "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

type application struct {
	config         *config.Config
	db             *sql.DB
	temporalClient tc.Client
	registry       *capability.Registry
	credManager    *credentials.Manager
	logger         zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	temporalLogger := temporal.NewZerologAdapter(logger)

	gooseAdapter := migration.NewGooseAdapter(logger)
	goose.SetLogger(gooseAdapter)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	// Initialize Temporal client.
	temporalClient, err := tc.Dial(tc.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporalLogger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Unable to create Temporal client")
	}
	defer temporalClient.Close()

	// Build the capability registry and the credential manager shared by the
	// worker and the HTTP layer.
	registry := builtin.BuildRegistry(cfg, logger)
	credManager := credentials.NewManager(
		repository.NewCredentialRepository(db),
		repository.NewAutomationRepository(db),
		repository.NewScheduleRepository(db),
		[]credentials.OAuthClient{
			credentials.NewTwitchClient(cfg.Providers.Twitch),
			credentials.NewSpotifyClient(cfg.Providers.Spotify),
		},
		logger,
	)

	// Create the application instance.
	app := &application{
		config:         cfg,
		db:             db,
		temporalClient: temporalClient,
		registry:       registry,
		credManager:    credManager,
		logger:         logger,
	}

	// Start the Temporal worker in a separate goroutine.
	temporalWorker := app.startTemporalWorker(logger)

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, temporalWorker, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	// Repositories
	automationRepo := repository.NewAutomationRepository(app.db)
	executionRepo := repository.NewExecutionRepository(app.db)
	scheduleRepo := repository.NewScheduleRepository(app.db)

	enqueuer := queue.NewTemporalEnqueuer(app.temporalClient, logger)

	// Handlers
	authHandler := handlers.NewAuthHandler(app.db, app.config, logger)
	automationHandler := handlers.NewAutomationHandler(automationRepo, executionRepo, logger)
	credentialHandler := handlers.NewCredentialHandler(app.credManager, logger)
	healthHandler := handlers.NewHealthHandler(app.db)
	eventsubHandler := ingress.NewTwitchEventSubHandler(
		app.config.Webhook.TwitchSecret,
		automationRepo,
		scheduleRepo,
		enqueuer,
		logger,
	)

	return routes.NewRouter(authHandler, automationHandler, credentialHandler, healthHandler, eventsubHandler)
}

func (app *application) startTemporalWorker(logger zerolog.Logger) worker.Worker {
	automationRepo := repository.NewAutomationRepository(app.db)
	executionRepo := repository.NewExecutionRepository(app.db)
	scheduleRepo := repository.NewScheduleRepository(app.db)

	comp := compiler.New(automationRepo, app.registry, logger)
	exec := executor.New(comp, executionRepo, scheduleRepo, app.credManager, app.config.Executor, logger)

	activityImpl := &activities.Activities{
		Executor: exec,
	}

	w := worker.New(app.temporalClient, temporal.TaskQueueName, worker.Options{})

	w.RegisterWorkflow(workflows.ExecutionWorkflow)
	w.RegisterActivity(activityImpl)

	// Start the worker in a goroutine so it doesn't block.
	go func() {
		logger.Info().Msg("Starting Temporal worker...")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("Unable to start worker")
		}
	}()

	return w
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, temporalWorker worker.Worker, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Stop the Temporal worker.
	logger.Info().Msg("Stopping Temporal worker...")
	temporalWorker.Stop()
	logger.Info().Msg("Temporal worker stopped.")
}
