package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/merchant-insights/internal/api"
	"github.com/dvloznov/merchant-insights/internal/api/handlers"
	"github.com/dvloznov/merchant-insights/internal/app"
	"github.com/dvloznov/merchant-insights/internal/config"
	"github.com/dvloznov/merchant-insights/internal/jobs/inmemory"
	"github.com/dvloznov/merchant-insights/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.NewWithLevel(cfg.Logger.Level)
	ctx := logger.WithContext(context.Background(), log)

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	if audit := application.Audit(); audit != nil {
		if err := audit.EnsureTables(ctx); err != nil {
			log.Warn().Err(err).Msg("Could not ensure audit tables")
		}
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(inmemory.Options{
		BufferSize: cfg.Jobs.BufferSize,
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
	}, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job workers")
		if err := jobQueue.Start(workerCtx, application.HandleJob); err != nil {
			log.Error().Err(err).Msg("Job workers stopped with error")
		}
	}()

	var documentsHandler *handlers.DocumentsHandler
	if cfg.Storage.Bucket != "" {
		documentsHandler = handlers.NewDocumentsHandler(application.Documents(), cfg.Storage.Bucket)
	} else {
		log.Warn().Msg("No GCS bucket configured - document uploads will be disabled")
	}

	handler := api.NewRouter(api.Handlers{
		Enrich:    handlers.NewEnrichHandler(application),
		Documents: documentsHandler,
		Jobs:      handlers.NewJobsHandler(jobQueue, jobStore),
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight jobs finish before cancelling them.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
