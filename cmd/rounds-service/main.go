package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/snanayakkara/operator-sub003/internal/api"
	"github.com/snanayakkara/operator-sub003/internal/clients"
	"github.com/snanayakkara/operator-sub003/internal/planner"
	"github.com/snanayakkara/operator-sub003/internal/session"
	"github.com/snanayakkara/operator-sub003/internal/state"
	"github.com/snanayakkara/operator-sub003/pkg/config"
	"github.com/snanayakkara/operator-sub003/pkg/database"
	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/repository"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting Rounds Service")

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.CreateSchema(ctx); err != nil {
		cancel()
		log.WithError(err).Fatal("Failed to create database schema")
	}
	cancel()

	// Initialize repositories
	patientRepo := repository.NewPatientRepository(db.DB, log)
	wardEntryRepo := repository.NewWardEntryRepository(db.DB, log)
	reviewRepo := repository.NewReviewRepository(db.DB, log)
	importLogRepo := repository.NewImportLogRepository(db.DB, log)

	// Initialize the reconciliation core
	store := state.New(patientRepo, wardEntryRepo, log)
	plan := planner.New(planner.Policy{
		AutoApplyThreshold: cfg.Reconcile.AutoApplyThreshold,
		ReviewFloor:        cfg.Reconcile.ReviewFloor,
		EDDToleranceDays:   cfg.Reconcile.EDDToleranceDays,
	}, log)

	// Initialize the conversational collaborator client
	timeout := time.Duration(cfg.Collaborators.TimeoutSeconds) * time.Second
	conversation := clients.NewConversationClient(cfg.Collaborators.ConversationBaseURL, timeout, log)

	// Initialize services
	sessions := session.NewManager(conversation, store, plan, reviewRepo, log)
	service := api.NewService(store, plan, patientRepo, reviewRepo, importLogRepo, log)

	// Initialize HTTP handlers
	handlers := api.NewHandlers(service, sessions, log)

	// Setup HTTP router
	router := mux.NewRouter()

	// Add middleware
	router.Use(api.LoggingMiddleware(log))
	router.Use(api.CORSMiddleware)

	// Register routes
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	handlers.RegisterRoutes(apiRouter)

	// Setup HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Rounds Service")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shutdown server gracefully")
	}

	log.Info("Rounds Service stopped")
}
