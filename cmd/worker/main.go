package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/campusdesk/portal/internal/calendar"
	"github.com/campusdesk/portal/internal/config"
	"github.com/campusdesk/portal/internal/database"
	"github.com/campusdesk/portal/internal/logger"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/notifications"
	"github.com/campusdesk/portal/internal/realtime"
	"github.com/campusdesk/portal/internal/workers"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	log.Info().Str("version", version).Msg("Starting portal worker")

	db, err := database.Open(cfg.Database.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer database.Close(db)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Notifications created here reach the servers' streams only through
	// the shared hub
	if err := realtime.RequireShared(cfg); err != nil {
		log.Fatal().Err(err).Msg("Invalid realtime backend for worker")
	}
	hub, _, err := realtime.FromConfig(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start realtime hub")
	}
	defer hub.Close()
	if err := realtime.RegisterCallbacks(db, hub, log, models.TableNotifications); err != nil {
		log.Fatal().Err(err).Msg("Failed to register realtime callbacks")
	}

	// Initialize Asynq client (for the reminder scheduler)
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: cfg.Redis.Address,
	})
	defer asynqClient.Close()

	// Initialize Asynq server
	asynqServer := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr: cfg.Redis.Address,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			Logger: &logger.AsynqLogger{Log: log},
		},
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	handlers := workers.NewHandlers(db, notifications.NewService(db, log), calendar.NewService(db, log), log)
	handlers.Register(mux)

	scheduler, err := workers.NewReminderScheduler(cfg.Reminders.Schedule, asynqClient, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid reminder schedule")
	}
	go scheduler.Run(ctx)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		log.Info().Msg("Starting Asynq worker server...")
		if err := asynqServer.Run(mux); err != nil {
			log.Fatal().Err(err).Msg("Asynq worker server failed")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("Received shutdown signal, shutting down gracefully...")

	stop()
	log.Info().Msg("Stopping Asynq worker - waiting for tasks to finish...")
	asynqServer.Shutdown()

	log.Info().Msg("Worker shutdown complete")
}
