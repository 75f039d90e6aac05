package main

import (
	"github.com/huangang/offboarding/internal/config"
	"github.com/huangang/offboarding/internal/handlers"
	"github.com/huangang/offboarding/internal/models"
	"github.com/huangang/offboarding/internal/services"
	"github.com/huangang/offboarding/internal/utils"
	"github.com/huangang/offboarding/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	taskQueue           services.TaskQueue
	worker              *services.Worker
	sweeper             *services.Sweeper
	sessions            *services.SessionManager
	hub                 *services.ViewEventHub
	conversationHandler *handlers.ConversationHandler
	sessionHandler      *handlers.SessionHandler
	healthHandler       *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()

	conversations := services.NewConversationService(db)
	ratings := services.NewRatingService(db)
	hub := services.NewViewEventHub()

	// Task queue uses Redis if enabled, otherwise runs submissions in-process
	taskQueue := services.InitTaskQueue(cfg)
	sessions := services.NewSessionManager(conversations, ratings, taskQueue, hub, cfg.Session)
	processor := services.NewSubmissionProcessor(db, ratings, sessions)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(processor.Process)
	}

	// Worker and sessions live in the same process, so results reach the
	// engine that sent the command
	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(processor.Process)
			if err := worker.Start(); err != nil {
				logger.Fatalf("Failed to start worker: %v", err)
			}
		}
	}

	sweeper := services.NewSweeper(sessions, cfg.Session.SweepSpec)
	if err := sweeper.Start(); err != nil {
		logger.Fatalf("Failed to start session sweeper: %v", err)
	}

	if err := services.RegisterSessionGauges(sessions, hub); err != nil {
		logger.Warn().Err(err).Msg("Failed to register session gauges")
	}

	return &appServices{
		taskQueue:           taskQueue,
		worker:              worker,
		sweeper:             sweeper,
		sessions:            sessions,
		hub:                 hub,
		conversationHandler: handlers.NewConversationHandler(conversations, ratings, sessions, processor),
		sessionHandler:      handlers.NewSessionHandler(conversations, sessions, hub),
		healthHandler:       handlers.NewHealthHandler(db, taskQueue, sessions, hub),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.sweeper.Stop()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}
}
