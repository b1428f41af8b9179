package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"match-service/internal/config"
	"match-service/internal/handler"
	"match-service/internal/repository"
	"match-service/internal/router"
	"match-service/internal/service/kafka"
	"match-service/internal/service/outbox"
	"match-service/internal/service/presence"
	"match-service/internal/usecase"
	"match-service/internal/workers"
	"match-service/internal/ws"
	"match-service/pkg/cache"
	"match-service/pkg/eventbus"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func NewServer(cfg config.AppConfig) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := config.ConnectDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisCache := cache.NewCache([]string{cfg.RedisAddr}, cfg.RedisPass, false)
	defer redisCache.Close()

	// Repositories
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	matchRepo := repository.NewMatchRepository(db)
	convoRepo := repository.NewConversationRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Presence publishes transitions on the bus; the outbox subscribes.
	bus := eventbus.NewBus(logger)
	tracker := presence.NewTracker(redisCache, userRepo, bus, logger)

	hub := ws.NewHub(logger)
	go hub.Run()

	box := outbox.NewOutbox(notificationRepo, hub, tracker, logger)
	box.SubscribeTo(bus)

	var producer *kafka.Producer
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(cfg.KafkaBrokers, logger)
		defer producer.Close()
	}

	// Usecases
	matchUC := usecase.NewMatchUsecase(userRepo, matchRepo, convoRepo, box, notificationRepo, producer, logger)
	sessionUC := usecase.NewSessionUsecase(sessionRepo, userRepo, tracker, logger)

	// A dropped last connection flows back into the session layer, which
	// decides whether the user really went offline.
	hub.OnDisconnect(sessionUC.HandleDisconnect)

	// Background sweeps
	sweeps := workers.NewWorkers(tracker, matchUC, sessionUC, box)
	sweeps.Start()
	defer sweeps.Stop()

	// HTTP
	sessionHandler := handler.NewSessionHandler(sessionUC, logger)
	matchHandler := handler.NewMatchHandler(matchUC, logger)
	notificationHandler := handler.NewNotificationHandler(notificationRepo, logger)
	wsHandler := handler.NewWSHandler(hub, logger)

	r := chi.NewRouter()
	router.SetupRoutes(r, sessionUC, sessionHandler, matchHandler, notificationHandler, wsHandler)

	srv := &http.Server{
		Addr:    cfg.HTTPAddress,
		Handler: r,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
