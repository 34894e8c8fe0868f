package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"github.com/AbstractPlay/session-engine/broadcast"
	"github.com/AbstractPlay/session-engine/config"
	"github.com/AbstractPlay/session-engine/handlers"
	"github.com/AbstractPlay/session-engine/repositories"
	api "github.com/AbstractPlay/session-engine/routes"
	"github.com/AbstractPlay/session-engine/rules"
	"github.com/AbstractPlay/session-engine/services"
	"github.com/AbstractPlay/session-engine/store"
)

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		slog.Int("port", cfg.ServerPort),
		slog.String("store_driver", cfg.StoreDriver))

	// Подключение к хранилищу
	st, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to connect to store", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("store connection established")

	// Инициализация WebSocket Hub
	wsHub := broadcast.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket Hub started")

	// Инициализация репозиториев
	userRepo := repositories.NewStoreUserRepository(st)
	challengeRepo := repositories.NewStoreChallengeRepository(st)
	sessionRepo := repositories.NewStoreSessionRepository(st)
	ratingRepo := repositories.NewStoreRatingRepository(st)
	gameListRepo := repositories.NewStoreGameListRepository(st)
	logger.Info("Repositories initialized")

	// Реестр движков правил. Конкретные игры регистрируются здесь.
	registry := rules.NewRegistry()

	// Инициализация сервисов
	var notifier services.Notifier
	if cfg.SMTP.Host != "" {
		notifier = services.NewSMTPNotifier(services.SMTPConfig{
			Host: cfg.SMTP.Host,
			Port: cfg.SMTP.Port,
			User: cfg.SMTP.User,
			Pass: cfg.SMTP.Pass,
			From: cfg.SMTP.From,
		}, userRepo, logger)
	} else {
		notifier = services.NewLogNotifier(logger)
	}

	ratingService := services.NewRatingService(ratingRepo, logger)
	indexService := services.NewIndexService(gameListRepo, userRepo, logger)
	matchStarter := services.NewMatchStarter(registry, sessionRepo, userRepo, indexService, notifier, wsHub, logger)
	challengeService := services.NewChallengeService(challengeRepo, userRepo, registry, matchStarter, notifier, logger)
	moveService := services.NewMoveService(sessionRepo, userRepo, registry, ratingService, indexService, notifier, wsHub, logger)
	sessionService := services.NewSessionService(sessionRepo, gameListRepo)
	logger.Info("Services initialized")

	// Запуск зачистки завершённых партий из личных списков
	retention := time.Duration(cfg.CompletedRetentionHours) * time.Hour
	sched, err := services.StartRetentionScheduler(indexService, retention, logger)
	if err != nil {
		logger.Error("failed to start retention scheduler", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logger.Error("failed to shut down scheduler", slog.Any("error", err))
		}
	}()
	logger.Info("retention scheduler started", slog.Duration("retention", retention))

	// Инициализация обработчиков HTTP
	challengeHandler := handlers.NewChallengeHandler(challengeService)
	sessionHandler := handlers.NewSessionHandler(sessionService, moveService)
	ratingHandler := handlers.NewRatingHandler(ratingService)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub, logger)
	logger.Info("HTTP handlers initialized")

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		cfg.JWTSecretKey,
		challengeHandler,
		sessionHandler,
		ratingHandler,
		webSocketHandler,
	)
	logger.Info("Routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		} else {
			logger.Info("server stopped gracefully")
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		} else {
			logger.Info("server shutdown complete")
		}
	}
	logger.Info("application exited")
}

// openStore выбирает драйвер хранилища по конфигурации.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return store.NewPostgres(cfg.DatabaseURL, 5*time.Second)
	case "dynamo":
		return store.NewDynamo(context.Background(), store.DynamoConfig{
			TableName:       cfg.Dynamo.TableName,
			Region:          cfg.Dynamo.Region,
			Endpoint:        cfg.Dynamo.Endpoint,
			AccessKeyID:     cfg.Dynamo.AccessKeyID,
			SecretAccessKey: cfg.Dynamo.SecretAccessKey,
		})
	case "memory":
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
