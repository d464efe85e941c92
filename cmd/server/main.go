package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/chat"
	"chatcore/internal/config"
	"chatcore/internal/httpserver"
	"chatcore/internal/logging"
	"chatcore/internal/security"
	"chatcore/internal/service"
	"chatcore/internal/store/sqlite"
	"chatcore/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.AppName, cfg.Debug)
	defer logger.Sync()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	userRepo := sqlite.NewUserRepo(db)
	convRepo := sqlite.NewConversationRepo(db)
	msgRepo := sqlite.NewMessageRepo(db)
	partRepo := sqlite.NewParticipantRepo(db)

	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)

	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey))
	if err != nil {
		logger.Fatal("failed to initialize encryptor", zap.Error(err))
	}

	hub := ws.NewHub(logger)

	presence := chat.NewPresenceTracker(userRepo, partRepo, hub, cfg.HeartbeatTimeout, logger)
	typing := chat.NewTypingCoordinator(hub, cfg.TypingExpiry)
	directory := chat.NewDirectory(convRepo, partRepo, userRepo, logger)
	messages := chat.NewMessageService(msgRepo, convRepo, partRepo, userRepo, encryptor,
		logger, cfg.MessagePageSize, cfg.MaxMessagesPerConversation)
	dispatcher := chat.NewDispatcher(messages, directory, presence, typing, hub, hub, logger)

	gateway := ws.NewGateway(hub, dispatcher, presence, typing, directory, tokenSvc, userRepo,
		cfg.SessionBufferSize, logger)

	router := httpserver.NewRouter(httpserver.Deps{
		Config:     cfg,
		Users:      userRepo,
		AuthSvc:    service.NewAuthService(userRepo, tokenSvc, passwordHasher),
		UserSvc:    service.NewUserService(userRepo),
		Directory:  directory,
		Messages:   messages,
		Dispatcher: dispatcher,
		Gateway:    gateway,
		Tokens:     tokenSvc,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	hub.CloseAll()
	typing.Shutdown()
	presence.Shutdown()
}
