package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wavelink/auth-service/internal/audit"
	"github.com/wavelink/auth-service/internal/config"
	"github.com/wavelink/auth-service/internal/events"
	"github.com/wavelink/auth-service/internal/httpserver"
	"github.com/wavelink/auth-service/internal/models"
	"github.com/wavelink/auth-service/internal/repo"
	"github.com/wavelink/auth-service/internal/service"
	"github.com/wavelink/auth-service/pkg/db"
	"github.com/wavelink/auth-service/pkg/logging"
	"github.com/wavelink/auth-service/pkg/tokens"
)

func main() {
	cfg := config.Load()

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	database, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	if err := database.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.PasswordResetToken{},
		&models.UserSession{},
	); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}

	rp := repo.New(database)

	svc := service.New(rp, tokens.SignerConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}, service.Options{
		AccessTokenTTL:   cfg.AccessTokenTTL,
		RefreshTokenTTL:  cfg.RefreshTokenTTL,
		ResetTokenTTL:    cfg.ResetTokenTTL,
		SessionTTL:       cfg.SessionTTL,
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutWindow:    cfg.LockoutWindow,
	})

	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		svc.Events = producer
	}

	if cfg.ESURL != "" {
		recorder, err := audit.NewRecorder(audit.Config{
			URL:      cfg.ESURL,
			User:     cfg.ESUser,
			Password: cfg.ESPassword,
			Index:    cfg.ESIndex,
		})
		if err != nil {
			log.Fatalf("audit init error: %v", err)
		}
		svc.Audit = recorder
	}

	e := echo.New()
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	httpserver.Register(e, &httpserver.Deps{
		AuthHandler: &httpserver.AuthHTTP{Svc: svc},
	})

	sweepCtx, sweepCancel := context.WithCancel(logging.IntoContext(context.Background(), logger))
	defer sweepCancel()
	sweeper := &service.Sweeper{Repo: rp, Interval: cfg.SweepInterval}
	go sweeper.Run(sweepCtx)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.ServerPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("echo start: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("echo shutdown: %v", err)
	}
}
