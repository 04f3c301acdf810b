package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"carinsure/internal/auth"
	"carinsure/internal/cache"
	"carinsure/internal/config"
	"carinsure/internal/db"
	"carinsure/internal/handler"
	"carinsure/internal/logger"
	"carinsure/internal/repository"
	"carinsure/internal/router"
	"carinsure/internal/service"
)

// @title Vehicle Insurance Policy API
// @version 1.0
// @description Submission, lookup and review of customer vehicle insurance policies.
// @host localhost:5000
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg := config.Load()

	log := logger.New(cfg.LogFile, cfg.IsProduction())
	defer log.Sync() //nolint:errcheck

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("database init", zap.Error(err))
	}

	if cfg.ResetDB {
		log.Warn("RESET_DB=true detected, dropping all tables")
		if err := db.Reset(gormDB); err != nil {
			log.Warn("drop tables", zap.Error(err))
		}
	}

	if err := db.Migrate(gormDB); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.CachePrefix)
	defer cacheClient.Close()
	if err := cacheClient.Ping(context.Background()); err != nil {
		log.Warn("redis unavailable, serving without cache", zap.Error(err))
	}

	// Initialize repositories
	policyRepo := repository.NewPolicyRepository(gormDB)
	userRepo := repository.NewUserRepository(gormDB)

	// Initialize services
	policyService := service.NewPolicyService(policyRepo, userRepo, cacheClient, log, service.Options{
		StrictDates: cfg.StrictPolicyDates,
	})

	// Initialize handlers
	policyHandler := handler.NewPolicyHandler(policyService, log)

	e := echo.New()
	e.HideBanner = true
	router.Register(e, cfg, auth.NewJWTService(cfg.JWTSecret), policyHandler)

	log.Info("swagger documentation available", zap.String("url", swaggerURL(cfg.SwaggerHost)))

	go func() {
		addr := ":" + cfg.ServerPort
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal("server start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
}

func swaggerURL(host string) string {
	if host == "" {
		// container listens on 8080, mapped to 5000 externally
		return "http://localhost:5000/swagger/index.html"
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host + "/swagger/index.html"
	}
	return "http://" + host + "/swagger/index.html"
}
