package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatmatch-service/internal/api"
	"chatmatch-service/internal/config"
	"chatmatch-service/internal/notify"
	"chatmatch-service/internal/repo"
	"chatmatch-service/internal/service"
	"chatmatch-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultConfigPath = "config.yaml"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", defaultConfigPath, "path to config file")
	flag.Parse()

	// without the default file, run on defaults plus CHATMATCH_* variables
	if _, err := os.Stat(configPath); err != nil && configPath == defaultConfigPath {
		configPath = ""
	}

	// .env is optional; real environment variables win
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Config
	config.LoadConfig(configPath)
	cfg := config.GlobalConfig

	// 2. Init Logger
	logger.InitLogger(cfg.Server.Mode)
	defer logger.Log.Sync()

	logger.Log.Info("Starting server...",
		zap.String("mode", cfg.Server.Mode),
		zap.String("database", cfg.Database.Driver),
		zap.String("notify", cfg.Notify.Driver),
	)

	// 3. Init DB & notification transport
	repo.InitDB()
	bus := initBus(cfg.Notify.Driver)

	// 4. Init Services
	services := service.NewContainer(repo.DB, bus, cfg)
	if err := services.Start(ctx); err != nil {
		logger.Log.Fatal("failed to start services", zap.Error(err))
	}

	// 5. Init Router
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	api.RegisterRoutes(r, services)

	// 6. Start Server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("HTTP server shutdown error", zap.Error(err))
	}
	services.Stop()
	closeTransports()
	logger.Log.Info("Server stopped")
}

func initBus(driver string) notify.Bus {
	switch driver {
	case "nats":
		repo.InitNATS()
		return notify.NewNATSBus(repo.NC)
	default:
		repo.InitRedis()
		return notify.NewRedisBus(repo.RDB)
	}
}

func closeTransports() {
	if repo.NC != nil {
		if err := repo.NC.Drain(); err != nil {
			logger.Log.Warn("NATS drain failed", zap.Error(err))
		}
	}
	if repo.RDB != nil {
		if err := repo.RDB.Close(); err != nil {
			logger.Log.Warn("Redis close failed", zap.Error(err))
		}
	}
	if sqlDB, err := repo.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
