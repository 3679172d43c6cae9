package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/leaf-inspector-go/internal/backend/onnx"
	"github.com/anime-shed/leaf-inspector-go/internal/config"
	"github.com/anime-shed/leaf-inspector-go/internal/container"
	"github.com/anime-shed/leaf-inspector-go/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (overrides LEAF_CONFIG_FILE)")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded .env")
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}

	logger.Configure(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	initCtx, cancelInit := context.WithTimeout(context.Background(), 5*time.Minute)
	c, err := container.NewContainer(initCtx, cfg)
	cancelInit()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize container")
	}

	server := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      c.Handler(),
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"address": cfg.ServerAddress(),
			"backend": cfg.Backend.Type,
			"timeout": cfg.Server.RequestTimeout,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := c.Close(); err != nil {
		logger.WithError(err).Warn("Failed to release model")
	}
	if err := onnx.DestroyEnvironment(); err != nil {
		logger.WithError(err).Warn("Failed to destroy ONNX environment")
	}

	logger.Info("Server exited")
}
