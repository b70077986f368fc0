package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loomline/voicecore/internal/app"
	"github.com/loomline/voicecore/internal/config"
	"github.com/loomline/voicecore/internal/server"
	"github.com/loomline/voicecore/pkg/Logger"
)

// This is the main entry point for the API server. Loads every core
// component (C1-C10), registers job handlers, and exposes the REST/WS
// control surface.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := Logger.New(cfg.Debug)
	logger.Info("Logger initialized")

	ctx := context.Background()
	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer application.Close()

	application.RegisterJobHandlers()

	queueCtx, cancelQueue := context.WithCancel(ctx)
	defer cancelQueue()
	go func() {
		if err := application.Queue.Start(queueCtx); err != nil {
			logger.Errorf("job queue server stopped: %v", err)
		}
	}()

	router := gin.Default()
	server.RegisterRoutes(router, application)

	logger.Info("Application initialized successfully")

	startServer(router, logger)
}

func startServer(router *gin.Engine, logger *Logger.Logger) {
	port := 8088
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	addr := ":" + strconv.Itoa(port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.Handler(),
	}

	go func() {
		logger.Infof("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Info("Server shutdown complete")
	}
}
