package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/syncpad/backend/internal/api"
	"github.com/syncpad/backend/internal/auth"
	"github.com/syncpad/backend/internal/collab"
	"github.com/syncpad/backend/internal/config"
	"github.com/syncpad/backend/internal/logger"
	"github.com/syncpad/backend/internal/offline"
	"github.com/syncpad/backend/internal/store"
)

func main() {
	// Load .env file if exists
	godotenv.Load()

	log := logger.Setup()
	cfg := config.Load()
	auth.Configure(cfg.JWTSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	buffer, err := offline.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer buffer.Close()

	engine := collab.NewEngine(db, buffer)
	wsServer := collab.NewServer(engine, db)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is *
		MaxAge:           12 * time.Hour,
	}))

	handler := api.NewHandler(db, engine)
	handler.RegisterRoutes(r)

	r.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, wsServer.RoomStats())
	})

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Stop accepting new sessions, then drain with a short deadline
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	engine.Rooms().CloseAll()

	cancel()
	log.Info("server stopped")
}
