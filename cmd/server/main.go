package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/config"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/database"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/events"
	applog "github.com/Rifat-Hossain49/MediMitro-sub001/internal/logger"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/routes"
	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/services"
	chatws "github.com/Rifat-Hossain49/MediMitro-sub001/internal/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog := applog.New(cfg.AppEnv, cfg.LogLevel)
	defer func() { _ = zlog.Sync() }()
	if !cfg.EnvFileLoaded {
		zlog.Info("no .env file found, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		zlog.Fatal("DB_URL is required")
	}
	pool, err := database.Connect(ctx, cfg.DBUrl)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	zlog.Info("connected to PostgreSQL")

	// 3. Event fan-out
	hub := chatws.NewHub(zlog.Named("hub"))
	go hub.Run(ctx)

	var publisher services.EventPublisher = hub
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(cfg.RedisURL)
		if err != nil {
			zlog.Fatal("failed to configure redis", zap.Error(err))
		}
		defer client.Close()

		broker := events.NewRedisBroker(client, events.DefaultChannel, zlog.Named("events"))
		publisher = broker
		go events.KeepSubscribed(ctx, zlog.Named("events"), events.DefaultBackoff, func(ctx context.Context) error {
			return broker.Subscribe(ctx, hub.Deliver)
		})
		zlog.Info("conversation events fan out through redis")
	}

	// 4. Setup Fiber
	app := fiber.New(fiber.Config{BodyLimit: cfg.RequestBodyLimit()})

	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	if err := routes.RegisterRoutes(app, cfg, routes.Dependencies{
		DB:        pool,
		Hub:       hub,
		Publisher: publisher,
		Logger:    zlog,
	}); err != nil {
		zlog.Fatal("failed to register routes", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			zlog.Error("server shutdown", zap.Error(err))
		}
	}()

	// 5. Start Server
	zlog.Info("server starting", zap.String("port", cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		zlog.Fatal("server failed to start", zap.Error(err))
	}
}
