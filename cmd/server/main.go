package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/fdown/api/internal/cache"
	"github.com/fdown/api/internal/config"
	"github.com/fdown/api/internal/extractor"
	"github.com/fdown/api/internal/handler"
	"github.com/fdown/api/internal/middleware"
	"github.com/fdown/api/internal/registry"
	"github.com/fdown/api/internal/scheduler"
	"github.com/fdown/api/internal/service"
	"github.com/fdown/api/internal/store"
	"github.com/fdown/api/internal/tracker"
	ws "github.com/fdown/api/internal/websocket"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client (rate limiting only; job state is in-memory)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: Redis not available, rate limiting disabled: %v", err)
	}

	// Initialize file store
	fileStore, err := store.New(cfg.Downloads.Dir)
	if err != nil {
		log.Fatalf("Failed to initialize downloads store: %v", err)
	}

	// Initialize orchestration components
	reg := registry.New(registry.Config{
		Retention:    cfg.Registry.Retention,
		SuccessReuse: cfg.Registry.SuccessReuse,
		FailedGrace:  cfg.Registry.FailedGrace,
	})
	reg.StartSweeper()

	jobTracker := tracker.New(reg)

	resultCache := cache.New(fileStore, cfg.Cache.MaxBytes, time.Minute)
	resultCache.StartSweeper()

	ytdlp := extractor.NewYtDlp(cfg.Extractor.Binary, cfg.Extractor.ProgressInterval)

	sched := scheduler.New(scheduler.Config{
		Workers:    cfg.Scheduler.Workers,
		QueueDepth: cfg.Scheduler.QueueDepth,
		JobTimeout: cfg.Scheduler.JobTimeout,
		CacheTTL:   cfg.Cache.TTL,
	}, reg, jobTracker, ytdlp, resultCache, fileStore)
	sched.Start()

	// Initialize validator
	validate := validator.New()

	// Initialize services and handlers
	downloadService := service.NewDownloadService(reg, sched, jobTracker, resultCache, fileStore, ytdlp, cfg.Extractor.ProbeTimeout)
	downloadHandler := handler.NewDownloadHandler(downloadService, validate)
	streamer := ws.NewStreamer(downloadService)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", handler.Health(version))

	// API routes
	api := app.Group("/api/v1")

	video := api.Group("/video")
	video.Post("/download", rateLimiter.DownloadLimit(cfg.RateLimit.DownloadPerHour), downloadHandler.Submit)
	video.Post("/info", rateLimiter.InfoLimit(cfg.RateLimit.InfoPerMin), downloadHandler.Info)
	video.Get("/status/:jobId", downloadHandler.Status)
	video.Get("/result/:jobId", downloadHandler.Result)
	video.Post("/cancel/:jobId", downloadHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		streamer.HandleConnection(c, c.Params("jobId"))
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		sched.Stop()
		resultCache.Stop()
		reg.Stop()
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s (env: %s)", addr, cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
