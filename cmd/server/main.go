package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/adapter/cache"
	"github.com/seu-repo/ocpp-bridge/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/ocpp-bridge/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/ocpp-bridge/internal/adapter/queue"
	"github.com/seu-repo/ocpp-bridge/internal/adapter/storage/postgres"
	wsAdapter "github.com/seu-repo/ocpp-bridge/internal/adapter/websocket"
	"github.com/seu-repo/ocpp-bridge/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-bridge/internal/ports"
	"github.com/seu-repo/ocpp-bridge/internal/proxy"
	"github.com/seu-repo/ocpp-bridge/internal/service/auth"
	"github.com/seu-repo/ocpp-bridge/internal/service/charger"
	"github.com/seu-repo/ocpp-bridge/internal/service/control"
	"github.com/seu-repo/ocpp-bridge/pkg/config"
)

const (
	serviceName    = "ocpp-bridge"
	serviceVersion = "v1.0.0"
)

func main() {
	// 1. Initialize Logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("Starting OCPP Bridge",
		zap.String("service", serviceName),
		zap.String("version", serviceVersion),
	)

	// 2. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// 3. Initialize OpenTelemetry (Distributed Tracing)
	if cfg.OpenTelemetry.Enabled {
		tracerProvider, err := telemetry.InitTracer(serviceName)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	// 4. Initialize PostgreSQL Connection Pool
	db, err := postgres.NewConnection(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("Failed to get underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	// Run migrations
	if err := postgres.RunMigrations(db); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// 5. Initialize Cache (Redis with in-process fallback)
	var appCache ports.Cache
	if cfg.Redis.URL != "" {
		appCache, err = cache.NewRedisCache(cfg.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, falling back to local cache", zap.Error(err))
			appCache = cache.NewLocalCache(time.Minute, logger)
		}
	} else {
		appCache = cache.NewLocalCache(time.Minute, logger)
	}
	defer appCache.Close()

	// 6. Initialize Message Queue (optional event broker)
	var messageQueue queue.MessageQueue
	switch cfg.Queue.Backend {
	case "nats":
		messageQueue, err = queue.NewNATSQueue(cfg.Queue.URL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
	case "rabbitmq":
		messageQueue, err = queue.NewRabbitMQQueue(cfg.Queue.URL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
	case "":
		logger.Info("Event broker disabled")
	default:
		logger.Fatal("Unknown queue backend", zap.String("backend", cfg.Queue.Backend))
	}
	if messageQueue != nil {
		defer messageQueue.Close()
	}

	// 7. Initialize Repositories
	chargerRepo := postgres.NewChargerRepository(db, logger)
	messageLogRepo := postgres.NewMessageLogRepository(db, logger)
	settingsRepo := postgres.NewSettingsRepository(db, logger)
	userRepo := postgres.NewUserRepository(db, logger)

	// 8. Load Dynamic Proxy Settings
	settingsStore := proxy.NewSettingsStore(settingsRepo, logger)
	if err := settingsStore.Load(context.Background()); err != nil {
		logger.Fatal("Failed to load proxy settings", zap.Error(err))
	}

	// 9. Initialize Message Log Recorder
	recorder := proxy.NewRecorder(messageLogRepo, cfg.OCPP.LogQueueSize, logger)
	go recorder.Run()
	defer recorder.Close()

	// 10. Initialize WebSocket Hub (dashboard real-time updates)
	wsHub := wsAdapter.NewHub()
	go wsHub.Run()

	// 11. Initialize Proxy Core
	registry := proxy.NewRegistry()
	events := proxy.NewEvents(messageQueue, wsHub, logger)
	deps := proxy.Deps{
		Settings:  settingsStore,
		Chargers:  chargerRepo,
		Recorder:  recorder,
		Events:    events,
		TxCounter: proxy.NewTxCounter(),
		Log:       logger,
	}
	opts := proxy.Options{
		ReconnectBase:        cfg.OCPP.ReconnectBase,
		MaxReconnectAttempts: cfg.OCPP.MaxReconnectAttempts,
		ConnectTimeout:       cfg.OCPP.ConnectTimeout,
		ProfileReplayDelay:   cfg.OCPP.ProfileReplayDelay,
		AutoStartDelay:       cfg.OCPP.AutoStartDelay,
		EgressBufferSize:     cfg.OCPP.EgressBufferSize,
		PendingTTL:           cfg.OCPP.PendingTTL,
	}
	acceptor := proxy.NewAcceptor(registry, chargerRepo, deps, opts, logger)
	go func() {
		logger.Info("Starting OCPP WebSocket listener", zap.Int("port", cfg.OCPP.Port))
		if err := acceptor.Start(cfg.OCPP.Port); err != nil {
			logger.Fatal("OCPP listener failed", zap.Error(err))
		}
	}()

	// 12. Initialize Services (Business Logic Layer)
	tokenDuration := cfg.JWT.AccessTokenDuration
	authService := auth.NewService(userRepo, cfg.JWT.Secret, tokenDuration, logger)
	chargerService := charger.NewService(chargerRepo, messageLogRepo, registry, appCache, logger)
	controlService := control.NewService(registry, logger)

	// 13. Initialize Fiber HTTP Server
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		ServerHeader:          serviceName,
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	// Global Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	if cfg.CORS.Enabled {
		app.Use(middleware.NewCORS(cfg.CORS))
	} else {
		app.Use(cors.New(cors.Config{
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
			AllowMethods: strings.Join([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}, ", "),
		}))
	}
	app.Use(middleware.CircuitBreaker(logger))

	// Health Check Endpoints
	app.Get("/health/live", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Get("/health/ready", func(c *fiber.Ctx) error {
		if err := sqlDB.Ping(); err != nil {
			return c.Status(503).SendString("Database not ready")
		}
		if err := appCache.Ping(); err != nil {
			return c.Status(503).SendString("Cache not ready")
		}
		return c.SendString("Ready")
	})

	// Metrics endpoint for Prometheus
	app.Get(cfg.Prometheus.Path, func(c *fiber.Ctx) error {
		handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		handler(c.Context())
		return nil
	})

	// API v1 Routes
	v1 := app.Group("/api/v1")

	// Auth routes (public)
	authHandler := handlers.NewAuthHandler(authService, logger)
	v1.Post("/auth/login", authHandler.Login)

	// Protected routes
	protected := v1.Group("", middleware.AuthRequired(authService))

	// Charger routes
	chargerHandler := handlers.NewChargerHandler(chargerService, logger)
	protected.Get("/chargers", chargerHandler.List)
	protected.Get("/chargers/:id/logs", chargerHandler.Logs)

	// Control routes
	controlHandler := handlers.NewControlHandler(controlService, logger)
	protected.Post("/chargers/:id/inject", controlHandler.Inject)
	protected.Post("/chargers/:id/limit", controlHandler.SetLimit)
	protected.Post("/chargers/:id/session-limit", controlHandler.SessionLimit)

	// Dynamic configuration routes
	configHandler := handlers.NewConfigHandler(settingsStore, logger)
	protected.Get("/config", configHandler.Get)
	protected.Post("/config", configHandler.Set)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// Real-time updates WebSocket
	app.Get("/ws/updates", websocket.New(func(c *websocket.Conn) {
		userID := c.Query("userId", "guest")
		wsHub.AddClient(c, userID)
	}))

	// 14. Start HTTP Server
	go func() {
		logger.Info("Starting HTTP Server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP Server failed", zap.Error(err))
		}
	}()

	// 15. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}
