package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trackfeedback/api/internal/auth"
	"github.com/trackfeedback/api/internal/client"
	"github.com/trackfeedback/api/internal/config"
	"github.com/trackfeedback/api/internal/handler"
	"github.com/trackfeedback/api/internal/ingest"
	"github.com/trackfeedback/api/internal/logging"
	"github.com/trackfeedback/api/internal/middleware"
	"github.com/trackfeedback/api/internal/model"
	"github.com/trackfeedback/api/internal/render"
	"github.com/trackfeedback/api/internal/service"
	"github.com/trackfeedback/api/internal/store"
	"github.com/trackfeedback/api/internal/tone"
	ws "github.com/trackfeedback/api/internal/websocket"
	"github.com/trackfeedback/api/internal/worker"
)

// @title          TrackFeedback Render API
// @version        1.0
// @description    Project bundle ingestion and stem rendering for track reviews.
// @BasePath       /
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logging.NewFromEnv(cfg.Server.LogLevel, cfg.Server.LogFormat, cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Render job store
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		zlog.Fatal("failed to open render store", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer st.Close()

	blobs, local, err := newBlobStore(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize blob storage", zap.Error(err))
	}

	// Initialize Redis client (optional - renders run in-process without it)
	var redisClient *redis.Client
	candidate := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := candidate.Ping(pingCtx).Err(); err != nil {
		zlog.Warn("redis not available, rendering in-process without rate limits", zap.Error(err))
		candidate.Close()
	} else {
		redisClient = candidate
		defer redisClient.Close()
	}
	cancel()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(zlog)
	go hub.Run(ctx)

	// Analyzer sessions
	sessions := ingest.NewSessions(cfg.Ingest.SessionTTL(), zlog)
	go sessions.Run(ctx, time.Minute)
	defer sessions.CloseAll()
	loader := ingest.NewLoader(cfg.Ingest.Limits(), zlog)

	// Render pipeline
	encoder := tone.NewEncoder(cfg.Render.ToneOptions())
	orchestrator := render.NewOrchestrator(st, blobs, encoder, render.Options{
		MaxTracks:      cfg.Render.MaxTracks,
		DefaultSeconds: cfg.Render.DefaultSeconds,
		SampleRate:     cfg.Render.SampleRate,
	}, zlog)
	renderWorker := worker.NewRenderWorker(orchestrator, hub, zlog)

	var dispatcher render.Dispatcher
	if redisClient != nil {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		dispatcher = render.NewQueueDispatcher(asynqClient)

		// Start Asynq worker server
		srv := newWorkerServer(cfg, redisOpt, zlog)
		mux := asynq.NewServeMux()
		renderWorker.Register(mux)
		go func() {
			if err := srv.Run(mux); err != nil {
				zlog.Error("asynq worker stopped", zap.Error(err))
			}
		}()
		defer srv.Shutdown()
	} else {
		inline := render.NewInlineDispatcher(orchestrator, renderWorker.Progress(), zlog)
		defer inline.Wait()
		dispatcher = inline
	}

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err = auth.NewJWKSVerifier(ctx, &cfg.Zitadel)
		if err != nil {
			zlog.Warn("JWKS verifier not initialized", zap.Error(err))
		} else {
			defer jwksVerifier.Close()
		}
	}

	// Initialize services
	projectService := service.NewProjectService(st, blobs, loader, sessions, cfg.Ingest.MaxArchiveBytes, zlog)
	renderService := service.NewRenderService(st, orchestrator, dispatcher, hub, zlog)
	exportService := service.NewExportService(st, blobs, zlog)

	// Initialize handlers
	projectHandler := handler.NewProjectHandler(projectService)
	renderHandler := handler.NewRenderHandler(renderService)
	exportHandler := handler.NewExportHandler(exportService)
	workerHandler := handler.NewWorkerHandler(renderService, validate)

	// Initialize auth handler for ForwardAuth verification
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}
	authn := auth.NewAuthenticator(tokenVerifier, cfg.JWT.Secret)
	authHandler := handler.NewAuthHandler(authn)

	// Initialize middleware (with fallback support)
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		zlog.Info("gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		// Direct mode: auth is handled by the backend itself
		var authMiddleware *middleware.AuthMiddleware
		if jwksVerifier != nil && cfg.JWT.Secret != "" {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
		} else if jwksVerifier != nil {
			authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
		} else {
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		apiAuthMiddleware = authMiddleware.Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)
	adminOnly := middleware.RequireRole(auth.RoleAdmin)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Ingest.MaxArchiveBytes) + 1<<20,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    redisClient != nil,
				"r2":       local == nil,
				"auth":     authn.Configured(),
				"sessions": sessions.Len(),
			},
		})
	})

	// Locally stored blobs are served directly
	if local != nil {
		app.Static(cfg.Storage.PublicBase, local.Root())
	}

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// External render workers authenticate with a shared key
	workerAPI := app.Group("/api/worker", middleware.WorkerKey(cfg.Worker.APIKey))
	workerAPI.Post("/renders/:jobId/complete", workerHandler.Complete)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Track routes
	tracks := api.Group("/tracks/:trackId")
	tracks.Post("/project", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), projectHandler.Upload)
	tracks.Get("/render", renderHandler.TrackStatus)
	tracks.Post("/render", adminOnly, rateLimiter.RenderLimit(cfg.RateLimit.RenderPerHour), renderHandler.TriggerForTrack)

	// Analyzer routes
	projects := api.Group("/projects")
	projects.Post("/analyze", rateLimiter.AnalyzeLimit(cfg.RateLimit.AnalyzePerHour), projectHandler.Analyze)
	projects.Get("/:sessionId", projectHandler.Get)
	projects.Delete("/:sessionId", projectHandler.Close)
	projects.Get("/:sessionId/samples/:sampleId", projectHandler.SampleData)
	projects.Post("/:sessionId/samples/:sampleId/load", projectHandler.LoadSample)
	projects.Post("/:sessionId/samples/:sampleId/evict", projectHandler.EvictSample)

	// Render routes
	renders := api.Group("/renders")
	renders.Get("/", adminOnly, renderHandler.List)
	renders.Get("/:jobId", renderHandler.Status)
	renders.Post("/:jobId/render", adminOnly, rateLimiter.RenderLimit(cfg.RateLimit.RenderPerHour), renderHandler.Trigger)
	renders.Post("/:jobId/export", rateLimiter.ExportLimit(cfg.RateLimit.ExportPerHour), exportHandler.Stems)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/renders/:jobId", apiAuthMiddleware, websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zlog.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zlog.Error("server shutdown error", zap.Error(err))
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	zlog.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Server.Env))
	if err := app.Listen(addr); err != nil {
		zlog.Error("server error", zap.Error(err))
	}
}

// newBlobStore returns R2 when configured and the local filesystem store
// otherwise. local is nil when R2 is used.
func newBlobStore(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (client.StorageClient, *client.LocalStorage, error) {
	if cfg.R2.Configured() {
		r2, err := client.NewR2Client(ctx, &cfg.R2)
		if err != nil {
			return nil, nil, fmt.Errorf("r2: %w", err)
		}
		return r2, nil, nil
	}
	zlog.Info("R2 storage not configured, using local storage", zap.String("dir", cfg.Storage.LocalDir))
	local, err := client.NewLocalStorage(cfg.Storage.LocalDir, cfg.Storage.PublicBase)
	if err != nil {
		return nil, nil, err
	}
	return local, local, nil
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, zlog *zap.Logger) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			model.QueueRender: 1,
		},
		Logger:   zlog.Named("asynq").Sugar(),
		LogLevel: asynqLogLevel,
	})
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
