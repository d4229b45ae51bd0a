package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/call-replay/analyzer/internal/analyzer"
	"github.com/call-replay/analyzer/internal/api/handlers"
	"github.com/call-replay/analyzer/internal/cache/redis"
	"github.com/call-replay/analyzer/internal/ingestion"
	"github.com/call-replay/analyzer/internal/metrics"
	"github.com/call-replay/analyzer/internal/middleware/ratelimit"
	"github.com/call-replay/analyzer/internal/pipeline"
	"github.com/call-replay/analyzer/internal/prefilter"
	"github.com/call-replay/analyzer/internal/storage/sqlite"
	"github.com/call-replay/analyzer/pkg/config"
	appLogger "github.com/call-replay/analyzer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	if err := cfg.Validate(); err != nil {
		appLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	appLogger.Info("Starting Call Replay Analyzer API Server")

	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	llmClient := analyzer.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
		cfg.LLM.MaxRetries,
	)

	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLHours)*time.Hour,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer cache.Close()
		llmClient.WithCache(cache)
	}

	detector := prefilter.NewDetector(prefilter.Config{
		Threshold:              cfg.Prefilter.Threshold,
		FrustrationWeight:      cfg.Prefilter.FrustrationWeight,
		ConfusionWeight:        cfg.Prefilter.ConfusionWeight,
		RepetitionWeight:       cfg.Prefilter.RepetitionWeight,
		ShortResponseWeight:    cfg.Prefilter.ShortResponseWeight,
		AbruptEndingWeight:     cfg.Prefilter.AbruptEndingWeight,
		ShortResponseThreshold: cfg.Prefilter.ShortResponseThreshold,
	})

	orchestrator := pipeline.NewOrchestrator(detector, llmClient, llmClient, llmClient, store, cfg.Pipeline.Workers)

	// Budget for a background single-call analysis, covering the full retry
	// schedule of one LLM call.
	backgroundTimeout := time.Duration(cfg.LLM.TimeoutSec*(cfg.LLM.MaxRetries+1)) * time.Second
	gateway := ingestion.NewGateway(store, detector, orchestrator, backgroundTimeout)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
			Logger:               appLogger.GetLogger(),
		})
		defer limiter.Stop()
		app.Use(limiter.Middleware())
	}

	analysisHandler := handlers.NewAnalysisHandler(orchestrator, detector, llmClient, llmClient)
	ingestHandler := handlers.NewIngestHandler(gateway)
	historyHandler := handlers.NewHistoryHandler(store, cfg.Storage.CallIDPreview)

	api := app.Group("/api/v1")

	api.Post("/calls/ingest", ingestHandler.HandleIngest)
	api.Post("/calls/analyze", analysisHandler.AnalyzeCall)
	api.Post("/calls/analyze-batch", analysisHandler.AnalyzeBatch)
	api.Post("/calls/prefilter-check", analysisHandler.PrefilterCheck)
	api.Post("/pipeline/run", analysisHandler.RunPipeline)
	api.Post("/fixes/generate", analysisHandler.GenerateFixes)
	api.Post("/summary/generate", analysisHandler.GenerateSummary)

	api.Get("/history", historyHandler.GetHistory)
	api.Get("/history/:call_id", historyHandler.GetCallHistory)
	api.Get("/stats", historyHandler.GetStats)
	api.Post("/storage/backup", historyHandler.Backup)
	api.Post("/storage/clear", historyHandler.Clear)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "call-replay-analyzer",
			"time":    time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	gateway.Wait()
	appLogger.Info("Server stopped")
}
