package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/api"
	"github.com/fakturo/invoice-pipeline/internal/classification"
	"github.com/fakturo/invoice-pipeline/internal/companies"
	"github.com/fakturo/invoice-pipeline/internal/config"
	"github.com/fakturo/invoice-pipeline/internal/counter"
	"github.com/fakturo/invoice-pipeline/internal/export"
	"github.com/fakturo/invoice-pipeline/internal/extraction"
	"github.com/fakturo/invoice-pipeline/internal/ksef"
	"github.com/fakturo/invoice-pipeline/internal/notification"
	"github.com/fakturo/invoice-pipeline/internal/ocr"
	"github.com/fakturo/invoice-pipeline/internal/orchestrator"
	"github.com/fakturo/invoice-pipeline/internal/ratelimit"
	"github.com/fakturo/invoice-pipeline/internal/registry"
	"github.com/fakturo/invoice-pipeline/internal/repository"
	"github.com/fakturo/invoice-pipeline/internal/usage"
	"github.com/fakturo/invoice-pipeline/internal/validation"
	"github.com/fakturo/invoice-pipeline/pkg/database"
	"github.com/fakturo/invoice-pipeline/pkg/utils"

	goredis "github.com/redis/go-redis/v9"
)

const uploadDir = "data/uploads"

func main() {
	// Pick up local .env overrides before viper reads the environment
	_ = gotenv.Load()

	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting invoice pipeline",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Initialize database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Create necessary directories
	for _, dir := range []string{uploadDir, cfg.KSeF.ReceiptDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal("Failed to create directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	// Initialize repositories
	invoiceRepo := repository.NewInvoiceRepository(db.DB, logger)
	jobRepo := repository.NewJobRepository(db.DB, logger)
	logRepo := repository.NewLogRepository(db.DB, logger)
	tenantRepo := repository.NewTenantRepository(db.DB, logger)
	companyRepo := repository.NewCompanyRepository(db.DB, logger)
	submissionRepo := repository.NewSubmissionRepository(db.DB, logger)
	usageRepo := repository.NewUsageRepository(db.DB, logger)

	// Shared counter store: redis when configured, in-memory otherwise.
	// The in-memory store is only correct for a single process.
	var counterStore counter.Store
	if cfg.Redis.Addr != "" {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		counterStore = counter.NewRedisStore(redisClient, "pipeline")
		logger.Info("Using redis counter store", zap.String("addr", cfg.Redis.Addr))
	} else {
		counterStore = counter.NewMemoryStore()
		logger.Warn("Using in-memory counter store; rate limits are per-process")
	}

	// Monthly quota gate
	gate := usage.NewGate(usageRepo, cfg.Quota.Tiers, cfg.Quota.DefaultTier, logger)

	// OCR stage
	renderer := ocr.NewRenderer(cfg.OCR.RenderScale, logger)
	var engine ocr.Engine
	switch cfg.OCR.Engine {
	case "tesseract":
		engine = ocr.NewTesseractEngine(ocr.TesseractConfig{
			Languages:   cfg.OCR.Languages,
			PageSegMode: cfg.OCR.PageSegMode,
			EngineMode:  cfg.OCR.EngineMode,
			Timeout:     cfg.OCR.Timeout,
		}, logger)
	case "vision":
		engine = ocr.NewPassthroughEngine()
	}

	// AI components share one client
	aiConfig := openai.DefaultConfig(cfg.AI.APIKey)
	if cfg.AI.BaseURL != "" {
		aiConfig.BaseURL = cfg.AI.BaseURL
	}
	aiClient := openai.NewClientWithConfig(aiConfig)

	extractor := extraction.NewExtractor(aiClient, extraction.Config{
		Model:               cfg.AI.Model,
		VisionModel:         cfg.AI.VisionModel,
		Temperature:         cfg.AI.Temperature,
		MaxTokens:           cfg.AI.MaxTokens,
		Timeout:             cfg.AI.Timeout,
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		MaxRetries:          cfg.Pipeline.MaxExtractRetries,
	}, logger)

	classifier := classification.NewClassifier(aiClient, classification.Config{
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	}, logger)

	// Counterparty resolution against the business registry
	registryClient := registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.Timeout, logger)
	resolver := companies.NewResolver(companyRepo, registryClient, logger)
	batchResolver := companies.NewBatchResolver(resolver, cfg.Registry.BatchInterval, logger)

	// Structural validation
	validator := validation.NewValidator(logger)

	// E-invoicing gateway
	gateway := ksef.NewClient(ksef.Config{
		BaseURL:      cfg.KSeF.BaseURL,
		AuthToken:    cfg.KSeF.AuthToken,
		ContextNIP:   cfg.KSeF.ContextNIP,
		Timeout:      cfg.KSeF.Timeout,
		PollInterval: cfg.KSeF.PollInterval,
		PollTimeout:  cfg.KSeF.PollTimeout,
		ReceiptDir:   cfg.KSeF.ReceiptDir,
	}, logger)

	// Pipeline orchestrator
	pipeline := orchestrator.New(
		db,
		orchestrator.Repos{
			Invoices:    invoiceRepo,
			Jobs:        jobRepo,
			Logs:        logRepo,
			Tenants:     tenantRepo,
			Companies:   companyRepo,
			Submissions: submissionRepo,
		},
		gate,
		renderer,
		engine,
		extractor,
		classifier,
		resolver,
		validator,
		gateway,
		orchestrator.Config{
			ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
			VisionFallbackBelow: cfg.Pipeline.VisionFallbackBelow,
			MinTextLength:       cfg.Pipeline.MinTextLength,
		},
		logger,
	)

	// Batch-summary notifier and register exporter
	notifier := notification.NewNotifier(notification.Config{
		WebhookURL:       cfg.Notification.WebhookURL,
		Timeout:          cfg.Notification.Timeout,
		PerRecipientHour: cfg.Notification.PerRecipientHour,
	}, counterStore, logger)

	exporter := export.NewRegisterExporter(invoiceRepo, logger)

	// HTTP layer
	handler := api.NewHandler(api.HandlerDeps{
		Pipeline:    pipeline,
		Invoices:    invoiceRepo,
		Jobs:        jobRepo,
		Logs:        logRepo,
		Tenants:     tenantRepo,
		Submissions: submissionRepo,
		Gate:        gate,
		Batch:       batchResolver,
		Exporter:    exporter,
		Notifier:    notifier,
		UploadDir:   uploadDir,
		Logger:      logger,
	})

	limiters := api.Limiters{
		Process: ratelimit.NewLimiter(counterStore, cfg.RateLimit.Process, cfg.RateLimit.Window),
		Read:    ratelimit.NewLimiter(counterStore, cfg.RateLimit.Read, cfg.RateLimit.Window),
	}

	// Set Gin mode based on logger level
	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(handler, limiters, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
