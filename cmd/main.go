package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"catalog-sync-service/internal/clients/woocommerce"
	"catalog-sync-service/internal/clients/wordpress"
	"catalog-sync-service/internal/config"
	"catalog-sync-service/internal/database"
	"catalog-sync-service/internal/events"
	"catalog-sync-service/internal/handlers"
	"catalog-sync-service/internal/jobs"
	"catalog-sync-service/internal/lock"
	"catalog-sync-service/internal/middleware"
	"catalog-sync-service/internal/report"
	"catalog-sync-service/internal/repository"
	"catalog-sync-service/internal/secrets"
	"catalog-sync-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg := config.Load()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	log := logger.WithField("service", "catalog-sync-service")

	// Credentials from GCP Secret Manager override the environment
	if cfg.UsesSecretManager() {
		loadStoreSecret(cfg, log)
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	// Connect to databases
	sourceDB, err := database.Connect(cfg.SourceDatabaseURL, cfg.Environment)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to source database")
	}
	journalDB := sourceDB
	if cfg.JournalDSN() != cfg.SourceDatabaseURL {
		journalDB, err = database.Connect(cfg.JournalDSN(), cfg.Environment)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to journal database")
		}
	}
	log.Info("Connected to database")

	cycleRepo := repository.NewCycleRepository(journalDB)
	if err := cycleRepo.AutoMigrate(); err != nil {
		log.WithError(err).Warn("Auto-migration failed")
	} else {
		log.Info("Database migrations completed")
	}

	// Reporting: every record goes to the process log, cycle records to the journal
	journalReporter := services.NewJournalReporter(cycleRepo, log)
	journalReporter.Start()
	reporter := report.Tee(report.NewLogReporter(log), journalReporter)

	// Collaborators
	sourceRepo, err := repository.NewSourceRepository(sourceDB, repository.SourceSchema{
		ProductTable: cfg.SourceTable,
		ImageTable:   cfg.SourceImageTable,
	})
	if err != nil {
		log.WithError(err).Fatal("Invalid source schema")
	}

	storeClient, err := woocommerce.NewClient(woocommerce.Config{
		StoreURL:       cfg.StoreURL,
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerSecret: cfg.ConsumerSecret,
		PageSize:       cfg.RemotePageSize,
		Timeout:        cfg.HTTPTimeout,
		RequestsPerSec: cfg.RemoteRateLimit,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create store client")
	}

	mediaClient, err := wordpress.NewClient(wordpress.Config{
		SiteURL:        cfg.MediaURL,
		AuthToken:      cfg.MediaAuthToken,
		Cookie:         cfg.MediaCookie,
		Timeout:        cfg.MediaTimeout,
		RequestsPerSec: cfg.RemoteRateLimit,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create media client")
	}

	// Sync service
	syncService := services.NewSyncService(sourceRepo, storeClient, mediaClient, cycleRepo, reporter, log, services.SyncConfig{
		BatchSize:          cfg.SyncBatchSize,
		CacheLifespan:      cfg.CacheLifespanCycles,
		ImageConcurrency:   cfg.ImageUploadConcurrency,
		CallTimeout:        cfg.HTTPTimeout,
		FetchTimeout:       cfg.FetchTimeout,
		AbortOnEmptyRemote: cfg.AbortOnEmptyRemote,
	})

	lease := lock.NewRedisLease(cfg.RedisURL, cfg.LeaseTTL, log)
	if lease.Enabled() {
		syncService.SetLease(lease)
		log.Info("Cycle lease enabled")
	}

	publisher, err := events.NewPublisher(cfg.NATSURL, log)
	if err != nil {
		log.WithError(err).Warn("Failed to connect to NATS, events disabled")
	} else if publisher.Enabled() {
		syncService.SetPublisher(publisher)
	}

	// Scheduler
	ctx, cancel := context.WithCancel(context.Background())
	syncJob := jobs.NewSyncJob(syncService, cfg.SyncInterval, cfg.RunOnStart, log)
	go syncJob.Start(ctx)

	// Handlers
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"source":  sourceRepo,
		"journal": cycleRepo,
	})
	syncHandler := handlers.NewSyncHandler(syncService, syncJob)

	router := setupRouter(cfg, log, healthHandler, syncHandler)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":        cfg.Port,
			"environment": cfg.Environment,
			"interval":    cfg.SyncInterval.String(),
		}).Info("Catalog sync service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	// Cancel an in-flight cycle and wait for it to record its outcome
	cancel()
	syncJob.Stop()

	journalReporter.Close()
	if publisher != nil {
		publisher.Close()
	}
	if err := lease.Close(); err != nil {
		log.WithError(err).Warn("Failed to close redis client")
	}
	closeDB(log, sourceDB)
	if journalDB != sourceDB {
		closeDB(log, journalDB)
	}

	log.Info("Server exited")
}

// loadStoreSecret replaces the store credentials with the ones held in GCP Secret Manager
func loadStoreSecret(cfg *config.Config, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sm, err := secrets.NewGCPSecretManager(ctx, cfg.GCPProjectID)
	if err != nil {
		log.WithError(err).Warn("Failed to initialize GCP Secret Manager, using environment credentials")
		return
	}
	defer sm.Close()

	secret, err := sm.GetStoreSecret(ctx, cfg.StoreSecretName)
	if err != nil {
		log.WithError(err).Warn("Failed to read store secret, using environment credentials")
		return
	}

	if secret.StoreURL != "" {
		cfg.StoreURL = strings.TrimRight(secret.StoreURL, "/")
	}
	cfg.ConsumerKey = secret.ConsumerKey
	cfg.ConsumerSecret = secret.ConsumerSecret
	if secret.MediaAuthToken != "" {
		cfg.MediaAuthToken = secret.MediaAuthToken
	}
	if secret.MediaCookie != "" {
		cfg.MediaCookie = secret.MediaCookie
	}
	log.Info("Store credentials loaded from GCP Secret Manager")
}

func closeDB(log *logrus.Entry, db *gorm.DB) {
	if err := database.Close(db); err != nil {
		log.WithError(err).Warn("Failed to close database")
	}
}

// setupRouter configures the HTTP router
func setupRouter(
	cfg *config.Config,
	log *logrus.Entry,
	healthHandler *handlers.HealthHandler,
	syncHandler *handlers.SyncHandler,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())

	// CORS middleware
	allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	var origins []string
	if allowedOrigins != "" {
		origins = strings.Split(allowedOrigins, ",")
	} else {
		origins = []string{
			"https://*.tesserix.app",
			"http://localhost:3000",
		}
	}
	router.Use(middleware.CORS(origins))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))

	// Health check
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequireToken(cfg.OpsAPIToken))
	{
		sync := v1.Group("/sync")
		{
			sync.POST("/trigger", syncHandler.Trigger)
			sync.POST("/verify", syncHandler.Verify)
			sync.POST("/cache/invalidate", syncHandler.InvalidateCache)
			sync.GET("/status", syncHandler.Status)
			sync.GET("/stats", syncHandler.Stats)
			sync.GET("/cycles", syncHandler.ListCycles)
			sync.GET("/cycles/:id", syncHandler.GetCycle)
			sync.GET("/cycles/:id/logs", syncHandler.GetCycleLogs)
		}
	}

	return router
}
