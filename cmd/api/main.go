package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/recap-app/recap/internal/adapter/handler"
	"github.com/recap-app/recap/internal/adapter/repository"
	"github.com/recap-app/recap/internal/infrastructure/database"
	"github.com/recap-app/recap/internal/infrastructure/external/deviceagent"
	"github.com/recap-app/recap/internal/infrastructure/notify"
	"github.com/recap-app/recap/internal/infrastructure/storage"
	meetinguse "github.com/recap-app/recap/internal/usecase/meeting"
	"github.com/recap-app/recap/internal/usecase/pipeline"
	"github.com/recap-app/recap/internal/usecase/recording"
	"github.com/recap-app/recap/pkg/config"
	"github.com/recap-app/recap/pkg/jwt"
	"github.com/recap-app/recap/pkg/summarize"
	"github.com/recap-app/recap/pkg/transcribe"
	pkgvalidator "github.com/recap-app/recap/pkg/validator"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize Echo instance
	e := echo.New()
	e.Validator = pkgvalidator.New()
	e.HideBanner = true
	e.HidePort = false

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} | ${status} | ${method} ${uri} | ${latency_human}\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodPatch},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	// Initialize Database
	log.Println("📦 Connecting to database...")
	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.CloseDB(db)

	// Schema migrations via sql-migrate. Gated so production deployments can
	// manage schema in CI/CD instead.
	if cfg.Database.AutoMigrate {
		log.Println("🔄 Applying migrations from migrations/ ...")
		if err := database.RunMigrations(db); err != nil {
			log.Fatalf("Failed to apply migrations: %v", err)
		}
	} else {
		log.Println("🔄 Skipping migrations; run sql-migrate in CI/CD or set DB_AUTO_MIGRATE=true")
	}

	// State-change broadcast. Redis is optional; without it events are
	// simply dropped.
	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Redis.Enabled {
		log.Println("📦 Connecting to Redis...")
		redisNotifier, err := notify.NewRedisNotifier(cfg, logger)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		notifier = redisNotifier
	}
	defer notifier.Close()

	// Initialize store and one-shot legacy import
	log.Println("⚙️  Initializing meeting store...")
	meetingRepo := repository.NewMeetingRepository(db)
	store := meetinguse.NewStore(meetingRepo, logger)
	defer store.Close()

	if cfg.Migration.LegacyPath != "" {
		migrator := meetinguse.NewMigrator(meetingRepo, logger)
		n, err := migrator.Run(context.Background(), cfg.Migration.LegacyPath)
		if err != nil {
			log.Fatalf("Legacy store migration failed: %v", err)
		}
		if n > 0 {
			log.Printf("✅ Imported %d meetings from legacy store", n)
		}
	}

	// Transcription provider and optional collaborators
	log.Println("🤖 Initializing provider clients...")
	provider := transcribe.NewAssemblyAIProvider(&cfg.Provider)
	groqClient := summarize.NewGroqClient(&cfg.Summary)

	var archive *storage.ArchiveStore
	if cfg.Storage.Enabled {
		log.Println("🗄️  Connecting to object storage...")
		archive, err = storage.NewArchiveStore(&cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize archive storage: %v", err)
		}
	}

	// Completion pipeline. Interface values stay nil for disabled
	// collaborators so the pipeline skips those steps.
	var summarizer pipeline.Summarizer
	if groqClient != nil {
		summarizer = groqClient
	}
	var archiver pipeline.Archiver
	if archive != nil {
		archiver = archive
	}
	coordinator := pipeline.NewCoordinator(store, provider, summarizer, archiver, notifier, cfg, logger)
	defer coordinator.Shutdown()

	// Recording state machine driven by the device agent
	log.Println("🎙️  Initializing recording state machine...")
	agentClient := deviceagent.NewClient(&cfg.Agent)
	machine := recording.NewMachine(agentClient, provider, store, coordinator, notifier, &cfg.Agent, logger)
	defer machine.Close()

	// Resume pipelines for meetings that were mid-flight at last shutdown
	if err := coordinator.Resume(context.Background()); err != nil {
		log.Fatalf("Failed to resume pipelines: %v", err)
	}

	// Handlers and routes
	log.Println("🛣️  Setting up routes...")
	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Expiry)
	authHandler := handler.NewAuthHandler(jwtManager, cfg.JWT.Secret, logger)
	meetingHandler := handler.NewMeetingHandler(store, machine, coordinator, logger)
	agentHandler := handler.NewAgentHandler(machine, logger)
	webhookHandler := handler.NewWebhookHandler(coordinator, cfg.Provider.WebhookSecret, logger)

	router := handler.NewRouter(cfg, jwtManager, authHandler, meetingHandler, agentHandler, webhookHandler)
	router.Setup(e)

	// Start server
	go func() {
		addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
		log.Printf("🚀 Starting server on %s", addr)
		log.Printf("📝 Environment: %s", cfg.Server.Environment)

		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server stopped gracefully")
}
