package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/config"
	"github.com/testdeck/testdeck-engine/pkg/credentials"
	"github.com/testdeck/testdeck-engine/pkg/database"
	"github.com/testdeck/testdeck-engine/pkg/handlers"
	"github.com/testdeck/testdeck-engine/pkg/llm"
	"github.com/testdeck/testdeck-engine/pkg/logging"
	"github.com/testdeck/testdeck-engine/pkg/middleware"
	"github.com/testdeck/testdeck-engine/pkg/models"
	"github.com/testdeck/testdeck-engine/pkg/repositories"
	"github.com/testdeck/testdeck-engine/pkg/retry"
	"github.com/testdeck/testdeck-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ResolveDockerHosts()

	logger, err := newLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.String("error", logging.SanitizeError(err)))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.String("assistant_model", cfg.AI.AssistantModel),
		zap.String("credential_file", cfg.AI.CredentialEnvFile),
		zap.String("workspace_root", cfg.Workspace.Root))

	db, err := database.ConnectWithRetry(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	}, retry.StartupConfig(), logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	_ = sqlDB.Close()

	// Repositories
	projectRepo := repositories.NewProjectRepository()
	endpointRepo := repositories.NewEndpointRepository()
	testCaseRepo := repositories.NewTestCaseRepository()
	assistantRepo := repositories.NewAIAssistantRepository()
	threadRepo := repositories.NewAIThreadRepository()
	generationRepo := repositories.NewAILedgerRepository(models.LedgerGenerations)
	suggestionRepo := repositories.NewAILedgerRepository(models.LedgerSuggestions)

	// Provider access
	creds := credentials.NewEnvFileStore(cfg.AI.CredentialEnvFile)
	factory := llm.NewOpenAIProviderFactory(cfg.AI.BaseURL, llm.CircuitBreakerConfig{
		Threshold:  cfg.AI.CircuitBreakerThreshold,
		ResetAfter: cfg.AI.CircuitBreakerReset,
	}, logger)
	var locks services.ProjectLocker = services.NewProjectLocks()
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		locks = services.NewRedisProjectLocks(redisClient, cfg.Redis.LockTTL, logger)
	}

	// Services
	threads := services.NewAIThreadService(threadRepo, creds, factory, services.ThreadSettings{
		MaxMessages:   cfg.AI.MaxMessagesPerThread,
		ThreadsToKeep: cfg.AI.ThreadsToKeep,
	}, logger)
	assistants := services.NewAIAssistantService(assistantRepo, projectRepo, threads, creds, factory, locks, cfg.AI.AssistantModel, logger)
	generationLog := services.NewAILedgerService(generationRepo, logger)
	suggestionLog := services.NewAILedgerService(suggestionRepo, logger)
	generator := services.NewAIGenerationService(&services.AIGenerationServiceDeps{
		ProjectRepo:     projectRepo,
		EndpointRepo:    endpointRepo,
		TestCaseRepo:    testCaseRepo,
		Assistants:      assistants,
		Threads:         threads,
		GenerationLog:   generationLog,
		SuggestionLog:   suggestionLog,
		Artifacts:       services.NewArtifactWriter(cfg.Workspace, endpointRepo, logger),
		Credentials:     creds,
		ProviderFactory: factory,
		Locks:           locks,
		Model:           cfg.AI.AssistantModel,
		Poll:            llm.PollConfig{Interval: cfg.AI.RunPollInterval, MaxWait: cfg.AI.RunMaxWait},
		Logger:          logger,
	})
	projects := services.NewProjectService(projectRepo, endpointRepo, assistants, logger)

	// Routes
	tenantMiddleware := handlers.TenantMiddleware(database.WithTenantContext(db, logger))
	globalMiddleware := handlers.TenantMiddleware(database.WithGlobalContext(db, logger))

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, factory.Breaker(), logger).RegisterRoutes(mux)
	handlers.NewSettingsHandler(creds, llm.NewCredentialTester(cfg.AI.BaseURL, cfg.AI.AssistantModel), logger).RegisterRoutes(mux)
	handlers.NewProjectsHandler(projects, logger).RegisterRoutes(mux, tenantMiddleware, globalMiddleware)
	handlers.NewAIAssistantHandler(assistants, logger).RegisterRoutes(mux, tenantMiddleware)
	handlers.NewAIGenerationHandler(generator, generationLog, suggestionLog, logger).RegisterRoutes(mux, tenantMiddleware)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting testdeck-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	// Generations can run for the full poll budget; let in-flight requests finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AI.RunMaxWait+5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
