package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-agent/internal/api/http"
	"github.com/spec-kit/ticket-agent/internal/api/http/handlers"
	"github.com/spec-kit/ticket-agent/internal/chat"
	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/credentials"
	"github.com/spec-kit/ticket-agent/internal/events"
	"github.com/spec-kit/ticket-agent/internal/observability"
	"github.com/spec-kit/ticket-agent/internal/persistence"
	"github.com/spec-kit/ticket-agent/internal/repository"
	"github.com/spec-kit/ticket-agent/internal/service"
	"github.com/spec-kit/ticket-agent/internal/worker"
	"github.com/spec-kit/ticket-agent/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	service.NewAuditService(dispatcher, logger).RegisterHandlers()

	pool := pg.PoolHandle()
	sessionRepo := repository.NewSessionRepository(pool)
	itemRepo := repository.NewMarkedItemRepository(pool)
	proposalRepo := repository.NewProposalRepository(pool)
	credentialRepo := repository.NewCredentialRepository(pool)
	statsRepo := repository.NewStatsRepository(pool)

	resolver := credentials.NewResolver(credentialRepo, redis.Client, logger)

	chatClient := chat.NewClient(cfg.Chat.APIBaseURL, cfg.Chat.BotToken, logger)

	gateway := workflow.NewClient(workflow.ClientOptions{
		BaseURL:     cfg.Workflow.BaseURL,
		FlowID:      cfg.Workflow.FlowID,
		APIKey:      cfg.Workflow.APIKey,
		InputSlotID: cfg.Workflow.InputSlotID,
		Timeout:     cfg.Workflow.Timeout(),
		Logger:      logger,
	})

	orchestrator := service.NewOrchestrator(service.OrchestratorDependencies{
		SessionRepo:  sessionRepo,
		ItemRepo:     itemRepo,
		ProposalRepo: proposalRepo,
		Chat:         chatClient,
		Gateway:      gateway,
		Credentials:  resolver,
		Dispatcher:   dispatcher,
		Metrics:      metrics,
		ChatConfig:   cfg.Chat,
		DocDefaults:  cfg.DocStore,
		Logger:       logger,
	})
	markService := service.NewMarkService(service.MarkDependencies{
		ItemRepo:   itemRepo,
		Chat:       chatClient,
		ChatConfig: cfg.Chat,
		Logger:     logger,
	})
	adminService := service.NewAdminService(service.AdminDependencies{
		Credentials: resolver,
		StatsRepo:   statsRepo,
		ChatConfig:  cfg.Chat,
		Logger:      logger,
	})

	if cfg.Workflow.TriggerFlowID != "" {
		poller := worker.NewDocumentPoller(worker.PollerDependencies{
			Credentials: resolver,
			Trigger:     gateway.WithFlow(cfg.Workflow.TriggerFlowID, ""),
			Syncs:       orchestrator,
			Notifier:    chatClient,
			Dispatcher:  dispatcher,
			DocDefaults: cfg.DocStore,
			Interval:    cfg.Scheduler.Interval(),
			Logger:      logger,
		})
		go poller.Start(ctx)
	} else {
		logger.Warn("no trigger flow configured, document polling disabled")
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: cfg.App.Env == "production",
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:       handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Events:       handlers.NewEventsHandler(markService, cfg.Chat, logger),
		Commands:     handlers.NewCommandsHandler(orchestrator, markService, adminService, logger),
		Interactions: handlers.NewInteractionsHandler(orchestrator, logger),
		Signature:    httptransport.SignatureVerification(cfg.Chat.SigningSecret, logger),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
