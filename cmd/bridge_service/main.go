package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	adminHTTP "github.com/shopbridge/golang_services/internal/admin_service/adapters/http"
	adminApp "github.com/shopbridge/golang_services/internal/admin_service/app"
	adminPostgres "github.com/shopbridge/golang_services/internal/admin_service/repository/postgres"
	"github.com/shopbridge/golang_services/internal/delivery_service/adapters/chat"
	"github.com/shopbridge/golang_services/internal/delivery_service/adapters/render"
	deliveryApp "github.com/shopbridge/golang_services/internal/delivery_service/app"
	deliveryDomain "github.com/shopbridge/golang_services/internal/delivery_service/domain"
	deliveryPostgres "github.com/shopbridge/golang_services/internal/delivery_service/repository/postgres"
	engagementApp "github.com/shopbridge/golang_services/internal/engagement_service/app"
	engagementPostgres "github.com/shopbridge/golang_services/internal/engagement_service/repository/postgres"
	ingestionHTTP "github.com/shopbridge/golang_services/internal/ingestion_service/adapters/http"
	ingestionApp "github.com/shopbridge/golang_services/internal/ingestion_service/app"
	ingestionPostgres "github.com/shopbridge/golang_services/internal/ingestion_service/repository/postgres"
	"github.com/shopbridge/golang_services/internal/platform/config"
	"github.com/shopbridge/golang_services/internal/platform/database"
	"github.com/shopbridge/golang_services/internal/platform/httpserver"
	"github.com/shopbridge/golang_services/internal/platform/interaction"
	"github.com/shopbridge/golang_services/internal/platform/logger"
	"github.com/shopbridge/golang_services/internal/platform/messagebroker"
	"github.com/shopbridge/golang_services/internal/platform/worker"
	"github.com/shopbridge/golang_services/internal/sync_service/adapters/storefront"
	syncApp "github.com/shopbridge/golang_services/internal/sync_service/app"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const serviceName = "bridge_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Bridge service starting...", "http_port", cfg.HTTPPort, "grpc_health_port", cfg.GRPCHealthPort, "trust_mode", cfg.TrustMode)
	if cfg.AllowUnsignedWebhooks() {
		appLogger.Warn("Webhook signature verification disabled: development mode without a secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Error("Bridge service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Bridge service shut down successfully.")
}

func run(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) error {
	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL database")

	if err := database.Migrate(ctx, dbPool, appLogger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var (
		publisher  messagebroker.Publisher = messagebroker.NoopPublisher{}
		natsClient *messagebroker.NATSClient
	)
	if cfg.NATSUrl != "" {
		natsClient, err = messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsClient.Close()
		publisher = natsClient
		appLogger.Info("Successfully connected to NATS")
	} else {
		appLogger.Info("NATS URL not configured, events will not be published and member events will not be consumed")
	}

	healthChecks := map[string]httpserver.HealthCheck{
		"postgres": dbPool.Ping,
	}
	if natsClient != nil {
		healthChecks["nats"] = func(context.Context) error {
			if !natsClient.Healthy() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	var tasks []*worker.PeriodicTask

	var store interaction.Store
	if cfg.RedisURL != "" {
		redisStore, err := interaction.NewRedisStore(ctx, cfg.RedisURL, appLogger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisStore.Close()
		healthChecks["redis"] = redisStore.Ping
		store = redisStore
		appLogger.Info("Successfully connected to Redis")
	} else {
		memStore := interaction.NewMemoryStore()
		tasks = append(tasks, worker.NewPeriodicTask("interaction_sweep", time.Minute, memStore.Sweep, appLogger))
		store = memStore
		appLogger.Info("Redis URL not configured, using in-memory interaction store")
	}

	validate := validator.New()

	settingsRepo := adminPostgres.NewPgSettingsRepository(dbPool, appLogger)
	templateRepo := adminPostgres.NewPgTemplateRepository(dbPool, appLogger)
	messageRepo := deliveryPostgres.NewPgMessageRepository(dbPool, appLogger)
	orderRepo := ingestionPostgres.NewPgOrderRepository(dbPool, messageRepo, appLogger)
	memberRepo := engagementPostgres.NewPgMemberRepository(dbPool, appLogger)

	// Outbound queue.
	chatClient := chat.NewClient(appLogger, cfg.ChatAPIBaseURL, cfg.ChatBotToken, cfg.ChatGuildID, nil)
	renderer := render.NewRenderer(templateRepo, appLogger)
	dispatcher := deliveryApp.NewDispatcher(deliveryApp.DispatcherConfig{
		BatchSize:       cfg.QueueBatchSize,
		DeliveryTimeout: cfg.QueueDeliveryTimeout,
		RetryBaseDelay:  cfg.QueueRetryBaseDelay,
		RetryMaxDelay:   cfg.QueueRetryMaxDelay,
		ReactionDelay:   cfg.QueueReactionDelay,
		ReactionEmoji:   cfg.OrderReactionEmoji,
	}, messageRepo, chatClient, renderer, orderRepo, publisher, appLogger)
	drainTask := worker.NewPeriodicTask("queue_drain", cfg.QueueDrainInterval, dispatcher.DrainOnce, appLogger)
	purger := deliveryApp.NewPurger(messageRepo, cfg.QueueRetention, appLogger)
	purgeTask := worker.NewPeriodicTask("queue_purge", cfg.QueuePurgeInterval, purger.PurgeOnce, appLogger)
	tasks = append(tasks, drainTask, purgeTask)

	maxAttempts := deliveryDomain.WithMaxAttempts(cfg.QueueMaxAttempts)
	queue := deliveryApp.NewQueue(messageRepo, drainTask, appLogger, maxAttempts)

	// Order ingestion and reconciliation.
	verifier := ingestionApp.NewSignatureVerifier(cfg.ShopifyWebhookSecret, cfg.AllowUnsignedWebhooks())
	ingestion := ingestionApp.NewService(verifier, orderRepo, settingsRepo, queue, publisher, validate, cfg.OrderChannelID, appLogger).
		WithMessageOptions(maxAttempts)
	webhookHandler := ingestionHTTP.NewWebhookHandler(ingestion, appLogger)

	if cfg.ShopifyStoreDomain == "" || cfg.ShopifyAccessToken == "" {
		appLogger.Warn("Storefront credentials not configured, reconciliation sync calls will fail")
	}
	storefrontClient := storefront.NewClient(appLogger, storefront.AdminBaseURL(cfg.ShopifyStoreDomain, cfg.ShopifyAPIVersion), cfg.ShopifyAccessToken, nil)
	syncer := syncApp.NewSyncer(storefrontClient, orderRepo, ingestion, store, publisher, cfg.SyncOrderDelay, cfg.SyncPreviewTTL, appLogger)

	// Member engagement.
	engagement := engagementApp.NewEngagement(engagementApp.Config{
		WelcomeDelay:    cfg.WelcomeDelay,
		SweepBatch:      cfg.WelcomeSweepBatch,
		SweepDelay:      cfg.WelcomeSweepDelay,
		VerifiedRoleID:  cfg.VerifiedRoleID,
		ClosedDmsRoleID: cfg.ClosedDmsRoleID,
		RequireVerified: cfg.RequireVerifiedForWelcome,
		Template:        render.TemplateWelcomeDM,
	}, memberRepo, chatClient, queue, settingsRepo, appLogger)
	defer engagement.Stop()
	tasks = append(tasks, worker.NewPeriodicTask("welcome_sweep", cfg.WelcomeSweepInterval, engagement.Sweep, appLogger))

	if natsClient != nil {
		consumer := engagementApp.NewMemberEventConsumer(natsClient, engagement, validate, appLogger)
		sub, err := consumer.Start(ctx, cfg.MemberEventsSubject)
		if err != nil {
			return fmt.Errorf("subscribe member events: %w", err)
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	// Admin console.
	auth := adminApp.NewAuthenticator(cfg.AdminUsername, cfg.AdminPasswordHash, cfg.AdminJWTSecret,
		time.Duration(cfg.AdminJWTExpiryHours)*time.Hour, appLogger)
	if cfg.AdminPasswordHash == "" {
		appLogger.Warn("ADMIN_PASSWORD_HASH not set, admin login is disabled")
	}
	adminHandler := adminHTTP.NewAdminHandler(adminHTTP.Deps{
		Auth:       auth,
		Queue:      queue,
		Drain:      drainTask,
		Settings:   settingsRepo,
		Templates:  templateRepo,
		Sync:       syncer,
		Members:    memberRepo,
		Welcome:    engagement,
		SyncWindow: cfg.SyncWindow,
	}, validate, appLogger)

	router := httpserver.NewRouter(appLogger, 60*time.Second)
	router.Get("/health", httpserver.HealthHandler(healthChecks))
	router.Post("/webhooks/shopify", webhookHandler.HandleShopifyWebhook)
	router.Mount("/admin", adminHTTP.NewRouter(adminHandler, cfg.AllowedOrigins()))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCHealthPort))
	if err != nil {
		return fmt.Errorf("listen grpc health on %d: %w", cfg.GRPCHealthPort, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task.Run(gctx) })
	}

	g.Go(func() error {
		appLogger.Info(fmt.Sprintf("Bridge gRPC health server listening on port %d", cfg.GRPCHealthPort))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		appLogger.Info(fmt.Sprintf("Bridge HTTP server listening on port %d", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	// Webhooks are accepted only once the drain loop is running.
	ingestion.SetReady(true)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	drainTask.Trigger()

	if cfg.SyncOnStartup {
		g.Go(func() error {
			startupSync(gctx, syncer, cfg, appLogger)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutdown signal received, stopping servers...")
		ingestion.SetReady(false)
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server shutdown failed", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

// startupSync previews missed orders and waits for an operator to apply the
// token, unless SYNC_STARTUP_APPLY opts into unattended processing.
func startupSync(ctx context.Context, syncer *syncApp.Syncer, cfg *config.Config, appLogger *slog.Logger) {
	if cfg.SyncStartupApply {
		result, err := syncer.SyncOfflineOrders(ctx, cfg.SyncWindow)
		if err != nil {
			appLogger.ErrorContext(ctx, "Startup reconciliation sync failed", "error", err)
			return
		}
		appLogger.InfoContext(ctx, "Startup reconciliation sync applied without confirmation",
			"found", result.Found, "processed", result.Processed, "skipped", result.Skipped, "failed", result.Failed)
		return
	}

	preview, err := syncer.Preview(ctx, cfg.SyncWindow)
	if err != nil {
		appLogger.ErrorContext(ctx, "Startup reconciliation preview failed", "error", err)
		return
	}
	if preview.ToProcess == 0 {
		appLogger.InfoContext(ctx, "Startup reconciliation found no missed orders", "found", preview.Found)
		return
	}
	appLogger.InfoContext(ctx, "Startup reconciliation preview awaiting confirmation",
		"token", preview.Token, "found", preview.Found, "to_process", preview.ToProcess,
		"expires_at", preview.ExpiresAt, "apply", "POST /admin/sync/"+preview.Token+"/apply")
}
