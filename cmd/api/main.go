package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-platform/internal/analytics"
	httptransport "github.com/spec-kit/ticket-platform/internal/api/http"
	"github.com/spec-kit/ticket-platform/internal/api/http/handlers"
	"github.com/spec-kit/ticket-platform/internal/auth"
	"github.com/spec-kit/ticket-platform/internal/config"
	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/effects"
	"github.com/spec-kit/ticket-platform/internal/observability"
	"github.com/spec-kit/ticket-platform/internal/permission"
	"github.com/spec-kit/ticket-platform/internal/persistence"
	"github.com/spec-kit/ticket-platform/internal/platform"
	"github.com/spec-kit/ticket-platform/internal/repository"
	"github.com/spec-kit/ticket-platform/internal/service"
	"github.com/spec-kit/ticket-platform/internal/tx"
	"github.com/spec-kit/ticket-platform/internal/webhook"
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

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	txm := tx.NewManager(pg.Pool, pg.Pool, logger)

	ticketRepo := repository.NewTicketRepository(txm)
	participantRepo := repository.NewParticipantRepository(txm)
	closeRequestRepo := repository.NewCloseRequestRepository(txm)
	tenantRepo := repository.NewTenantRepository(txm)
	roleRepo := repository.NewRoleRepository(txm)
	identityRepo := repository.NewIdentityRepository(txm)
	panelRepo := repository.NewPanelRepository(txm)
	eventRepo := repository.NewTicketEventRepository(txm)

	permEngine := permission.NewEngine(permission.Options{
		Roles:          roleRepo,
		Tenants:        tenantRepo,
		Cache:          redis.Client,
		CacheTTL:       time.Duration(cfg.Permission.CacheTTLSeconds) * time.Second,
		Logger:         logger,
		DevModeEnabled: cfg.App.IsDevelopment(),
		DevOverride:    domain.Permissions(cfg.Permission.DevOverrideMask),
	})

	channelClient := platform.NewHTTPClient(cfg.Chat.BaseURL, cfg.Chat.BotToken,
		time.Duration(cfg.Chat.RequestTimeoutSeconds)*time.Second)
	webhookSender := webhook.NewHTTPSender(cfg.Webhook.URL, cfg.Webhook.Secret, 10*time.Second)

	var publisher analytics.Publisher = analytics.NopPublisher{}
	if cfg.Analytics.AMQPURL != "" {
		amqpPublisher, err := analytics.NewAMQPPublisher(cfg.Analytics.AMQPURL, logger)
		if err != nil {
			logger.Fatal("failed to connect analytics broker", zap.Error(err))
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	effectScheduler := effects.NewScheduler(effects.Options{
		Channels:  channelClient,
		Webhooks:  webhookSender,
		Analytics: publisher,
		Tickets:   ticketRepo,
		Metrics:   metrics,
		Logger:    logger,
	})

	autoClose := service.NewAutoCloseScheduler(logger)
	defer autoClose.Stop()

	lifecycle := service.NewLifecycleService(service.LifecycleDependencies{
		Tx:            txm,
		TicketRepo:    ticketRepo,
		Participants:  participantRepo,
		CloseRequests: closeRequestRepo,
		Tenants:       tenantRepo,
		Panels:        panelRepo,
		Events:        eventRepo,
		Effects:       effectScheduler,
		AutoClose:     autoClose,
		Logger:        logger,
	})

	if err := lifecycle.RearmAutoClose(ctx); err != nil {
		logger.Error("failed to re-arm auto-close timers", zap.Error(err))
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	sessions := service.NewSessionService(identityRepo, tokens)
	actorMiddleware := auth.NewActorMiddleware(tokens, identityRepo, permEngine)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:          handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:            handlers.NewAuthHandler(sessions),
		Tickets:         handlers.NewTicketsHandler(lifecycle),
		ActorMiddleware: actorMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
