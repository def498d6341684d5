package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpapi "github.com/pulsecrm/pulsecrm/internal/api/http"
	"github.com/pulsecrm/pulsecrm/internal/application/docstore"
	"github.com/pulsecrm/pulsecrm/internal/application/eventbus"
	"github.com/pulsecrm/pulsecrm/internal/application/notify"
	appPresence "github.com/pulsecrm/pulsecrm/internal/application/presence"
	"github.com/pulsecrm/pulsecrm/internal/application/scheduler"
	appSession "github.com/pulsecrm/pulsecrm/internal/application/session"
	"github.com/pulsecrm/pulsecrm/internal/config"
	"github.com/pulsecrm/pulsecrm/internal/domain/event"
	"github.com/pulsecrm/pulsecrm/internal/domain/presence"
	"github.com/pulsecrm/pulsecrm/internal/infrastructure/broker"
	"github.com/pulsecrm/pulsecrm/internal/infrastructure/memcache"
	"github.com/pulsecrm/pulsecrm/internal/infrastructure/poll"
	"github.com/pulsecrm/pulsecrm/internal/infrastructure/postgres"
	"github.com/pulsecrm/pulsecrm/internal/infrastructure/rediscache"
	"github.com/pulsecrm/pulsecrm/internal/infrastructure/ws"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, "internal/migrations"); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	// repositories
	docRepo := postgres.NewDocumentRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)
	eventRepo := postgres.NewEventRepository(pool)
	jobRepo := postgres.NewJobRepository(pool)
	notificationRepo := postgres.NewNotificationRepository(pool)
	presenceAuditRepo := postgres.NewPresenceAuditRepository(pool)

	// presence cache: Redis when configured, in-process otherwise
	var presenceCache presence.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis error: %v", err)
		}
		presenceCache = rediscache.NewPresenceCache(client, 0)
	} else {
		logger.Warn().Msg("REDIS_ADDR not set, using in-process presence cache")
		presenceCache = memcache.NewPresenceCache()
	}

	// event bus and transports
	bus := eventbus.New(logger)
	hub := ws.NewHub(logger)
	bus.Attach(hub)
	pollStore := poll.NewStoreTransport(eventRepo, logger)
	bus.Attach(pollStore)

	if len(cfg.KafkaBrokers) > 0 {
		bridge, err := broker.NewBridge(broker.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, cfg.KafkaSubscriptions, logger)
		if err != nil {
			log.Fatalf("kafka error: %v", err)
		}
		bus.Attach(bridge)
		// Inbound broker traffic goes straight to the push clients; looping
		// it back through the bus would re-publish to Kafka.
		bridge.OnReceive(func(room event.Room, env event.Envelope) {
			if err := hub.Deliver(room, env); err != nil {
				logger.Warn().Err(err).Str("room", string(room)).Msg("bridge-to-push delivery failed")
			}
		})
	} else {
		logger.Warn().Msg("KAFKA_BROKERS not set, broker bridge disabled")
	}

	// services
	docSvc := docstore.NewService(docRepo, nil, logger)
	presenceSvc := appPresence.NewTracker(presenceCache, presenceAuditRepo, bus, cfg.PresenceWindow, logger)
	sessionSvc := appSession.NewManager(sessionRepo, docSvc, bus, logger)

	sched := scheduler.New(jobRepo, cfg.SchedulerInterval, logger)
	handlers := &scheduler.Handlers{
		Notifications:  notificationRepo,
		Events:         eventRepo,
		Jobs:           jobRepo,
		Bus:            bus,
		Sweeper:        presenceSvc,
		Sender:         scheduler.LogSender{Logger: logger},
		SweepThreshold: cfg.PresenceSweepAge,
		Retention:      cfg.EventRetention,
		Logger:         logger,
	}
	handlers.Mount(sched)
	sched.Start(ctx)

	notifySvc := notify.NewService(notificationRepo, sched, logger)

	// API server
	apiServer := httpapi.NewServer(docSvc, sessionSvc, presenceSvc, notifySvc, sched, pollStore, hub, []byte(cfg.JWTSecret), logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown: stop accepting requests, drain jobs, then close the
	// transports through the bus
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	sched.Shutdown()
	bus.Shutdown()
}
