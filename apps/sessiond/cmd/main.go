package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/frame/cache/jetstreamkv"
	"github.com/pitabwire/frame/cache/valkey"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/util"
	sconfig "github.com/scribehub/service-collab/apps/sessiond/config"
	"github.com/scribehub/service-collab/apps/sessiond/service/business"
	"github.com/scribehub/service-collab/apps/sessiond/service/clients"
	"github.com/scribehub/service-collab/apps/sessiond/service/events"
	"github.com/scribehub/service-collab/apps/sessiond/service/handlers"
	"github.com/scribehub/service-collab/internal/health"
	"github.com/scribehub/service-collab/internal/resilience"
)

const gracefulShutdownTimeout = 30 * time.Second

func runService(ctx context.Context) error {
	// Initialize configuration
	cfg, err := config.LoadWithOIDC[sconfig.SessionConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return err
	}

	// Validate configuration (fail-fast on invalid config)
	if err = cfg.Validate(); err != nil {
		util.Log(ctx).With("err", err).Error("invalid configuration")
		return err
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "service_collab_session"
	}

	rawCache, err := setupCache(ctx, cfg)
	if err != nil {
		util.Log(ctx).WithError(err).Fatal("could not setup cache")
	}

	// Create service
	ctx, svc := frame.NewServiceWithContext(ctx, frame.WithConfig(&cfg),
		frame.WithCache(cfg.CacheName, rawCache))
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	eventsMan := svc.EventsManager()
	queueMan := svc.QueueManager()

	// Setup collaborators
	verifier := clients.NewJWTVerifier(cfg.JWTVerificationSecret)
	documentStore := clients.NewHTTPDocumentStore(cfg.DocumentServiceURI, cfg.DocumentServiceTimeout())

	// Setup session coordinator with its background tasks
	coordinator := business.NewSessionCoordinator(ctx, business.CoordinatorOptions{
		MaxConnections:    int32(cfg.MaxConnections),
		OperationLogSize:  cfg.OperationLogSize,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ConnectionTimeout: cfg.ConnectionTimeout(),
		EventsPerSecond:   cfg.MaxEventsPerSecond,
		EventBurst:        cfg.MaxEventBurst,
	}, verifier, documentStore, eventsMan, rawCache)
	// Defers run LIFO: the coordinator drains before svc.Stop.
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer drainCancel()
		coordinator.Shutdown(drainCtx)
	}()

	// Setup health checks
	healthHandler := setupHealthChecks(coordinator, documentStore)

	// Setup websocket gateway
	gateway := handlers.NewGatewayHandler(coordinator, cfg.HeartbeatInterval())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/ws", gateway.ServeWebSocket)

	notificationPublisher := frame.WithRegisterPublisher(
		cfg.QueueNotificationName,
		cfg.QueueNotificationURI,
	)

	svc.Init(ctx,
		notificationPublisher,
		frame.WithRegisterEvents(
			events.NewNotificationHandler(queueMan, cfg.QueueNotificationName),
		),
		frame.WithHTTPHandler(mux),
	)

	log.WithField("service", cfg.Name()).Info("starting collaboration session service")

	// Start the service
	return svc.Run(ctx, "")
}

func main() {
	ctx := context.Background()
	if err := runService(ctx); err != nil {
		util.Log(ctx).WithError(err).Fatal("could not run service")
	}
}

func setupCache(_ context.Context, cfg sconfig.SessionConfig) (cache.RawCache, error) {
	cacheDSN := data.DSN(cfg.CacheURI)

	cacheOptions := []cache.Option{
		cache.WithDSN(cacheDSN),
	}

	if cfg.CacheCredentialsFile != "" {
		cacheOptions = append(cacheOptions, cache.WithCredsFile(cfg.CacheCredentialsFile))
	}

	switch {
	case cacheDSN.IsNats():
		return jetstreamkv.New(cacheOptions...)
	case cacheDSN.IsRedis():
		return valkey.New(cacheOptions...)
	default:
		return cache.NewInMemoryCache(), nil
	}
}

// setupHealthChecks creates the health handler with registry and document
// store checkers.
func setupHealthChecks(coordinator *business.SessionCoordinator, store *clients.HTTPDocumentStore) *health.Handler {
	handler := health.NewHandler()

	handler.AddChecker(health.CheckerFunc{
		CheckerName: "connection_registry",
		Fn: func(_ context.Context) health.CheckResult {
			registry := coordinator.Registry()
			if registry.Size() >= registry.Capacity() {
				return health.CheckResult{Status: health.StatusDegraded, Error: "connection registry is full"}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		},
	})

	handler.AddChecker(health.CheckerFunc{
		CheckerName: "document_store",
		Fn: func(_ context.Context) health.CheckResult {
			breaker := store.Breaker()
			if breaker.State() == resilience.StateOpen {
				return health.CheckResult{Status: health.StatusDegraded, Error: "document store circuit is open"}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		},
	})

	return handler
}
