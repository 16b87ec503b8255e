package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Drivers
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	// Instrumentation
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	// Interne
	"github.com/jupiterclapton/cenackle/services/feedsync/config"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/adapters/primary/events"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/adapters/primary/gesture"
	grpc_adapter "github.com/jupiterclapton/cenackle/services/feedsync/internal/adapters/primary/grpc"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/adapters/primary/httpapi"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/adapters/secondary/clients"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/adapters/secondary/metrics"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/adapters/secondary/repository"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/services"
)

func main() {
	// 1. Config & Logger
	cfg := config.Load()
	initLogger(cfg)
	slog.Info("🚀 Starting Feed Sync", "env", cfg.Env, "api", cfg.ApiBaseUrl, "feed", cfg.FeedKind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Télémétrie (Tracing)
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// 3. Métriques
	promMetrics, err := metrics.NewPrometheus(prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	// 4. Infrastructure: Cache (Driven Adapter)
	cache, closeCache := initCache(ctx, cfg)
	defer closeCache()

	// 5. Infrastructure: Backend REST (Driven Adapters)
	api, err := clients.NewAPIClient(cfg.ApiBaseUrl, cfg.ApiToken, cfg.HTTPTimeout)
	if err != nil {
		slog.Error("Invalid API configuration", "error", err)
		os.Exit(1)
	}
	defer api.Close()
	feedClient := clients.NewFeedClient(api)

	// 6. Initialisation du Core
	initialBatch := cfg.InitialBatch
	if initialBatch == 0 {
		initialBatch = -1 // INITIAL_BATCH=0 désactive le chargement progressif
	}
	reconciler := services.NewReconciler(feedClient, cache, clients.NewInteractionsClient(api), services.Options{
		PageSize:     cfg.PageSize,
		InitialBatch: initialBatch,
		RefetchAfter: cfg.RefetchAfter,
		EchoWindow:   cfg.EchoWindow,
		Metrics:      promMetrics,
	})
	defer reconciler.Close()

	impressions := services.NewImpressionTracker(clients.NewImpressionsClient(api))
	defer impressions.Close()

	// 7. Événements : push NATS, polling en secours (Driving Adapter - Async)
	var push events.PushChannel
	if cfg.NatsUrl != "" {
		push = events.NewChannel(cfg.NatsUrl, events.ChannelOptions{Prefix: cfg.SubjectPrefix})
	}
	poller := events.NewPoller(feedClient, reconciler, cfg.PollInterval, cfg.PageSize)
	source := events.NewSource(push, poller, cfg.PushRetry)
	defer source.Close()

	healthAdapter := grpc_adapter.NewServer()
	source.OnModeChange(healthAdapter.SetDegraded)
	source.OnModeChange(promMetrics.Degraded)

	if err := reconciler.Attach(ctx, source); err != nil {
		slog.Error("Failed to attach event source", "error", err)
		os.Exit(1)
	}
	slog.Info("👂 Listening for feed events", "degraded", source.Degraded())

	// Premier feed : un échec réseau n'est pas fatal, l'état expose l'erreur.
	if err := reconciler.Activate(ctx, domain.FeedKey{Kind: domain.FeedKind(cfg.FeedKind)}); err != nil {
		slog.Warn("Initial load failed", "error", err)
	}
	reconciler.WatchNewer(cfg.ProbeInterval)

	// 8. Serveur gRPC Health (Driving Adapter - Sync)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen", "error", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("📡 gRPC health listening", "port", cfg.GRPCPort)
		if err := healthAdapter.Serve(lis); err != nil {
			slog.Error("gRPC server error", "error", err)
			os.Exit(1)
		}
	}()

	// 9. Presentation Adapter HTTP
	var engine ports.FeedEngine = reconciler
	handler := httpapi.NewServer(engine, gesture.NewController(engine, gesture.DefaultThreshold),
		httpapi.WithImpressions(impressions),
		httpapi.WithModeReporter(source),
		httpapi.WithMetrics(promhttp.Handler()),
	)
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "baggage", "sentry-trace"},
		AllowCredentials: true,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(c.Handler(handler), "feedsync-http"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("🌐 HTTP listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("🛑 Shutting down server...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	healthAdapter.GracefulStop()
	slog.Info("👋 Server exited")
}

// --- Helpers ---

func initLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// initCache : Redis si configuré et joignable, sinon LRU en mémoire.
func initCache(ctx context.Context, cfg config.Config) (ports.FeedCache, func()) {
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		// Instrumentation Redis
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			panic(err)
		}
		err := rdb.Ping(ctx).Err()
		if err == nil {
			slog.Info("✅ Connected to Redis")
			return repository.NewRedisFeedCache(rdb, cfg.CacheTTL), func() { _ = rdb.Close() }
		}
		slog.Warn("⚠️ Redis unreachable, using in-memory cache", "error", err)
		_ = rdb.Close()
	}

	mem, err := repository.NewMemoryFeedCache(cfg.CacheEntries)
	if err != nil {
		slog.Error("Failed to create memory cache", "error", err)
		os.Exit(1)
	}
	return mem, func() {}
}

func initTracer(ctx context.Context, cfg config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("feedsync"),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
