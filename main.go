package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-engine/internal/auth"
	"chat-engine/internal/config"
	"chat-engine/internal/coordinator"
	"chat-engine/internal/db"
	grpcserver "chat-engine/internal/grpc"
	apihandlers "chat-engine/internal/handlers"
	"chat-engine/internal/middleware"
	"chat-engine/internal/notify"
	"chat-engine/internal/observability"
	"chat-engine/internal/presence"
	"chat-engine/internal/rabbitmq"
	"chat-engine/internal/ratelimit"
	"chat-engine/internal/repositories"
	"chat-engine/internal/telemetry"
	"chat-engine/internal/ws"
)

const (
	serviceName     = "chat-engine"
	auditRoutingKey = "audit.chat"
	presenceTTL     = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	log.Printf("event publisher mode=%s noop_reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
	}

	members, messages, closeStore, err := openStores(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to open stores: %v", err)
	}

	var trackerOpts []presence.Option
	if rdb != nil {
		trackerOpts = append(trackerOpts, presence.WithStore(presence.NewRedisStore(rdb, presenceTTL)))
	}
	tracker := presence.NewTracker(cfg.TypingTTL, trackerOpts...)
	notifier := notify.New(strings.Join(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
	registry := ws.NewRegistry(members, tracker, notifier)

	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, serviceName, cfg.Env)
	opts := []coordinator.Option{
		coordinator.WithObservers(telemetry.LogObserver{Verbose: cfg.DebugRoutes}, coordinator.MetricsObserver{}, audit),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, coordinator.WithLimiter(ratelimit.New(rdb, cfg.RateLimit, cfg.RateWindow)))
	}
	chat := coordinator.New(members, messages, tracker, registry, coordinator.Config{EditWindow: cfg.EditWindow}, opts...)

	authn := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	clientCfg := ws.DefaultClientConfig()
	clientCfg.PingInterval = cfg.PingInterval
	clientCfg.MaxMissedPings = cfg.MaxMissedPings
	wsHandler := ws.NewHandler(registry, chat, authn, clientCfg, cfg.AllowedOrigins)

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName), observability.HTTPMetricsMiddleware())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.Handle)

	api := router.Group("/", middleware.AuthMiddleware(authn))
	apihandlers.NewRoomHandler(chat).Register(api)
	apihandlers.NewMessageHandler(chat).Register(api)
	apihandlers.NewPresenceHandler(chat).Register(api)
	apihandlers.RegisterDebugRoutes(api, audit, registry, cfg.DebugRoutes)

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-ID", "X-Device-Id"}),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           cors(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	health := grpcserver.NewHealthServer()
	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatalf("failed to listen grpc: %v", err)
	}
	go func() {
		if err := health.Serve(grpcLis); err != nil {
			log.Printf("grpc server error: %v", err)
		}
	}()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		chat.RunSweeper(sweepCtx, cfg.SweepInterval)
	}()

	go func() {
		log.Printf("http listening addr=%s env=%s", srv.Addr, cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	stopSweeper()
	<-sweepDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	health.Stop(shutdownCtx)
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Printf("tracer shutdown error: %v", err)
	}
	if err := notifier.Close(); err != nil {
		log.Printf("notifier close error: %v", err)
	}
	if err := publisher.Close(); err != nil {
		log.Printf("publisher close error: %v", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	closeStore()
}

// openStores uses PostgreSQL when dsn is set and the in-memory stores otherwise.
func openStores(ctx context.Context, dsn string) (repositories.MembershipRepository, repositories.MessageRepository, func(), error) {
	if dsn == "" {
		log.Printf("storage mode=memory")
		members := repositories.NewMemoryMembershipStore()
		return members, repositories.NewMemoryMessageStore(members), func() {}, nil
	}

	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Printf("storage mode=postgres")
	members := repositories.NewMembershipRepo(database)
	return members, repositories.NewMessageRepo(database, members), func() { _ = database.Close() }, nil
}
