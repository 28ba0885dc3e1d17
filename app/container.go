package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/patrik-fredon/ZipChat-sub000/app/config"
	"github.com/patrik-fredon/ZipChat-sub000/internal/adapters"
	"github.com/patrik-fredon/ZipChat-sub000/internal/handlers"
	"github.com/patrik-fredon/ZipChat-sub000/internal/repositories"
	"github.com/patrik-fredon/ZipChat-sub000/internal/services"
	websocket "github.com/patrik-fredon/ZipChat-sub000/internal/websocet"
)

type Container struct {
	isShuttingDown bool

	GinEngine   *gin.Engine
	Config      *config.Config
	Redis       *redis.Client
	RateLimiter *RateLimiter

	Metrics        *Metrics
	Logger         *slog.Logger
	TracerProvider *tracesdk.TracerProvider
	Tracer         trace.Tracer

	Server *http.Server

	Repository *repositories.RepositoryAdapter

	AuthService     *services.AuthService
	MessageService  *services.MessageService
	PresenceService *services.PresenceService
	DeliveryService *services.DeliveryService

	AuthHandler      *handlers.AuthHandler
	MessageHandler   *handlers.MessageHandler
	WebSocketHandler *handlers.WebSocketHandler

	WsHub *websocket.Hub

	sweeperCancel context.CancelFunc
}

func NewContainer() (*Container, error) {
	container := &Container{}

	if err := container.initCore(); err != nil {
		return nil, err
	}

	if err := container.initProductionFeatures(); err != nil {
		return nil, err
	}

	return container, nil
}

func (c *Container) initCore() error {
	var cfg, err = config.LoadConfig()
	if err != nil {
		return err
	}
	c.Config = &cfg

	c.Logger = c.initLogger()
	c.Redis = c.initRedis()

	if err = c.initTracing(); err != nil {
		return err
	}

	c.initMetrics()

	c.Repository, err = repositories.NewRepositoryAdapter(cfg.Database, c.Logger)
	if err != nil {
		c.Logger.Error("Repository initialize error", "error", err.Error())
		return err
	}

	c.WsHub = websocket.NewHub(c.Logger, c.Metrics.ActiveWebSockets)

	c.MessageService = services.NewMessageService(
		c.Repository.Message,
		c.Repository.Key,
		c.Repository.User,
		adapters.NewFSAttachmentStore(cfg.Attachments.Root),
		c.Logger,
	)
	c.MessageService.SetCounters(c.Metrics.MessagesSent, c.Metrics.MessagesExpired)

	c.PresenceService = services.NewPresenceService(
		c.WsHub,
		adapters.NewRedisPresenceRepository(c.Redis),
		cfg.Heartbeat.Interval,
		c.Logger,
	)

	c.DeliveryService = services.NewDeliveryService(
		c.MessageService,
		c.PresenceService,
		c.WsHub,
		adapters.NewLogPushNotifier(c.Logger),
		c.Logger,
	)
	c.DeliveryService.SetDropCounter(c.Metrics.DeliveryDrops)

	c.RateLimiter = NewRateLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)

	c.AuthService = services.NewAuthService(
		adapters.NewRedisTokenRepository(c.Redis),
		[]byte(cfg.JWT.SecretKey),
		c.Logger,
	)

	c.AuthHandler = handlers.NewAuthHandler(c.AuthService, c.Repository.User, c.Logger)
	c.MessageHandler = handlers.NewMessageHandler(c.MessageService, c.DeliveryService, c.PresenceService, c.Repository.Key, c.Logger)
	c.WebSocketHandler = handlers.NewWebSocketHandler(c.WsHub, c.DeliveryService, c.PresenceService, c.AuthService, c.Logger)

	c.Server = c.initServer()
	c.GinEngine = c.initGinEngine()
	c.Server.Handler = c.GinEngine

	return nil
}

func (c *Container) initProductionFeatures() error {
	c.initHealthRoutes(c.GinEngine)

	c.GinEngine.Use(services.SecurityMiddleware())
	c.GinEngine.Use(services.RequestIDMiddleware())

	return nil
}

// Start launches the background workers. Safe to call once, after
// NewContainer succeeds.
func (c *Container) Start() {
	c.PresenceService.Start()

	var ctx context.Context
	ctx, c.sweeperCancel = context.WithCancel(context.Background())
	go c.MessageService.RunSweeper(ctx, c.Config.Sweep.Interval)
}

func (c *Container) initMetrics() {
	c.Metrics = &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "HTTP request duration",
			},
			[]string{"method", "endpoint"},
		),
		ActiveWebSockets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_active_connections",
				Help: "Currently registered websocket connections",
			},
		),
		MessagesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "messages_sent_total",
				Help: "Messages accepted for delivery",
			},
		),
		MessagesExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "messages_expired_total",
				Help: "Messages removed by the expiry sweeper",
			},
		),
		DeliveryDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "delivery_drops_total",
				Help: "Events dropped because the recipient had no live connection",
			},
		),
	}
	prometheus.MustRegister(
		c.Metrics.RequestsTotal,
		c.Metrics.RequestDuration,
		c.Metrics.ActiveWebSockets,
		c.Metrics.MessagesSent,
		c.Metrics.MessagesExpired,
		c.Metrics.DeliveryDrops,
	)
}

func (c *Container) initTracing() error {
	if !c.Config.Tracing.Enabled {
		c.Logger.Info("tracing disabled")
		return nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(c.Config.Tracing.Endpoint)))
	if err != nil {
		return err
	}

	c.TracerProvider = tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(c.Config.Tracing.ServiceName),
			attribute.String("environment", c.Config.Environment.Current),
		)),
	)

	otel.SetTracerProvider(c.TracerProvider)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	c.Tracer = c.TracerProvider.Tracer("zipchat-delivery")

	c.Logger.Info("tracing initialized", "endpoint", c.Config.Tracing.Endpoint)
	return nil
}

func (c *Container) initHealthRoutes(eng *gin.Engine) {
	eng.GET("/health", func(ctx *gin.Context) {
		health := map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		if err := c.Repository.HealthCheck(ctx); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			ctx.JSON(503, health)
			return
		}

		if err := c.Redis.Ping().Err(); err != nil {
			health["redis"] = "unhealthy"
			health["status"] = "degraded"
			ctx.JSON(503, health)
			return
		}

		health["database"] = "healthy"
		health["redis"] = "healthy"
		ctx.JSON(200, health)
	})

	eng.GET("/ready", func(ctx *gin.Context) {
		if c.isShuttingDown {
			ctx.JSON(503, gin.H{"status": "shutting down"})
			return
		}
		ctx.JSON(200, gin.H{"status": "ready"})
	})

	eng.GET("/live", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "live"})
	})

	eng.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (c *Container) initGinEngine() *gin.Engine {
	var eng = gin.Default()

	eng.Use(otelgin.Middleware(c.Config.Tracing.ServiceName))
	eng.Use(MetricsMiddleware(c.Metrics))

	api := eng.Group("/api")

	api.Use(RateLimitMiddleware(c.RateLimiter))
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/token", c.AuthHandler.IssueToken)
			authGroup.POST("/logout", c.AuthHandler.AuthMiddleware(), c.AuthHandler.Logout)
		}

		messagesGroup := api.Group("/messages")
		messagesGroup.Use(c.AuthHandler.AuthMiddleware())
		{
			messagesGroup.POST("", c.MessageHandler.SendMessage)
			messagesGroup.POST("/read", c.MessageHandler.MarkRead)
			messagesGroup.POST("/delivered", c.MessageHandler.MarkDelivered)
			messagesGroup.DELETE("/:id", c.MessageHandler.DeleteMessage)
		}

		authorized := api.Group("")
		authorized.Use(c.AuthHandler.AuthMiddleware())
		{
			authorized.GET("/conversations/:userId", c.MessageHandler.GetConversation)
			authorized.PUT("/drafts/:recipientId", c.MessageHandler.SaveDraft)
			authorized.GET("/drafts/:recipientId", c.MessageHandler.GetDraft)
			authorized.POST("/keys/rotate", c.MessageHandler.RotateKey)
		}

		api.GET("/ws", c.WebSocketHandler.HandleWebSocket)
	}

	return eng
}

func (c *Container) initLogger() *slog.Logger {
	var logger *slog.Logger
	if c.Config.Environment.Current == "development" {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	slog.SetDefault(logger)
	return logger
}

func (c *Container) initRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
}

func (c *Container) initServer() *http.Server {
	return &http.Server{
		Addr:         ":" + c.Config.Server.Port,
		ReadTimeout:  time.Duration(c.Config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(c.Config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(c.Config.Server.IdleTimeout) * time.Second,
	}
}

func (c *Container) Close() error {
	c.isShuttingDown = true

	if c.PresenceService != nil {
		c.PresenceService.Stop()
	}

	if c.sweeperCancel != nil {
		c.sweeperCancel()
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Error("failed to close redis client", "error", err)
		}
	}

	if c.Repository != nil {
		if err := c.Repository.Close(); err != nil {
			c.Logger.Error("failed to close repository", "error", err)
		}
	}

	if c.TracerProvider != nil {
		if err := c.TracerProvider.Shutdown(context.Background()); err != nil {
			c.Logger.Error("failed to shutdown tracer provider", "error", err)
		}
	}

	return nil
}
