package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fulfillment-svc/cache"
	"fulfillment-svc/circuitbreaker"
	"fulfillment-svc/config"
	"fulfillment-svc/database"
	"fulfillment-svc/grpcapi"
	"fulfillment-svc/handlers"
	"fulfillment-svc/kafka"
	"fulfillment-svc/ledger"
	"fulfillment-svc/middleware"
	"fulfillment-svc/orders"
	"fulfillment-svc/shipping"
	"fulfillment-svc/shippingcost"
	"fulfillment-svc/webhook"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const trackingRetryDelay = 2 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	var logger *zap.Logger
	if cfg.LogLevel == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(cfg.DB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}

	// Initialize Redis cache
	redisClient, err := cache.InitRedis(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	costs, err := shippingcost.Load(cfg.ShippingRatesFile)
	if err != nil {
		logger.Fatal("Failed to load shipping rates", zap.Error(err))
	}

	payments := ledger.New(db, logger)
	publisher := kafka.NewOrderEventPublisher(producer, cfg.Kafka.OrderTopic, logger)
	orderService := orders.NewService(orders.NewPostgresStore(db), payments, publisher, logger)
	shipmentService := shipping.NewService(shipping.NewPostgresStore(db), orderService, costs, logger)
	reconciler := webhook.NewReconciler(
		webhook.NewHMACVerifier(cfg.WebhookSecret, cfg.WebhookTolerance),
		payments,
		orderService,
		cache.NewEventDeduper(redisClient, cfg.WebhookDedupTTL),
		logger,
	)

	webhookBreaker := circuitbreaker.NewCircuitBreaker("webhook-storage", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger)
	trackingBreaker := circuitbreaker.NewCircuitBreaker("tracking-storage", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger)

	// Initialize Kafka consumer group for carrier tracking updates
	consumerGroup, err := kafka.InitConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer group", zap.Error(err))
	}

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	var consumerWG sync.WaitGroup
	consumerWG.Add(1)
	go func() {
		defer consumerWG.Done()
		handler := kafka.NewTrackingHandler(shipmentService, trackingBreaker, trackingRetryDelay, logger)
		if err := kafka.StartConsumer(consumerCtx, consumerGroup, cfg.Kafka.TrackingTopic, handler, logger); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	orderHandler := handlers.NewOrderHandler(orderService, payments, reconciler, logger)
	shipmentHandler := handlers.NewShipmentHandler(shipmentService, costs, trackingBreaker, logger)
	webhookHandler := handlers.NewWebhookHandler(reconciler, webhookBreaker, logger)

	jwtSecret := []byte(cfg.JWTSecret)
	staffOnly := middleware.RequireRole(jwtSecret, "staff")

	// Order endpoints
	router.POST("/orders", orderHandler.CreateOrder)
	router.GET("/orders/:id", orderHandler.GetOrder)
	router.POST("/orders/:id/payments", orderHandler.RecordPayment)
	router.GET("/orders/:id/payments", staffOnly, orderHandler.PaymentHistory)
	router.POST("/orders/:id/cancel", staffOnly, orderHandler.CancelOrder)
	router.POST("/orders/:id/shipments", staffOnly, shipmentHandler.CreateShipment)

	// Shipment endpoints
	router.GET("/shipments/:id", shipmentHandler.GetShipment)
	router.POST("/shipments/:id/tracking", middleware.RequireRole(jwtSecret, "staff", "carrier"), shipmentHandler.UpdateTracking)
	router.GET("/shipping/quote", shipmentHandler.Quote)

	// Payment provider webhooks
	router.POST("/webhooks/payments", webhookHandler.HandlePayment)

	// Start REST server
	restSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Fulfillment Service REST API started", zap.String("addr", cfg.HTTPAddr))

	// Start gRPC server
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}

	grpcServer := grpcapi.NewGRPCServer(grpcapi.NewServer(orderService, payments, logger))

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	logger.Info("Fulfillment Service gRPC server started", zap.String("addr", cfg.GRPCAddr))

	gracefulShutdown(restSrv, grpcServer, func() {
		stopConsumer()
		if err := consumerGroup.Close(); err != nil {
			logger.Error("Failed to close Kafka consumer group", zap.Error(err))
		}
		consumerWG.Wait()
	}, producer, db, redisClient, shutdownTracing, logger)
}

// gracefulShutdown handles SIGINT/SIGTERM and shuts down all services gracefully
func gracefulShutdown(
	restSrv *http.Server,
	grpcServer *grpc.Server,
	stopConsumer func(),
	producer sarama.SyncProducer,
	db *sql.DB,
	redisClient *redis.Client,
	shutdownTracing func(),
	logger *zap.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received. Exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop REST server
	if err := restSrv.Shutdown(ctx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("REST server stopped gracefully")
	}

	// Stop gRPC server
	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped gracefully")

	// Stop consuming tracking updates before closing the stores they write to
	stopConsumer()
	logger.Info("Kafka consumer stopped")

	if err := producer.Close(); err != nil {
		logger.Error("Failed to close Kafka producer", zap.Error(err))
	}

	// Close database
	if err := db.Close(); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	} else {
		logger.Info("Database connection closed gracefully")
	}

	// Close Redis cache
	if err := redisClient.Close(); err != nil {
		logger.Error("Failed to close Redis cache", zap.Error(err))
	} else {
		logger.Info("Redis cache closed gracefully")
	}

	// Shutdown tracing
	shutdownTracing()
	logger.Info("Fulfillment Service exited gracefully")
}
