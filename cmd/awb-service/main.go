package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/storekit/eawb-service/internal/api"
	"github.com/storekit/eawb-service/internal/eawb"
	"github.com/storekit/eawb-service/internal/events"
	"github.com/storekit/eawb-service/internal/livefeed"
	"github.com/storekit/eawb-service/internal/payments"
	"github.com/storekit/eawb-service/internal/store"
	"github.com/storekit/eawb-service/internal/syncer"
	"github.com/storekit/eawb-service/internal/workflow"
	"github.com/storekit/eawb-service/pkg/models"
)

// orderIngestor writes storefront order-created events into the local store.
type orderIngestor struct {
	store  *store.Postgres
	logger *logrus.Logger
}

func (i *orderIngestor) HandleOrderCreated(event events.OrderCreatedEvent) error {
	order := &models.Order{
		ID:             event.OrderID,
		CustomerName:   event.CustomerName,
		CustomerEmail:  event.CustomerEmail,
		TotalAmount:    event.TotalAmount,
		Currency:       event.Currency,
		PaymentStatus:  models.PaymentPending,
		ShippingStatus: models.ShippingPending,
		CreatedAt:      event.CreatedAt,
		UpdatedAt:      time.Now(),
	}

	if err := i.store.InsertOrder(context.Background(), order); err != nil {
		return err
	}

	i.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"total_amount": order.TotalAmount,
	}).Info("Storefront order ingested")
	return nil
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Database configuration
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "awbservice")
	dbPassword := getEnv("DB_PASSWORD", "awbservice")
	dbName := getEnv("DB_NAME", "orders")

	// Integration backends
	eawbURL := getEnv("EAWB_URL", "http://localhost:8082/eawb-delivery")
	paymentURL := getEnv("PAYMENT_URL", "http://localhost:8083/payment")

	// Kafka configuration
	kafkaBrokers := getEnv("KAFKA_BROKERS", "localhost:9092")

	// Service configuration
	port := getEnv("AWB_SERVICE_PORT", "8081")

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost, dbPort, dbUser, dbPassword, dbName)

	db, err := store.Open(dsn, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.WaitReady(30); err != nil {
		logger.WithError(err).Fatal("Database never became ready")
	}
	if err := db.CreateSchema(); err != nil {
		logger.WithError(err).Fatal("Failed to create schema")
	}

	producer, err := events.NewShippingProducer(kafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create event producer")
	}
	defer producer.Close()

	shippingClient := eawb.NewClient(eawb.Config{BaseURL: eawbURL}, logger)
	paymentClient := payments.NewClient(paymentURL, logger)

	orderSync := syncer.New(db, shippingClient, paymentClient, logger)
	sessions := workflow.NewRegistry(shippingClient, orderSync, logger)

	feed := livefeed.NewHub(logger)
	go feed.Run()

	handler := api.NewHandler(sessions, orderSync, producer, logger)
	handler.SetLiveFeed(feed)

	// Ingest storefront orders in the background.
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	consumer, err := events.NewConsumer(kafkaBrokers, "awb-service",
		&orderIngestor{store: db, logger: logger}, nil, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create event consumer")
	}
	defer consumer.Close()

	go func() {
		if err := consumer.Start(consumerCtx); err != nil {
			logger.WithError(err).Error("Order ingestion consumer stopped")
		}
	}()

	router := mux.NewRouter()
	handler.Register(router)
	router.HandleFunc("/ws", feed.HandleWebSocket)
	router.Use(loggingMiddleware(logger))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting AWB service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	stopConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Info("Request received")

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
