package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/storekit/eawb-service/internal/events"
)

// feedLogger tails the shipping event topics and logs every mutation, giving
// operators a terminal view of what the dashboard is doing.
type feedLogger struct {
	logger *logrus.Logger
}

func (f *feedLogger) HandleAWBCreated(event events.AWBCreatedEvent) error {
	f.logger.WithFields(logrus.Fields{
		"order_id":   event.OrderID,
		"awb_number": event.AWBNumber,
		"carrier":    event.CarrierName,
		"delivery":   event.EstimatedDeliveryDate,
	}).Info("AWB created")
	return nil
}

func (f *feedLogger) HandleAWBCancelled(event events.AWBCancelledEvent) error {
	f.logger.WithFields(logrus.Fields{
		"order_id":   event.OrderID,
		"awb_number": event.AWBNumber,
	}).Info("AWB cancelled")
	return nil
}

func (f *feedLogger) HandlePaymentUpdated(event events.PaymentUpdatedEvent) error {
	f.logger.WithFields(logrus.Fields{
		"order_id": event.OrderID,
		"status":   event.PaymentStatus,
		"manual":   event.Manual,
	}).Info("Payment status updated")
	return nil
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	kafkaBrokers := getEnv("KAFKA_BROKERS", "localhost:9092")
	groupID := getEnv("FEED_GROUP_ID", "shipping-feed")

	consumer, err := events.NewConsumer(kafkaBrokers, groupID, nil, &feedLogger{logger: logger}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down shipping feed...")
		cancel()
	}()

	logger.WithField("brokers", kafkaBrokers).Info("Shipping feed started")
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Consumer stopped with error")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
