package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/storekit/eawb-service/pkg/models"
)

const (
	AWBCreatedTopic     = "shipping.awb.created"
	AWBCancelledTopic   = "shipping.awb.cancelled"
	PaymentUpdatedTopic = "payment.status.updated"
)

type AWBCreatedEvent struct {
	OrderID               string    `json:"order_id"`
	AWBNumber             string    `json:"awb_number"`
	CarrierName           string    `json:"carrier_name"`
	TrackingURL           string    `json:"tracking_url"`
	EstimatedDeliveryDate string    `json:"estimated_delivery_date"`
	EventTime             time.Time `json:"event_time"`
}

type AWBCancelledEvent struct {
	OrderID   string    `json:"order_id"`
	AWBNumber string    `json:"awb_number"`
	EventTime time.Time `json:"event_time"`
}

type PaymentUpdatedEvent struct {
	OrderID       string               `json:"order_id"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Manual        bool                 `json:"manual"`
	EventTime     time.Time            `json:"event_time"`
}

// ShippingProducer publishes shipping and payment mutations for downstream
// consumers (notifications, analytics, the live feed).
type ShippingProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewShippingProducer(brokers string, logger *logrus.Logger) (*ShippingProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
	if err != nil {
		return nil, err
	}

	return &ShippingProducer{
		producer: producer,
		logger:   logger,
	}, nil
}

func (p *ShippingProducer) PublishAWBCreated(event AWBCreatedEvent) error {
	event.EventTime = time.Now()
	return p.publish(AWBCreatedTopic, event.OrderID, event)
}

func (p *ShippingProducer) PublishAWBCancelled(event AWBCancelledEvent) error {
	event.EventTime = time.Now()
	return p.publish(AWBCancelledTopic, event.OrderID, event)
}

func (p *ShippingProducer) PublishPaymentUpdated(event PaymentUpdatedEvent) error {
	event.EventTime = time.Now()
	return p.publish(PaymentUpdatedTopic, event.OrderID, event)
}

func (p *ShippingProducer) publish(topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to publish event")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"order_id":  key,
	}).Info("Event published")

	return nil
}

func (p *ShippingProducer) Close() error {
	return p.producer.Close()
}
