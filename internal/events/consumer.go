package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const OrderCreatedTopic = "storefront.order.created"

// OrderCreatedEvent is published by the storefront when a customer places an
// order; the admin service ingests it into its own order store.
type OrderCreatedEvent struct {
	OrderID       string    `json:"order_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	TotalAmount   float64   `json:"total_amount"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
}

type OrderEventHandler interface {
	HandleOrderCreated(event OrderCreatedEvent) error
}

type ShippingEventHandler interface {
	HandleAWBCreated(event AWBCreatedEvent) error
	HandleAWBCancelled(event AWBCancelledEvent) error
	HandlePaymentUpdated(event PaymentUpdatedEvent) error
}

// Consumer wraps a sarama consumer group over the topics the given handlers
// care about. Either handler may be nil.
type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	handler       *groupHandler
	topics        []string
	logger        *logrus.Logger
}

type groupHandler struct {
	orders   OrderEventHandler
	shipping ShippingEventHandler
	logger   *logrus.Logger
}

func NewConsumer(brokers, groupID string, orders OrderEventHandler, shipping ShippingEventHandler, logger *logrus.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, config)
	if err != nil {
		return nil, err
	}

	var topics []string
	if orders != nil {
		topics = append(topics, OrderCreatedTopic)
	}
	if shipping != nil {
		topics = append(topics, AWBCreatedTopic, AWBCancelledTopic, PaymentUpdatedTopic)
	}

	return &Consumer{
		consumerGroup: consumerGroup,
		handler: &groupHandler{
			orders:   orders,
			shipping: shipping,
			logger:   logger,
		},
		topics: topics,
		logger: logger,
	}, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, c.handler); err != nil {
				c.logger.WithError(err).Error("Error consuming events")
				return err
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumerGroup.Close()
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Consumer group session setup")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Consumer group session cleanup")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			h.logger.WithFields(logrus.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
				"key":       string(message.Key),
			}).Info("Received event")

			if err := h.handleMessage(message); err != nil {
				h.logger.WithError(err).Error("Failed to handle event")
				// Keep consuming; a poison message must not stall the feed.
			} else {
				session.MarkMessage(message, "")
			}

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *groupHandler) handleMessage(message *sarama.ConsumerMessage) error {
	switch message.Topic {
	case OrderCreatedTopic:
		if h.orders == nil {
			return nil
		}
		var event OrderCreatedEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return err
		}
		return h.orders.HandleOrderCreated(event)

	case AWBCreatedTopic:
		if h.shipping == nil {
			return nil
		}
		var event AWBCreatedEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return err
		}
		return h.shipping.HandleAWBCreated(event)

	case AWBCancelledTopic:
		if h.shipping == nil {
			return nil
		}
		var event AWBCancelledEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return err
		}
		return h.shipping.HandleAWBCancelled(event)

	case PaymentUpdatedTopic:
		if h.shipping == nil {
			return nil
		}
		var event PaymentUpdatedEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return err
		}
		return h.shipping.HandlePaymentUpdated(event)

	default:
		h.logger.WithField("topic", message.Topic).Warn("Unknown topic received")
		return nil
	}
}
