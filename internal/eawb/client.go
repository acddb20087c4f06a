package eawb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/storekit/eawb-service/pkg/models"
)

const (
	actionCalculatePrices = "calculate_prices"
	actionCreateOrder     = "create_order"
	actionCancelOrder     = "cancel_order"
)

// DefaultServiceID is used when a selected quote carries no service id.
// The legacy dashboard hardcoded 1 here; it is configurable now but the
// default is pinned by a test.
const DefaultServiceID = 1

var (
	ErrNoQuoteSelected = errors.New("no carrier quote selected")
)

type Config struct {
	BaseURL          string
	DefaultServiceID int
	Timeout          time.Duration
}

// Client talks to the shipping-integration backend. All operations go to a
// single endpoint keyed by an action field in the JSON body.
type Client struct {
	baseURL          string
	defaultServiceID int
	httpClient       *http.Client
	breaker          *gobreaker.CircuitBreaker[[]byte]
	logger           *logrus.Logger
}

func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.DefaultServiceID == 0 {
		cfg.DefaultServiceID = DefaultServiceID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "eawb-delivery",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Shipping backend circuit breaker state changed")
		},
	})

	return &Client{
		baseURL:          cfg.BaseURL,
		defaultServiceID: cfg.DefaultServiceID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: breaker,
		logger:  logger,
	}
}

type quoteRequest struct {
	Action         string                `json:"action"`
	OrderID        string                `json:"order_id"`
	PackageDetails models.PackageDetails `json:"package_details"`
}

type quoteResponse struct {
	Success        bool                  `json:"success"`
	CarrierOptions []models.CarrierQuote `json:"carrier_options"`
}

// GetQuotes asks the shipping backend to price a package across all
// configured carriers. An empty result is a valid outcome meaning no carrier
// can serve the request; it is not an error.
func (c *Client) GetQuotes(ctx context.Context, orderID string, pkg models.PackageDetails) ([]models.CarrierQuote, error) {
	if err := pkg.Validate(); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"parcels":  pkg.Parcels,
		"weight":   pkg.Weight,
	}).Info("Requesting carrier quotes")

	body, err := c.post(ctx, actionCalculatePrices, quoteRequest{
		Action:         actionCalculatePrices,
		OrderID:        orderID,
		PackageDetails: pkg,
	})
	if err != nil {
		return nil, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"options":  len(resp.CarrierOptions),
	}).Info("Received carrier quotes")

	return resp.CarrierOptions, nil
}

type createRequest struct {
	Action          string                `json:"action"`
	OrderID         string                `json:"order_id"`
	PackageDetails  models.PackageDetails `json:"package_details"`
	SelectedCarrier models.FlexID         `json:"selected_carrier"`
	SelectedService int                   `json:"selected_service"`
	IdempotencyKey  string                `json:"idempotency_key"`
}

type createResponse struct {
	Success bool `json:"success"`
	models.AWBResult
}

// CreateAWB commits the selected quote into a shipping order at the carrier.
// The idempotency key is derived from the order id and package details, so a
// retried commit for the same shipment cannot mint a second AWB.
func (c *Client) CreateAWB(ctx context.Context, orderID string, pkg models.PackageDetails, quote *models.CarrierQuote) (*models.AWBResult, error) {
	if quote == nil {
		return nil, ErrNoQuoteSelected
	}

	serviceID := quote.ServiceID
	if serviceID == 0 {
		serviceID = c.defaultServiceID
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":   orderID,
		"carrier_id": quote.CarrierID.String(),
		"service_id": serviceID,
	}).Info("Creating shipping order")

	body, err := c.post(ctx, actionCreateOrder, createRequest{
		Action:          actionCreateOrder,
		OrderID:         orderID,
		PackageDetails:  pkg,
		SelectedCarrier: quote.CarrierID,
		SelectedService: serviceID,
		IdempotencyKey:  commitIdempotencyKey(orderID, pkg),
	})
	if err != nil {
		return nil, err
	}

	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode create response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":   orderID,
		"awb_number": resp.AWBNumber,
		"carrier":    resp.CarrierName,
	}).Info("Shipping order created")

	result := resp.AWBResult
	return &result, nil
}

type cancelRequest struct {
	Action  string `json:"action"`
	OrderID string `json:"orderId"`
}

// CancelAWB requests cancellation of the order's shipping order at the
// carrier. Preconditions (an AWB exists, shipment not delivered or already
// cancelled) are validated by the caller before any network call.
func (c *Client) CancelAWB(ctx context.Context, orderID string) error {
	c.logger.WithField("order_id", orderID).Info("Cancelling shipping order")

	_, err := c.post(ctx, actionCancelOrder, cancelRequest{
		Action:  actionCancelOrder,
		OrderID: orderID,
	})
	if err != nil {
		return err
	}

	c.logger.WithField("order_id", orderID).Info("Shipping order cancelled")
	return nil
}

// post sends one action-keyed request through the circuit breaker and returns
// the raw success body. Failure bodies are flattened into a ProviderError.
func (c *Client) post(ctx context.Context, action string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s request: %w", action, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to reach shipping backend: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s response: %w", action, err)
		}

		var probe struct {
			Success bool `json:"success"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			return nil, fmt.Errorf("shipping backend returned status %d with unreadable body", resp.StatusCode)
		}

		if !probe.Success {
			perr := parseProviderError(action, body)
			c.logger.WithFields(logrus.Fields{
				"action":  action,
				"status":  resp.StatusCode,
				"message": perr.Error(),
			}).Error("Shipping backend returned an error")
			return nil, perr
		}

		return body, nil
	})
}

// commitIdempotencyKey derives a stable key from the order and the exact
// package being shipped, so the backend can dedupe a retried commit.
func commitIdempotencyKey(orderID string, pkg models.PackageDetails) string {
	payload, _ := json.Marshal(pkg)
	return uuid.NewSHA1(uuid.NameSpaceOID, append([]byte(orderID+"|"), payload...)).String()
}
