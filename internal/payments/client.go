package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/storekit/eawb-service/pkg/models"
)

const (
	actionPaymentStatus = "payment_status"
	actionManualUpdate  = "manual_update"
)

// Client talks to the payment-integration backend, which mirrors the shipping
// backend's action-keyed JSON protocol.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

type statusRequest struct {
	Action    string `json:"action"`
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
}

type manualRequest struct {
	Action  string `json:"action"`
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

type statusResponse struct {
	Success       bool                 `json:"success"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Error         string               `json:"error"`
	Message       string               `json:"message"`
}

// PaymentStatus fetches the provider's current status for a payment. The
// caller merges the returned status into the order; the backend does not
// touch the order record itself.
func (c *Client) PaymentStatus(ctx context.Context, paymentID, userID string) (models.PaymentStatus, error) {
	c.logger.WithField("payment_id", paymentID).Info("Refreshing payment status from provider")

	resp, err := c.post(ctx, statusRequest{
		Action:    actionPaymentStatus,
		PaymentID: paymentID,
		UserID:    userID,
	})
	if err != nil {
		return "", err
	}

	c.logger.WithFields(logrus.Fields{
		"payment_id": paymentID,
		"status":     resp.PaymentStatus,
	}).Info("Provider payment status received")

	return resp.PaymentStatus, nil
}

// ManualUpdate force-marks the order's payment as completed regardless of
// provider confirmation. Operator-only escape hatch, never a verified result.
func (c *Client) ManualUpdate(ctx context.Context, orderID, userID string) error {
	c.logger.WithField("order_id", orderID).Warn("Manually completing payment without provider confirmation")

	_, err := c.post(ctx, manualRequest{
		Action:  actionManualUpdate,
		OrderID: orderID,
		UserID:  userID,
	})
	return err
}

func (c *Client) post(ctx context.Context, payload interface{}) (*statusResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach payment backend: %w", err)
	}
	defer httpResp.Body.Close()

	var resp statusResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode payment response: %w", err)
	}

	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("payment backend returned status %d", httpResp.StatusCode)
		}
		return nil, fmt.Errorf("payment backend error: %s", msg)
	}

	return &resp, nil
}
