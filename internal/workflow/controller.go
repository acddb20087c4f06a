package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/storekit/eawb-service/pkg/models"
)

// Step is the wizard position of one AWB-creation session.
type Step string

const (
	StepPackage  Step = "package"
	StepPricing  Step = "pricing"
	StepCreating Step = "creating"
)

var (
	ErrOperationInFlight = errors.New("an operation is in flight, wait for it to finish")
	ErrNoQuoteSelected   = errors.New("no carrier quote selected")
	ErrWrongStep         = errors.New("operation not allowed in the current step")
)

// ShippingBackend is the quote/commit side of the shipping integration.
type ShippingBackend interface {
	GetQuotes(ctx context.Context, orderID string, pkg models.PackageDetails) ([]models.CarrierQuote, error)
	CreateAWB(ctx context.Context, orderID string, pkg models.PackageDetails, quote *models.CarrierQuote) (*models.AWBResult, error)
}

// ResultSink receives the tracking data of a successful commit.
type ResultSink interface {
	ApplyAWBResult(ctx context.Context, orderID string, result *models.AWBResult) error
}

// Controller drives one AWB-creation session for one order through the
// package -> pricing -> creating wizard. Quote failures roll the session back
// to the package step, commit failures to the pricing step with the fetched
// quotes intact; only a successful commit closes the session.
type Controller struct {
	orderID  string
	shipping ShippingBackend
	sink     ResultSink
	logger   *logrus.Logger

	mu       sync.Mutex
	step     Step
	pkg      models.PackageDetails
	quotes   []models.CarrierQuote
	selected int
	loading  bool
}

func NewController(orderID string, shipping ShippingBackend, sink ResultSink, logger *logrus.Logger) *Controller {
	return &Controller{
		orderID:  orderID,
		shipping: shipping,
		sink:     sink,
		logger:   logger,
		step:     StepPackage,
		selected: -1,
	}
}

func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Quotes returns the options fetched in the last pricing call.
func (c *Controller) Quotes() []models.CarrierQuote {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quotes
}

// HasOptions distinguishes "no carrier could serve this package" from a hard
// failure once the session reached the pricing step.
func (c *Controller) HasOptions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.quotes) > 0
}

// Selected returns a copy of the chosen quote, or nil.
func (c *Controller) Selected() *models.CarrierQuote {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected < 0 || c.selected >= len(c.quotes) {
		return nil
	}
	quote := c.quotes[c.selected]
	return &quote
}

// FetchQuotes prices the package and advances to the pricing step. Zero
// options still advances; the no-options state is rendered inside pricing.
// On failure the session stays on the package step and nothing entered is
// lost.
func (c *Controller) FetchQuotes(ctx context.Context, pkg models.PackageDetails) ([]models.CarrierQuote, error) {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return nil, ErrOperationInFlight
	}
	c.loading = true
	c.mu.Unlock()

	quotes, err := c.shipping.GetQuotes(ctx, c.orderID, pkg)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false

	if err != nil {
		c.logger.WithError(err).WithField("order_id", c.orderID).Error("Quote fetch failed")
		return nil, err
	}

	c.pkg = pkg
	c.quotes = quotes
	c.selected = -1
	c.step = StepPricing

	c.logger.WithFields(logrus.Fields{
		"order_id": c.orderID,
		"options":  len(quotes),
	}).Info("Workflow advanced to pricing step")

	return quotes, nil
}

// SelectQuote picks an option by its position in the fetched list. Positions
// are the only identity quotes have; two identical-looking options are still
// distinct selections.
func (c *Controller) SelectQuote(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.step != StepPricing {
		return fmt.Errorf("%w: step is %s", ErrWrongStep, c.step)
	}
	if index < 0 || index >= len(c.quotes) {
		return fmt.Errorf("quote index %d out of range (have %d options)", index, len(c.quotes))
	}
	c.selected = index
	return nil
}

// CreateAWB commits the selected quote. On failure the session rolls back to
// the pricing step with the quote list untouched, so the operator can pick a
// different option without re-entering package details. On success the
// result is handed to the sink and the session resets.
func (c *Controller) CreateAWB(ctx context.Context) (*models.AWBResult, error) {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return nil, ErrOperationInFlight
	}
	if c.step != StepPricing {
		step := c.step
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: step is %s", ErrWrongStep, step)
	}
	if c.selected < 0 || c.selected >= len(c.quotes) {
		c.mu.Unlock()
		return nil, ErrNoQuoteSelected
	}
	quote := c.quotes[c.selected]
	pkg := c.pkg
	c.step = StepCreating
	c.loading = true
	c.mu.Unlock()

	result, err := c.shipping.CreateAWB(ctx, c.orderID, pkg, &quote)

	c.mu.Lock()
	c.loading = false
	if err != nil {
		// Roll back to pricing, never to package.
		c.step = StepPricing
		c.mu.Unlock()
		c.logger.WithError(err).WithField("order_id", c.orderID).Error("Shipping order creation failed")
		return nil, err
	}
	c.reset()
	c.mu.Unlock()

	if err := c.sink.ApplyAWBResult(ctx, c.orderID, result); err != nil {
		c.logger.WithError(err).WithField("order_id", c.orderID).Error("Failed to apply shipping result to order")
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":   c.orderID,
		"awb_number": result.AWBNumber,
	}).Info("Shipping order workflow completed")

	return result, nil
}

// Back returns from pricing to the package step, keeping the entered details.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.step != StepPricing {
		return fmt.Errorf("%w: step is %s", ErrWrongStep, c.step)
	}
	c.step = StepPackage
	return nil
}

// Close abandons the session and resets it. Closing is suppressed while an
// operation is in flight so a half-committed workflow cannot be silently
// dropped.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading {
		return ErrOperationInFlight
	}
	c.reset()
	return nil
}

// reset must be called with the lock held.
func (c *Controller) reset() {
	c.step = StepPackage
	c.pkg = models.PackageDetails{}
	c.quotes = nil
	c.selected = -1
}
