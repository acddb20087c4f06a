package syncer

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/storekit/eawb-service/internal/store"
	"github.com/storekit/eawb-service/pkg/models"
)

var (
	ErrNoAWB               = errors.New("order has no shipping order to cancel")
	ErrNotCancellable      = errors.New("shipment can no longer be cancelled")
	ErrNoProviderPaymentID = errors.New("latest payment transaction has no provider payment id")
)

// Store is the slice of the order store the synchronizer needs.
type Store interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context) ([]*models.Order, error)
	UpdateShipping(ctx context.Context, id string, update store.ShippingUpdate) error
	UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error
	LatestPaymentTransaction(ctx context.Context, orderID string) (*models.PaymentTransaction, error)
}

// ShippingBackend is the cancellation side of the shipping integration.
type ShippingBackend interface {
	CancelAWB(ctx context.Context, orderID string) error
}

// PaymentBackend reconciles payment state with the provider.
type PaymentBackend interface {
	PaymentStatus(ctx context.Context, paymentID, userID string) (models.PaymentStatus, error)
	ManualUpdate(ctx context.Context, orderID, userID string) error
}

// Synchronizer reconciles the three independent mutation paths (AWB commit,
// AWB cancel, payment refresh) against the order the operator currently has
// open and the authoritative store. Each mutation merges only the fields it
// owns, and a result for an order that is no longer displayed is dropped.
type Synchronizer struct {
	store    Store
	shipping ShippingBackend
	payments PaymentBackend
	logger   *logrus.Logger

	mu        sync.Mutex
	displayed *models.Order
	list      []*models.Order
	listStale bool
}

func New(st Store, shipping ShippingBackend, payments PaymentBackend, logger *logrus.Logger) *Synchronizer {
	return &Synchronizer{
		store:     st,
		shipping:  shipping,
		payments:  payments,
		logger:    logger,
		listStale: true,
	}
}

// SetDisplayed records which order the operator has open. A nil order means
// no detail view is open.
func (s *Synchronizer) SetDisplayed(order *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order == nil {
		s.displayed = nil
		return
	}
	copied := *order
	s.displayed = &copied
}

// Displayed returns a copy of the currently displayed order, or nil.
func (s *Synchronizer) Displayed() *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.displayed == nil {
		return nil
	}
	copied := *s.displayed
	return &copied
}

// ApplyAWBResult persists a successful commit and merges the shipping fields
// into the displayed order. Shipping status moves to processing.
func (s *Synchronizer) ApplyAWBResult(ctx context.Context, orderID string, result *models.AWBResult) error {
	update := store.ShippingUpdate{
		Status:                models.ShippingProcessing,
		AWBNumber:             result.AWBNumber,
		CarrierName:           result.CarrierName,
		TrackingURL:           result.TrackingURL,
		EstimatedDeliveryDate: result.EstimatedDeliveryDate,
	}
	if err := s.store.UpdateShipping(ctx, orderID, update); err != nil {
		return err
	}

	s.mergeShipping(orderID, func(o *models.Order) {
		o.ShippingStatus = models.ShippingProcessing
		o.AWBNumber = result.AWBNumber
		o.CarrierName = result.CarrierName
		o.TrackingURL = result.TrackingURL
		o.EstimatedDeliveryDate = result.EstimatedDeliveryDate
	})

	s.invalidateList(ctx)
	return nil
}

// CancelShipment validates the cancellation preconditions locally, requests
// cancellation at the carrier, then moves the shipping status to cancelled.
// The AWB number stays on the order so tracking remains available.
func (s *Synchronizer) CancelShipment(ctx context.Context, orderID string) error {
	order, err := s.lookup(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.HasAWB() {
		return ErrNoAWB
	}
	if !order.ShippingStatus.CancellationAllowed() {
		return ErrNotCancellable
	}

	if err := s.shipping.CancelAWB(ctx, orderID); err != nil {
		return err
	}

	if err := s.store.UpdateShipping(ctx, orderID, store.ShippingUpdate{Status: models.ShippingCancelled}); err != nil {
		return err
	}

	s.mergeShipping(orderID, func(o *models.Order) {
		o.ShippingStatus = models.ShippingCancelled
	})

	s.invalidateList(ctx)
	return nil
}

// RefreshPayment looks up the most recent payment transaction for the order,
// asks the provider for its current status and merges it into payment_status.
// A missing transaction and a transaction without a provider payment id are
// distinct failures so the caller can render them differently.
func (s *Synchronizer) RefreshPayment(ctx context.Context, orderID, userID string) (models.PaymentStatus, error) {
	tx, err := s.store.LatestPaymentTransaction(ctx, orderID)
	if err != nil {
		return "", err
	}
	if tx.ProviderPaymentID == "" {
		return "", ErrNoProviderPaymentID
	}

	status, err := s.payments.PaymentStatus(ctx, tx.ProviderPaymentID, userID)
	if err != nil {
		return "", err
	}

	if err := s.store.UpdatePaymentStatus(ctx, orderID, status); err != nil {
		return "", err
	}

	s.mergePayment(orderID, status)
	s.invalidateList(ctx)
	return status, nil
}

// CompletePaymentManually force-sets the payment status to paid through the
// payment backend's manual override. Operator-only; never a provider-verified
// confirmation.
func (s *Synchronizer) CompletePaymentManually(ctx context.Context, orderID, userID string) error {
	if err := s.payments.ManualUpdate(ctx, orderID, userID); err != nil {
		return err
	}

	if err := s.store.UpdatePaymentStatus(ctx, orderID, models.PaymentPaid); err != nil {
		return err
	}

	s.mergePayment(orderID, models.PaymentPaid)
	s.invalidateList(ctx)
	return nil
}

// Order loads one order for the detail view and marks it as the displayed
// one, scoping the stale-response guard to it.
func (s *Synchronizer) Order(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.SetDisplayed(order)
	return order, nil
}

// Orders serves the order list, refetching from the store when a mutation has
// invalidated the cached copy.
func (s *Synchronizer) Orders(ctx context.Context) ([]*models.Order, error) {
	s.mu.Lock()
	stale := s.listStale
	cached := s.list
	s.mu.Unlock()

	if !stale && cached != nil {
		return cached, nil
	}

	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.list = orders
	s.listStale = false
	s.mu.Unlock()
	return orders, nil
}

func (s *Synchronizer) lookup(ctx context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	if s.displayed != nil && s.displayed.ID == orderID {
		copied := *s.displayed
		s.mu.Unlock()
		return &copied, nil
	}
	s.mu.Unlock()
	return s.store.GetOrder(ctx, orderID)
}

// mergeShipping applies shipping-only fields to the displayed order, guarded
// by an explicit id match. A mismatch is a benign race (the operator moved to
// another order while the call was in flight), logged at debug and dropped.
func (s *Synchronizer) mergeShipping(orderID string, apply func(*models.Order)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.displayed == nil || s.displayed.ID != orderID {
		s.logger.WithField("order_id", orderID).Debug("Dropping stale shipping update for non-displayed order")
		return
	}
	apply(s.displayed)
}

func (s *Synchronizer) mergePayment(orderID string, status models.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.displayed == nil || s.displayed.ID != orderID {
		s.logger.WithField("order_id", orderID).Debug("Dropping stale payment update for non-displayed order")
		return
	}
	s.displayed.PaymentStatus = status
}

// invalidateList marks the cached list stale and refetches eagerly so list
// views converge. A refetch failure must not roll back the already-applied
// in-memory update, so it is only logged.
func (s *Synchronizer) invalidateList(ctx context.Context) {
	s.mu.Lock()
	s.listStale = true
	s.mu.Unlock()

	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to refetch order list after mutation")
		return
	}

	s.mu.Lock()
	s.list = orders
	s.listStale = false
	s.mu.Unlock()
}
