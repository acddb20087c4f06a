package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/storekit/eawb-service/internal/eawb"
	"github.com/storekit/eawb-service/internal/events"
	"github.com/storekit/eawb-service/internal/store"
	"github.com/storekit/eawb-service/internal/syncer"
	"github.com/storekit/eawb-service/internal/workflow"
	"github.com/storekit/eawb-service/pkg/models"
)

// LiveFeed publishes order mutations to connected dashboard clients.
type LiveFeed interface {
	BroadcastOrderUpdate(event, orderID string, data interface{})
}

type Handler struct {
	sessions *workflow.Registry
	sync     *syncer.Synchronizer
	producer *events.ShippingProducer
	logger   *logrus.Logger
	feed     LiveFeed
}

func NewHandler(sessions *workflow.Registry, sync *syncer.Synchronizer, producer *events.ShippingProducer, logger *logrus.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		sync:     sync,
		producer: producer,
		logger:   logger,
	}
}

func (h *Handler) SetLiveFeed(feed LiveFeed) {
	h.feed = feed
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/orders", h.ListOrders).Methods("GET")
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}/shipping/quotes", h.FetchQuotes).Methods("POST")
	router.HandleFunc("/orders/{id}/shipping/awb", h.CreateAWB).Methods("POST")
	router.HandleFunc("/orders/{id}/shipping/awb", h.CancelAWB).Methods("DELETE")
	router.HandleFunc("/orders/{id}/shipping/session", h.CloseSession).Methods("DELETE")
	router.HandleFunc("/orders/{id}/payment/refresh", h.RefreshPayment).Methods("POST")
	router.HandleFunc("/orders/{id}/payment/complete", h.CompletePayment).Methods("POST")
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "awb-service",
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.sync.Orders(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list orders")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orders":  orders,
		"count":   len(orders),
	})
}

// GetOrder serves the detail view and marks the order as the one the
// operator has open, which scopes the stale-response guard.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := h.sync.Order(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			h.respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.WithError(err).Error("Failed to get order")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get order")
		return
	}

	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) FetchQuotes(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var pkg models.PackageDetails
	if err := json.NewDecoder(r.Body).Decode(&pkg); err != nil {
		h.logger.WithError(err).Error("Failed to decode package details")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctrl := h.sessions.Session(orderID)
	quotes, err := ctrl.FetchQuotes(r.Context(), pkg)
	if err != nil {
		h.respondWorkflowError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"step":            ctrl.Step(),
		"carrier_options": quotes,
	})
}

type createAWBRequest struct {
	Selected int `json:"selected"`
}

func (h *Handler) CreateAWB(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req createAWBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode AWB request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctrl := h.sessions.Session(orderID)
	if err := ctrl.SelectQuote(req.Selected); err != nil {
		h.respondWorkflowError(w, err)
		return
	}

	result, err := ctrl.CreateAWB(r.Context())
	if err != nil {
		h.respondWorkflowError(w, err)
		return
	}
	h.sessions.Drop(orderID)

	if h.producer != nil {
		event := events.AWBCreatedEvent{
			OrderID:               orderID,
			AWBNumber:             result.AWBNumber,
			CarrierName:           result.CarrierName,
			TrackingURL:           result.TrackingURL,
			EstimatedDeliveryDate: result.EstimatedDeliveryDate,
		}
		if err := h.producer.PublishAWBCreated(event); err != nil {
			h.logger.WithError(err).Error("Failed to publish AWB created event")
			// The AWB exists and the order is updated; don't fail the request.
		}
	}

	if h.feed != nil {
		h.feed.BroadcastOrderUpdate("awb_created", orderID, result)
	}

	h.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success":                 true,
		"awb_number":              result.AWBNumber,
		"carrier_name":            result.CarrierName,
		"tracking_url":            result.TrackingURL,
		"estimated_delivery_date": result.EstimatedDeliveryDate,
	})
}

func (h *Handler) CancelAWB(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := h.sync.Order(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			h.respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.WithError(err).Error("Failed to load order for cancellation")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to load order")
		return
	}

	if err := h.sync.CancelShipment(r.Context(), orderID); err != nil {
		h.respondWorkflowError(w, err)
		return
	}

	if h.producer != nil {
		event := events.AWBCancelledEvent{
			OrderID:   orderID,
			AWBNumber: order.AWBNumber,
		}
		if err := h.producer.PublishAWBCancelled(event); err != nil {
			h.logger.WithError(err).Error("Failed to publish AWB cancelled event")
		}
	}

	if h.feed != nil {
		h.feed.BroadcastOrderUpdate("awb_cancelled", orderID, nil)
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// CloseSession abandons the order's AWB-creation wizard. Refused while a
// quote or commit call is still in flight.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	ctrl := h.sessions.Session(orderID)
	if err := ctrl.Close(); err != nil {
		h.respondWorkflowError(w, err)
		return
	}
	h.sessions.Drop(orderID)

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

type paymentRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) RefreshPayment(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode payment refresh request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status, err := h.sync.RefreshPayment(r.Context(), orderID, req.UserID)
	if err != nil {
		h.respondWorkflowError(w, err)
		return
	}

	h.publishPaymentUpdate(orderID, status, false)

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"payment_status": status,
	})
}

func (h *Handler) CompletePayment(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode manual payment request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.sync.CompletePaymentManually(r.Context(), orderID, req.UserID); err != nil {
		h.respondWorkflowError(w, err)
		return
	}

	h.publishPaymentUpdate(orderID, models.PaymentPaid, true)

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"payment_status": models.PaymentPaid,
		"manual":         true,
	})
}

func (h *Handler) publishPaymentUpdate(orderID string, status models.PaymentStatus, manual bool) {
	if h.producer != nil {
		event := events.PaymentUpdatedEvent{
			OrderID:       orderID,
			PaymentStatus: status,
			Manual:        manual,
		}
		if err := h.producer.PublishPaymentUpdated(event); err != nil {
			h.logger.WithError(err).Error("Failed to publish payment updated event")
		}
	}

	if h.feed != nil {
		h.feed.BroadcastOrderUpdate("payment_updated", orderID, map[string]interface{}{
			"payment_status": status,
			"manual":         manual,
		})
	}
}

// respondWorkflowError maps the error taxonomy onto status codes: local
// validation failures are the caller's problem, provider failures are
// upstream's, everything else is ours.
func (h *Handler) respondWorkflowError(w http.ResponseWriter, err error) {
	var perr *eawb.ProviderError

	switch {
	case errors.Is(err, models.ErrEmptyContents),
		errors.Is(err, workflow.ErrNoQuoteSelected),
		errors.Is(err, eawb.ErrNoQuoteSelected),
		errors.Is(err, syncer.ErrNoAWB),
		errors.Is(err, syncer.ErrNotCancellable),
		errors.Is(err, workflow.ErrWrongStep),
		errors.Is(err, store.ErrNoTransaction),
		errors.Is(err, syncer.ErrNoProviderPaymentID):
		h.respondWithError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, workflow.ErrOperationInFlight):
		h.respondWithError(w, http.StatusConflict, err.Error())

	case errors.As(err, &perr):
		h.respondWithError(w, http.StatusBadGateway, perr.Error())

	default:
		h.logger.WithError(err).Error("Workflow operation failed")
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
