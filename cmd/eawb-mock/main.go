package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/storekit/eawb-service/pkg/models"
)

// mockCarrier is one canned carrier+service combination the mock quotes.
type mockCarrier struct {
	carrierID   string
	carrierName string
	serviceID   int
	serviceName string
	baseRate    float64
	perKg       float64
	days        int
	cod         bool
}

var carriers = []mockCarrier{
	{carrierID: "1", carrierName: "Sameday", serviceID: 7, serviceName: "24H", baseRate: 14.00, perKg: 1.50, days: 1, cod: true},
	{carrierID: "2", carrierName: "Cargus", serviceID: 34, serviceName: "Economic Standard", baseRate: 12.50, perKg: 2.00, days: 2, cod: true},
	{carrierID: "3", carrierName: "FAN Courier", serviceID: 0, serviceName: "Standard", baseRate: 11.00, perKg: 1.80, days: 2, cod: false},
	{carrierID: "dpd", carrierName: "DPD", serviceID: 2, serviceName: "Classic", baseRate: 16.00, perKg: 1.20, days: 3, cod: true},
}

// awbStore remembers issued AWBs so cancel_order can reject unknown orders.
type awbStore struct {
	mu   sync.RWMutex
	awbs map[string]string // order id -> awb number
	keys map[string]string // idempotency key -> awb number
}

func newAWBStore() *awbStore {
	return &awbStore{
		awbs: make(map[string]string),
		keys: make(map[string]string),
	}
}

type backend struct {
	store  *awbStore
	logger *logrus.Logger
}

type actionRequest struct {
	Action          string                 `json:"action"`
	OrderID         string                 `json:"order_id"`
	OrderIDAlt      string                 `json:"orderId"`
	PackageDetails  *models.PackageDetails `json:"package_details"`
	SelectedCarrier models.FlexID          `json:"selected_carrier"`
	SelectedService int                    `json:"selected_service"`
	IdempotencyKey  string                 `json:"idempotency_key"`
}

func (b *backend) handle(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "Invalid request body",
		})
		return
	}

	// Simulate carrier aggregator latency.
	time.Sleep(time.Duration(rand.Intn(400)+100) * time.Millisecond)

	switch req.Action {
	case "calculate_prices":
		b.calculatePrices(w, req)
	case "create_order":
		b.createOrder(w, req)
	case "cancel_order":
		b.cancelOrder(w, req)
	default:
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   fmt.Sprintf("Unknown action: %s", req.Action),
		})
	}
}

func (b *backend) calculatePrices(w http.ResponseWriter, req actionRequest) {
	if req.PackageDetails == nil || strings.TrimSpace(req.PackageDetails.Contents) == "" {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   "Validation failed",
			"api_response": map[string]interface{}{
				"errors": []map[string]string{
					{"message": "Package contents are required"},
				},
			},
		})
		return
	}

	pkg := *req.PackageDetails

	// Contents containing "remote" simulate an address no carrier serves.
	if strings.Contains(strings.ToLower(pkg.Contents), "remote") {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success":         true,
			"carrier_options": []models.CarrierQuote{},
		})
		return
	}

	options := make([]models.CarrierQuote, 0, len(carriers))
	for _, c := range carriers {
		if pkg.CODAmount != nil && *pkg.CODAmount > 0 && !c.cod {
			continue
		}
		amount := c.baseRate + c.perKg*pkg.Weight*float64(pkg.Parcels)
		amount = float64(int(amount*100)) / 100
		vat := float64(int(amount*19)) / 100
		pickup := time.Now().AddDate(0, 0, 1)
		delivery := pickup.AddDate(0, 0, c.days)

		options = append(options, models.CarrierQuote{
			CarrierID:             models.FlexID(c.carrierID),
			CarrierName:           c.carrierName,
			ServiceID:             c.serviceID,
			ServiceName:           c.serviceName,
			Price:                 models.QuotePrice{Amount: amount, VAT: vat, Total: amount + vat, Currency: "RON"},
			DeliveryTime:          fmt.Sprintf("%d days", c.days),
			CODAvailable:          c.cod,
			EstimatedPickupDate:   pickup.Format("2006-01-02"),
			EstimatedDeliveryDate: delivery.Format("2006-01-02"),
		})
	}

	b.logger.WithFields(logrus.Fields{
		"order_id": req.OrderID,
		"options":  len(options),
	}).Info("Quoted package")

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"carrier_options": options,
	})
}

func (b *backend) createOrder(w http.ResponseWriter, req actionRequest) {
	if req.PackageDetails == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   "Validation failed",
			"api_response": map[string]interface{}{
				"errors": []map[string]string{
					{"message": "Package details are required"},
				},
			},
		})
		return
	}

	// Contents containing "badzip" simulate a carrier-side address rejection.
	if strings.Contains(strings.ToLower(req.PackageDetails.Contents), "badzip") {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   "Validation failed",
			"api_response": map[string]interface{}{
				"errors": []map[string]string{
					{"message": "Invalid postal code"},
				},
			},
		})
		return
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	// Replay of the same commit returns the AWB already issued for its key.
	awb, replay := b.store.keys[req.IdempotencyKey]
	if !replay || req.IdempotencyKey == "" {
		awb = fmt.Sprintf("AWB%09d", rand.Intn(1_000_000_000))
		if req.IdempotencyKey != "" {
			b.store.keys[req.IdempotencyKey] = awb
		}
	}
	b.store.awbs[req.OrderID] = awb

	carrierName := carrierNameFor(req.SelectedCarrier.String())

	b.logger.WithFields(logrus.Fields{
		"order_id":   req.OrderID,
		"awb_number": awb,
		"carrier":    carrierName,
		"replay":     replay,
	}).Info("Shipping order created")

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":                 true,
		"awb_number":              awb,
		"carrier_name":            carrierName,
		"tracking_url":            fmt.Sprintf("https://track.example.com/%s", awb),
		"estimated_delivery_date": time.Now().AddDate(0, 0, 2).Format("2006-01-02"),
	})
}

func (b *backend) cancelOrder(w http.ResponseWriter, req actionRequest) {
	orderID := req.OrderIDAlt
	if orderID == "" {
		orderID = req.OrderID
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	if _, ok := b.store.awbs[orderID]; !ok {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   fmt.Sprintf("No shipping order found for %s", orderID),
		})
		return
	}

	b.logger.WithField("order_id", orderID).Info("Shipping order cancelled")

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

func carrierNameFor(carrierID string) string {
	for _, c := range carriers {
		if c.carrierID == carrierID {
			return c.carrierName
		}
	}
	return "Unknown Carrier"
}

func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	port := getEnv("EAWB_MOCK_PORT", "8082")

	b := &backend{
		store:  newAWBStore(),
		logger: logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/eawb-delivery", b.handle).Methods("POST")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "eawb-mock",
		})
	}).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting eAWB mock backend")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
