package eawb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/storekit/eawb-service/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func validPackage() models.PackageDetails {
	return models.PackageDetails{
		Weight:        1,
		Parcels:       1,
		Length:        30,
		Width:         20,
		Height:        10,
		Contents:      "Shoes",
		DeclaredValue: 150,
	}
}

func TestGetQuotesEmptyContentsSkipsNetwork(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())

	for _, contents := range []string{"", "   ", "\t\n"} {
		pkg := validPackage()
		pkg.Contents = contents

		_, err := client.GetQuotes(context.Background(), "order-1", pkg)
		if !errors.Is(err, models.ErrEmptyContents) {
			t.Errorf("contents %q: expected ErrEmptyContents, got %v", contents, err)
		}
	}

	if n := atomic.LoadInt64(&calls); n != 0 {
		t.Errorf("Expected no network calls, got %d", n)
	}
}

func TestGetQuotesEmptyOptionsIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":         true,
			"carrier_options": []models.CarrierQuote{},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())

	quotes, err := client.GetQuotes(context.Background(), "order-1", validPackage())
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if len(quotes) != 0 {
		t.Errorf("Expected zero quotes, got %d", len(quotes))
	}
}

func TestGetQuotesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"Validation failed","api_response":{"errors":[{"message":"Invalid postal code"}]}}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())

	_, err := client.GetQuotes(context.Background(), "order-1", validPackage())

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProviderError, got %T: %v", err, err)
	}
	if perr.Error() != "Validation failed: Invalid postal code" {
		t.Errorf("Unexpected message: %q", perr.Error())
	}
}

func TestCreateAWBRequiresSelection(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())

	_, err := client.CreateAWB(context.Background(), "order-1", validPackage(), nil)
	if !errors.Is(err, ErrNoQuoteSelected) {
		t.Fatalf("Expected ErrNoQuoteSelected, got %v", err)
	}
	if n := atomic.LoadInt64(&calls); n != 0 {
		t.Errorf("Expected no network calls, got %d", n)
	}
}

// Pins the legacy fallback: a quote with no service id commits with service 1.
func TestCreateAWBDefaultsMissingServiceID(t *testing.T) {
	var captured createRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":      true,
			"awb_number":   "AWB000000001",
			"carrier_name": "FAN Courier",
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())

	quote := &models.CarrierQuote{CarrierID: "3", CarrierName: "FAN Courier"}
	if _, err := client.CreateAWB(context.Background(), "order-1", validPackage(), quote); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}

	if captured.SelectedService != DefaultServiceID {
		t.Errorf("Expected default service id %d, got %d", DefaultServiceID, captured.SelectedService)
	}
	if captured.SelectedCarrier != "3" {
		t.Errorf("Expected carrier 3, got %q", captured.SelectedCarrier)
	}
	if captured.IdempotencyKey == "" {
		t.Error("Expected an idempotency key on the commit request")
	}
}

func TestCreateAWBConfiguredDefaultServiceID(t *testing.T) {
	var captured createRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "awb_number": "AWB000000002"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, DefaultServiceID: 99}, testLogger())

	quote := &models.CarrierQuote{CarrierID: "1"}
	if _, err := client.CreateAWB(context.Background(), "order-1", validPackage(), quote); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if captured.SelectedService != 99 {
		t.Errorf("Expected configured default 99, got %d", captured.SelectedService)
	}
}

func TestCreateAWBRollsProviderErrorThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"Commit failed","api_response":{"errors":["carrier timeout"]}}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())

	quote := &models.CarrierQuote{CarrierID: "1", ServiceID: 7}
	_, err := client.CreateAWB(context.Background(), "order-1", validPackage(), quote)

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProviderError, got %v", err)
	}
	if perr.Error() != "Commit failed: carrier timeout" {
		t.Errorf("Unexpected message: %q", perr.Error())
	}
}

// The cancel action addresses the order as orderId, unlike every other
// action; the field name is part of the backend contract.
func TestCancelAWBRequestShape(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, testLogger())

	if err := client.CancelAWB(context.Background(), "order-9"); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}

	if captured["action"] != "cancel_order" {
		t.Errorf("Expected action cancel_order, got %v", captured["action"])
	}
	if captured["orderId"] != "order-9" {
		t.Errorf("Expected orderId field, got %v", captured)
	}
}

func TestCommitIdempotencyKeyIsStable(t *testing.T) {
	pkg := validPackage()
	k1 := commitIdempotencyKey("order-1", pkg)
	k2 := commitIdempotencyKey("order-1", pkg)
	if k1 != k2 {
		t.Errorf("Expected stable key, got %q and %q", k1, k2)
	}

	pkg.Weight = 2
	if k3 := commitIdempotencyKey("order-1", pkg); k3 == k1 {
		t.Error("Expected different package details to change the key")
	}
	if k4 := commitIdempotencyKey("order-2", validPackage()); k4 == k1 {
		t.Error("Expected a different order to change the key")
	}
}
