package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PackageDetails describes the shipment the operator is about to create.
// It lives only for the duration of one AWB-creation attempt and is never
// persisted on its own.
type PackageDetails struct {
	Weight        float64  `json:"weight"`
	Parcels       int      `json:"parcels"`
	Length        int      `json:"length"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	Contents      string   `json:"contents"`
	DeclaredValue float64  `json:"declared_value"`
	CODAmount     *float64 `json:"cod_amount,omitempty"`
}

var ErrEmptyContents = errors.New("package contents must not be empty")

// Validate checks the fields carriers reject server-side, so the workflow can
// fail fast without a network round trip.
func (p PackageDetails) Validate() error {
	if strings.TrimSpace(p.Contents) == "" {
		return ErrEmptyContents
	}
	if p.Weight <= 0 {
		return fmt.Errorf("weight must be positive, got %v", p.Weight)
	}
	if p.Parcels <= 0 {
		return fmt.Errorf("parcels must be positive, got %d", p.Parcels)
	}
	if p.Length <= 0 || p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("dimensions must be positive, got %dx%dx%d", p.Length, p.Width, p.Height)
	}
	if p.DeclaredValue < 0 {
		return fmt.Errorf("declared value must not be negative, got %v", p.DeclaredValue)
	}
	if p.CODAmount != nil && *p.CODAmount < 0 {
		return fmt.Errorf("cod amount must not be negative, got %v", *p.CODAmount)
	}
	return nil
}

// FlexID is an identifier the shipping backend returns either as a JSON
// number or as a string, depending on the carrier.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("carrier id is neither string nor number: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(f), 10, 64); err == nil {
		return []byte(f), nil
	}
	return json.Marshal(string(f))
}

func (f FlexID) String() string {
	return string(f)
}

type QuotePrice struct {
	Amount   float64 `json:"amount"`
	VAT      float64 `json:"vat"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

// CarrierQuote is one priced shipping option for a package. Quotes are held
// in a transient list between the pricing call and the commit; the backend
// gives no uniqueness guarantee beyond position in that list.
type CarrierQuote struct {
	CarrierID             FlexID     `json:"carrier_id"`
	CarrierName           string     `json:"carrier_name"`
	ServiceID             int        `json:"service_id"`
	ServiceName           string     `json:"service_name"`
	Price                 QuotePrice `json:"price"`
	DeliveryTime          string     `json:"delivery_time"`
	CODAvailable          bool       `json:"cod_available"`
	EstimatedPickupDate   string     `json:"estimated_pickup_date"`
	EstimatedDeliveryDate string     `json:"estimated_delivery_date"`
}

// AWBResult is the carrier-assigned tracking data returned by a successful
// shipping-order commit.
type AWBResult struct {
	AWBNumber             string `json:"awb_number"`
	CarrierName           string `json:"carrier_name"`
	TrackingURL           string `json:"tracking_url"`
	EstimatedDeliveryDate string `json:"estimated_delivery_date"`
}
