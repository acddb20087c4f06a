package models

import (
	"time"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentInvoiced PaymentStatus = "invoiced"
)

type ShippingStatus string

const (
	ShippingPending    ShippingStatus = "pending"
	ShippingProcessing ShippingStatus = "processing"
	ShippingShipped    ShippingStatus = "shipped"
	ShippingDelivered  ShippingStatus = "delivered"
	ShippingCancelled  ShippingStatus = "cancelled"
)

// CancellationAllowed reports whether a shipment in this status may still be
// cancelled at the carrier.
func (s ShippingStatus) CancellationAllowed() bool {
	return s != ShippingDelivered && s != ShippingCancelled
}

func (s ShippingStatus) String() string {
	return string(s)
}

type Order struct {
	ID                    string         `json:"id"`
	CustomerName          string         `json:"customer_name"`
	CustomerEmail         string         `json:"customer_email"`
	TotalAmount           float64        `json:"total_amount"`
	Currency              string         `json:"currency"`
	PaymentStatus         PaymentStatus  `json:"payment_status"`
	ShippingStatus        ShippingStatus `json:"shipping_status"`
	AWBNumber             string         `json:"awb_number,omitempty"`
	CarrierName           string         `json:"carrier_name,omitempty"`
	TrackingURL           string         `json:"tracking_url,omitempty"`
	EstimatedDeliveryDate string         `json:"estimated_delivery_date,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// HasAWB reports whether a shipping order has been created at the carrier.
// Cancellation intentionally does not clear the AWB number, so tracking
// affordances stay keyed off this and not off the shipping status.
func (o *Order) HasAWB() bool {
	return o.AWBNumber != ""
}

type PaymentTransaction struct {
	ID                string    `json:"id"`
	OrderID           string    `json:"order_id"`
	ProviderPaymentID string    `json:"provider_payment_id,omitempty"`
	Status            string    `json:"status"`
	Amount            float64   `json:"amount"`
	CreatedAt         time.Time `json:"created_at"`
}
