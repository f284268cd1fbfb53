package domain

import (
	"time"

	"github.com/noah-isme/toko-marketplace/internal/money"
)

// OrderStatus tracks the placement lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPlaced    OrderStatus = "PLACED"
	OrderSettled   OrderStatus = "SETTLED"
	OrderCanceled  OrderStatus = "CANCELED"
	OrderAttention OrderStatus = "REQUIRES_ACTION"
)

// Order is the immutable snapshot of a completed cart. Child orders carry ParentID and StoreID.
type Order struct {
	ID              string           `json:"id"`
	ParentID        string           `json:"parent_id,omitempty"`
	CartID          string           `json:"cart_id,omitempty"`
	CustomerID      string           `json:"customer_id"`
	StoreID         string           `json:"store_id,omitempty"`
	DisplayID       int64            `json:"display_id"`
	Status          OrderStatus      `json:"status"`
	Items           []LineItem       `json:"items"`
	Discounts       []Discount       `json:"discounts,omitempty"`
	ShippingMethods []ShippingMethod `json:"shipping_methods,omitempty"`
	Payments        []Payment        `json:"payments,omitempty"`
	CouponTotal     money.Money      `json:"coupon_total"`
	PointUsed       int64            `json:"point_used"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	Totals
}

// PaymentStatus is the capture state of a payment record.
type PaymentStatus string

const (
	PaymentAuthorized PaymentStatus = "AUTHORIZED"
	PaymentCaptured   PaymentStatus = "CAPTURED"
	PaymentCanceled   PaymentStatus = "CANCELED"
)

// Payment is a provider payment attached to an order.
type Payment struct {
	ID              string         `json:"id"`
	OrderID         string         `json:"order_id"`
	ParentPaymentID string         `json:"parent_payment_id,omitempty"`
	Provider        string         `json:"provider"`
	Amount          money.Money    `json:"amount"`
	Status          PaymentStatus  `json:"status"`
	Data            map[string]any `json:"data,omitempty"`
	CapturedAt      *time.Time     `json:"captured_at,omitempty"`
}

// PointLedgerEntry is a signed movement on a customer's point balance.
type PointLedgerEntry struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	OrderID    string    `json:"order_id,omitempty"`
	Points     int64     `json:"points"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}
