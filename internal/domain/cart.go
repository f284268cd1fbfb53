// Package domain defines the flat data model shared by the pricing, cart and order packages.
package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-marketplace/internal/money"
)

// TaxLine is a tax rate applied to a line item or shipping method.
type TaxLine struct {
	Code string          `json:"code"`
	Name string          `json:"name"`
	Rate decimal.Decimal `json:"rate"`
}

// LineItem is one variant and quantity inside a cart or an order.
// Exactly one of CartID and OrderID is set.
type LineItem struct {
	ID               string      `json:"id"`
	CartID           string      `json:"cart_id,omitempty"`
	OrderID          string      `json:"order_id,omitempty"`
	VariantID        string      `json:"variant_id"`
	ProductID        string      `json:"product_id"`
	StoreID          string      `json:"store_id"`
	Title            string      `json:"title"`
	Quantity         int         `json:"quantity"`
	UnitPrice        money.Money `json:"unit_price"`
	Addons           []Addon     `json:"addons,omitempty"`
	GiftCoverTotal   money.Money `json:"gift_cover_total"`
	ShippingMethodID string      `json:"shipping_method_id,omitempty"`
	TaxLines         []TaxLine   `json:"tax_lines,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`

	AddonSubtotalPrice money.Money `json:"addon_subtotal_price"`
	TotalUnitPrice     money.Money `json:"total_unit_price"`
	Subtotal           money.Money `json:"subtotal"`
	ShippingTotal      money.Money `json:"shipping_total"`
	DiscountTotal      money.Money `json:"discount_total"`
	TaxTotal           money.Money `json:"tax_total"`
	OriginalTotal      money.Money `json:"original_total"`
	Total              money.Money `json:"total"`
}

// ShippingMethod is the shipping charge attached to a single line item.
type ShippingMethod struct {
	ID               string      `json:"id"`
	LineItemID       string      `json:"line_item_id"`
	ShippingOptionID string      `json:"shipping_option_id"`
	Price            money.Money `json:"price"`
	TaxLines         []TaxLine   `json:"tax_lines,omitempty"`

	Subtotal money.Money `json:"subtotal"`
	TaxTotal money.Money `json:"tax_total"`
	Total    money.Money `json:"total"`
}

// GiftCard is prepaid balance covering part of a cart.
type GiftCard struct {
	ID      string           `json:"id"`
	Code    string           `json:"code"`
	Balance money.Money      `json:"balance"`
	TaxRate *decimal.Decimal `json:"tax_rate,omitempty"`
}

// Totals is the computed money breakdown of a cart or order.
type Totals struct {
	Subtotal         money.Money `json:"subtotal"`
	AddonTotal       money.Money `json:"addon_total"`
	GiftCoverTotal   money.Money `json:"gift_cover_total"`
	ShippingTotal    money.Money `json:"shipping_total"`
	DiscountTotal    money.Money `json:"discount_total"`
	TaxTotal         money.Money `json:"tax_total"`
	GiftCardTotal    money.Money `json:"gift_card_total"`
	GiftCardTaxTotal money.Money `json:"gift_card_tax_total"`
	UsedPoint        int64       `json:"used_point"`
	PointTotal       money.Money `json:"point_total"`
	Total            money.Money `json:"total"`
}

// Cart is the mutable pre-checkout aggregate.
type Cart struct {
	ID              string           `json:"id"`
	CustomerID      string           `json:"customer_id,omitempty"`
	RegionID        string           `json:"region_id,omitempty"`
	Items           []LineItem       `json:"items"`
	Discounts       []Discount       `json:"discounts,omitempty"`
	ShippingMethods []ShippingMethod `json:"shipping_methods,omitempty"`
	GiftCards       []GiftCard       `json:"gift_cards,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Totals
}

// ShippingMethodFor returns the shipping method attached to the line item, if any.
func ShippingMethodFor(methods []ShippingMethod, item LineItem) (ShippingMethod, int, bool) {
	for i, m := range methods {
		if (item.ShippingMethodID != "" && m.ID == item.ShippingMethodID) || (m.LineItemID != "" && m.LineItemID == item.ID) {
			return m, i, true
		}
	}
	return ShippingMethod{}, -1, false
}
