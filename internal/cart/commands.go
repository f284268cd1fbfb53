package cart

import (
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
)

// AddLineItemInput adds a variant to a cart.
type AddLineItemInput struct {
	CartID         string           `validate:"required"`
	VariantID      string           `validate:"required"`
	Quantity       int              `validate:"required,min=1"`
	Addons         []domain.Addon   `validate:"omitempty,dive"`
	GiftCoverTotal money.Money      `validate:"min=0"`
	TaxLines       []domain.TaxLine `validate:"omitempty,dive"`
}

// UpdateLineItemInput changes the quantity of an item. Zero removes it.
type UpdateLineItemInput struct {
	CartID     string `validate:"required"`
	LineItemID string `validate:"required"`
	Quantity   int    `validate:"min=0"`
}

// RemoveLineItemInput removes an item from a cart.
type RemoveLineItemInput struct {
	CartID     string `validate:"required"`
	LineItemID string `validate:"required"`
}

// ApplyDiscountInput attaches a discount code to a cart.
type ApplyDiscountInput struct {
	CartID string `validate:"required"`
	Code   string `validate:"required,max=64"`
}

// RemoveDiscountInput detaches a discount from a cart.
type RemoveDiscountInput struct {
	CartID     string `validate:"required"`
	DiscountID string `validate:"required"`
}

// SetUsedPointInput sets the number of loyalty points spent on a cart. Zero clears it.
type SetUsedPointInput struct {
	CartID string `validate:"required"`
	Points int64  `validate:"min=0"`
}

// UpsertShippingMethodInput selects the shipping option of a line item.
type UpsertShippingMethodInput struct {
	CartID           string           `validate:"required"`
	LineItemID       string           `validate:"required"`
	ShippingOptionID string           `validate:"required"`
	TaxLines         []domain.TaxLine `validate:"omitempty,dive"`
}

// UpdatedPayload is the payload of cart.updated.
type UpdatedPayload struct {
	CartID    string      `json:"cart_id"`
	Operation string      `json:"operation"`
	Total     money.Money `json:"total"`
}
