package domain

import (
	"time"

	"github.com/noah-isme/toko-marketplace/internal/money"
)

// Snapshot holds the batched lookups pricing needs for one cart or order.
// It is loaded once per mutation so eligibility checks stay pure.
type Snapshot struct {
	Stores     map[string]Store
	Products   map[string]Product
	SaleCounts map[string]int
	BulkPrices map[BulkKey]money.Money
	Customer   CustomerActivity
	Now        time.Time
}

// Store returns the store for id, reporting whether it was loaded.
func (s Snapshot) Store(id string) (Store, bool) {
	st, ok := s.Stores[id]
	return st, ok
}

// Product returns the product for id, reporting whether it was loaded.
func (s Snapshot) Product(id string) (Product, bool) {
	p, ok := s.Products[id]
	return p, ok
}

// SaleCount returns the number of active sale price-list entries for a variant.
func (s Snapshot) SaleCount(variantID string) int {
	return s.SaleCounts[variantID]
}

// BulkPrice returns the bulk shipping override for a product and shipping option.
func (s Snapshot) BulkPrice(productID, optionID string) (money.Money, bool) {
	v, ok := s.BulkPrices[BulkKey{ProductID: productID, ShippingOptionID: optionID}]
	return v, ok
}
