package domain

import (
	"time"

	"github.com/noah-isme/toko-marketplace/internal/money"
)

// StoreTier selects the shipping allocation strategy of a store.
type StoreTier string

const (
	StoreTierPrime    StoreTier = "PRIME"
	StoreTierStandard StoreTier = "STANDARD"
)

// Store is a vendor inside the marketplace.
type Store struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Tier               StoreTier   `json:"tier"`
	FreeShipAmount     money.Money `json:"free_ship_amount"`
	RegistrationNumber string      `json:"registration_number,omitempty"`
	GroupIDs           []string    `json:"group_ids,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

// HasRegistration reports whether the store registered a business number.
func (s Store) HasRegistration() bool {
	return s.RegistrationNumber != ""
}

// Product carries the attributes discount conditions are matched against.
type Product struct {
	ID           string   `json:"id"`
	StoreID      string   `json:"store_id"`
	TypeID       string   `json:"type_id,omitempty"`
	TypeLv1ID    string   `json:"type_lv1_id,omitempty"`
	TypeLv2ID    string   `json:"type_lv2_id,omitempty"`
	CollectionID string   `json:"collection_id,omitempty"`
	TagIDs       []string `json:"tag_ids,omitempty"`
}

// TypeIDs returns the non-empty type identifiers across the three type levels.
func (p Product) TypeIDs() []string {
	ids := make([]string, 0, 3)
	for _, id := range []string{p.TypeID, p.TypeLv1ID, p.TypeLv2ID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Variant is the purchasable unit of a product.
type Variant struct {
	ID        string      `json:"id"`
	ProductID string      `json:"product_id"`
	Title     string      `json:"title"`
	Price     money.Money `json:"price"`
}

// Addon is a priced sub-selection attached to a line item.
type Addon struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Price money.Money `json:"price"`
}

// ShippingOption is a selectable shipping service with a flat price.
type ShippingOption struct {
	ID      string      `json:"id"`
	StoreID string      `json:"store_id"`
	Name    string      `json:"name"`
	Price   money.Money `json:"price"`
}

// BulkKey identifies a bulk shipping override.
type BulkKey struct {
	ProductID        string
	ShippingOptionID string
}

// CustomerActivity summarises the lifecycle facts discount issuance timing depends on.
type CustomerActivity struct {
	CustomerID      string     `json:"customer_id"`
	Birthday        *time.Time `json:"birthday,omitempty"`
	GroupIDs        []string   `json:"group_ids,omitempty"`
	CompletedOrders int        `json:"completed_orders"`
	Reviews         int        `json:"reviews"`
	Favorites       int        `json:"favorites"`
	Follows         int        `json:"follows"`
}
