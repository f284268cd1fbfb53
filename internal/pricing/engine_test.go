package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
)

func TestPriceLineItemAddonsEnterSubtotal(t *testing.T) {
	item := domain.LineItem{
		ID:             "li",
		Quantity:       2,
		UnitPrice:      1000,
		Addons:         []domain.Addon{{ID: "wrap", Price: 150}, {ID: "card", Price: 50}},
		GiftCoverTotal: 300,
		TaxLines:       []domain.TaxLine{{Code: "VAT", Rate: decimal.NewFromInt(10)}},
		ShippingTotal:  400,
		DiscountTotal:  200,
	}
	got := PriceLineItem(item, Options{})

	require.Equal(t, money.Money(200), got.AddonSubtotalPrice)
	require.Equal(t, money.Money(1200), got.TotalUnitPrice)
	require.Equal(t, money.Money(2400), got.Subtotal)
	require.Equal(t, money.Money(220), got.TaxTotal)
	require.Equal(t, money.Money(2400+400+300+220-200), got.Total)
	require.Equal(t, money.Money(2400+400+300+240), got.OriginalTotal)
}

func TestPriceLineItemIncludesTax(t *testing.T) {
	item := domain.LineItem{
		Quantity:  1,
		UnitPrice: 1100,
		TaxLines:  []domain.TaxLine{{Code: "VAT", Rate: decimal.NewFromInt(10)}},
	}
	got := PriceLineItem(item, Options{IncludesTax: true})

	require.Equal(t, money.Money(110), got.TaxTotal)
	require.Equal(t, money.Money(990), got.Subtotal)
	require.Equal(t, money.Money(1100), got.Total)
}

func TestLineItemInvariant(t *testing.T) {
	items := []domain.LineItem{
		{Quantity: 3, UnitPrice: 333, GiftCoverTotal: 10, ShippingTotal: 70, DiscountTotal: 99},
		{Quantity: 1, UnitPrice: 5, Addons: []domain.Addon{{Price: 7}}, TaxLines: []domain.TaxLine{{Rate: decimal.RequireFromString("7.5")}}},
	}
	for _, opts := range []Options{{}, {IncludesTax: true}} {
		for _, it := range items {
			got := PriceLineItem(it, opts)
			require.Equal(t, got.Subtotal+got.ShippingTotal+got.GiftCoverTotal+got.TaxTotal-got.DiscountTotal, got.Total)
		}
	}
}

func TestPriceShippingMethod(t *testing.T) {
	m := domain.ShippingMethod{Subtotal: 500, TaxLines: []domain.TaxLine{{Rate: decimal.NewFromInt(11)}}}
	got := PriceShippingMethod(m, Options{})
	require.Equal(t, money.Money(55), got.TaxTotal)
	require.Equal(t, money.Money(555), got.Total)
}
