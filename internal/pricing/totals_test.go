package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
	"github.com/noah-isme/toko-marketplace/internal/points"
)

func fixtureCart() (domain.Cart, domain.Snapshot) {
	c := domain.Cart{
		ID: "cart-1",
		Items: []domain.LineItem{
			{ID: "li-a", ProductID: "prod-a", StoreID: "store-1", VariantID: "v-a", Quantity: 3, UnitPrice: 1000},
			{ID: "li-b", ProductID: "prod-b", StoreID: "store-1", VariantID: "v-b", Quantity: 2, UnitPrice: 500},
			{ID: "li-c", ProductID: "prod-c", StoreID: "store-2", VariantID: "v-c", Quantity: 1, UnitPrice: 2000},
		},
		ShippingMethods: []domain.ShippingMethod{
			{ID: "sm-a", LineItemID: "li-a", ShippingOptionID: "opt-1", Price: 500},
			{ID: "sm-b", LineItemID: "li-b", ShippingOptionID: "opt-1", Price: 80},
			{ID: "sm-c", LineItemID: "li-c", ShippingOptionID: "opt-2", Price: 300},
		},
	}
	snap := domain.Snapshot{
		Stores: map[string]domain.Store{
			"store-1": {ID: "store-1", Tier: domain.StoreTierStandard},
			"store-2": {ID: "store-2", Tier: domain.StoreTierPrime},
		},
		BulkPrices: map[domain.BulkKey]money.Money{{ProductID: "prod-a", ShippingOptionID: "opt-1"}: 100},
	}
	return c, snap
}

func TestDecorateTotalsBasics(t *testing.T) {
	c, snap := fixtureCart()
	got, adj := DecorateTotals(c, snap, Options{})

	require.Nil(t, adj)
	require.Equal(t, money.Money(6000), got.Subtotal)
	require.Equal(t, money.Money(700+160+300), got.ShippingTotal)
	require.Equal(t, money.Money(7160), got.Total)
	for _, it := range got.Items {
		require.Equal(t, it.Subtotal+it.ShippingTotal+it.GiftCoverTotal+it.TaxTotal-it.DiscountTotal, it.Total)
	}
	require.Zero(t, c.Total, "input cart must not be modified")
}

func TestDecorateTotalsIdempotent(t *testing.T) {
	c, snap := fixtureCart()
	c.Discounts = []domain.Discount{
		{ID: "coupon", Kind: domain.DiscountKindCoupon, Rule: domain.DiscountRule{Type: domain.RulePercentage, Value: 10}},
		{ID: "pts", Kind: domain.DiscountKindPoint, Rule: domain.DiscountRule{Type: domain.RuleFixed, Value: 100_000}},
	}
	c.GiftCards = []domain.GiftCard{{ID: "gc", Balance: 500}}
	opts := Options{Points: points.NewConverter(decimal.NewFromInt(1))}

	first, adj := DecorateTotals(c, snap, opts)
	require.NotNil(t, adj)
	second, adj2 := DecorateTotals(first, snap, opts)

	require.Nil(t, adj2)
	require.Equal(t, first.Totals, second.Totals)
	require.Equal(t, first.Items, second.Items)
}

func TestDecorateTotalsDiscountClamp(t *testing.T) {
	c, snap := fixtureCart()
	c.Discounts = []domain.Discount{
		{ID: "big", Kind: domain.DiscountKindCoupon, Rule: domain.DiscountRule{Type: domain.RuleFixed, Value: 50_000}},
		{ID: "pct", Kind: domain.DiscountKindPromoCode, Rule: domain.DiscountRule{Type: domain.RulePercentage, Value: 50}},
	}
	got, _ := DecorateTotals(c, snap, Options{})

	require.Equal(t, got.Subtotal, got.DiscountTotal)
	for _, it := range got.Items {
		require.LessOrEqual(t, it.DiscountTotal, it.Subtotal)
	}
	require.Equal(t, got.ShippingTotal, got.Total)
}

func TestDecorateTotalsPointsClamp(t *testing.T) {
	c, snap := fixtureCart()
	c.Discounts = []domain.Discount{
		{ID: "pts", Kind: domain.DiscountKindPoint, Rule: domain.DiscountRule{Type: domain.RuleFixed, Value: 10_000}},
	}
	got, adj := DecorateTotals(c, snap, Options{})

	require.NotNil(t, adj)
	require.Equal(t, int64(10_000), adj.Requested)
	require.Equal(t, int64(7160), adj.Used)
	require.Equal(t, int64(7160), got.UsedPoint)
	require.Zero(t, got.Total)
	require.Equal(t, int64(7160), got.Discounts[0].Rule.Value)
	require.Equal(t, int64(10_000), c.Discounts[0].Rule.Value)
}

func TestDecorateTotalsPointsWithinTotal(t *testing.T) {
	c, snap := fixtureCart()
	c.Discounts = []domain.Discount{
		{ID: "pts", Kind: domain.DiscountKindPoint, Rule: domain.DiscountRule{Type: domain.RuleFixed, Value: 160}},
	}
	got, adj := DecorateTotals(c, snap, Options{Points: points.NewConverter(decimal.NewFromInt(2))})

	require.Nil(t, adj)
	require.Equal(t, money.Money(320), got.PointTotal)
	require.Equal(t, money.Money(7160-320), got.Total)
	require.Equal(t, money.Money(320), got.DiscountTotal)
}

func TestDecorateTotalsGiftCardTax(t *testing.T) {
	c, snap := fixtureCart()
	rate := decimal.NewFromInt(10)
	c.GiftCards = []domain.GiftCard{
		{ID: "gc1", Balance: 1000, TaxRate: &rate},
		{ID: "gc2", Balance: 100_000},
	}
	got, _ := DecorateTotals(c, snap, Options{})

	require.Equal(t, money.Money(6000), got.GiftCardTotal)
	require.Equal(t, money.Money(100), got.GiftCardTaxTotal)
	require.Equal(t, money.Money(7160-6000-100), got.Total)
}

func TestDecorateTotalsFreeShippingRoundTrip(t *testing.T) {
	c, snap := fixtureCart()
	before, _ := DecorateTotals(c, snap, Options{})

	c.Discounts = []domain.Discount{{ID: "free", Kind: domain.DiscountKindDefault, Rule: domain.DiscountRule{Type: domain.RuleFreeShipping}}}
	free, _ := DecorateTotals(c, snap, Options{})
	require.Zero(t, free.ShippingTotal)
	require.Zero(t, free.DiscountTotal)

	free.Discounts = nil
	after, _ := DecorateTotals(free, snap, Options{})
	require.Equal(t, before.Totals, after.Totals)
}

func TestDecorateTotalsFreeShippingBelowAmountLimit(t *testing.T) {
	c := domain.Cart{
		ID: "cart-small",
		Items: []domain.LineItem{
			{ID: "li-a", ProductID: "prod-a", StoreID: "store-1", Quantity: 1, UnitPrice: 600},
		},
		ShippingMethods: []domain.ShippingMethod{
			{ID: "sm-a", LineItemID: "li-a", ShippingOptionID: "opt-1", Price: 300},
		},
		Discounts: []domain.Discount{
			{ID: "free", Kind: domain.DiscountKindPromoCode, AmountLimit: 5000, Rule: domain.DiscountRule{Type: domain.RuleFreeShipping}},
			{ID: "pct", Kind: domain.DiscountKindCoupon, AmountLimit: 5000, Rule: domain.DiscountRule{Type: domain.RulePercentage, Value: 10}},
		},
	}
	snap := domain.Snapshot{Stores: map[string]domain.Store{"store-1": {ID: "store-1", Tier: domain.StoreTierStandard}}}

	got, _ := DecorateTotals(c, snap, Options{})
	require.Equal(t, money.Money(300), got.ShippingTotal)
	require.Zero(t, got.DiscountTotal)
	require.Equal(t, money.Money(900), got.Total)

	c.Items[0].UnitPrice = 5000
	got, _ = DecorateTotals(c, snap, Options{})
	require.Zero(t, got.ShippingTotal)
	require.Equal(t, money.Money(500), got.DiscountTotal)
	require.Equal(t, money.Money(4500), got.Total)
}
