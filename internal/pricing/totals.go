package pricing

import (
	"github.com/noah-isme/toko-marketplace/internal/discount"
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
	"github.com/noah-isme/toko-marketplace/internal/shipping"
)

// Input is the persisted state totals are derived from.
type Input struct {
	Items           []domain.LineItem
	ShippingMethods []domain.ShippingMethod
	Discounts       []domain.Discount
	GiftCards       []domain.GiftCard
}

// PointAdjustment reports a point spend that had to be clamped to the payable total.
type PointAdjustment struct {
	DiscountID string
	Requested  int64
	Used       int64
}

// Result is the decorated copy of an Input plus its totals.
type Result struct {
	Items           []domain.LineItem
	ShippingMethods []domain.ShippingMethod
	Discounts       []domain.Discount
	Totals          domain.Totals
	// Adjustment is set when the POINT rule value was clamped and must be persisted.
	Adjustment *PointAdjustment
}

// Decorate computes every derived total of in. It never modifies in, and feeding the
// returned items, methods and discounts back in yields the same totals.
func Decorate(in Input, snap domain.Snapshot, opts Options) Result {
	items := make([]domain.LineItem, len(in.Items))
	copy(items, in.Items)
	methods := make([]domain.ShippingMethod, len(in.ShippingMethods))
	copy(methods, in.ShippingMethods)
	discounts := make([]domain.Discount, len(in.Discounts))
	copy(discounts, in.Discounts)

	for i := range items {
		items[i].ShippingTotal = 0
		items[i].DiscountTotal = 0
		items[i] = PriceLineItem(items[i], opts)
	}

	shipping.Allocate(items, methods, discounts, snap)

	var t domain.Totals
	for _, it := range items {
		t.GiftCoverTotal += it.GiftCoverTotal
		t.AddonTotal += it.AddonSubtotalPrice * int64(it.Quantity)
		t.ShippingTotal += it.ShippingTotal
		t.Subtotal += it.Subtotal
	}

	cart := domain.Cart{Items: items}
	cart.Subtotal = t.Subtotal
	perItem := make(map[string]money.Money, len(items))
	for _, d := range discounts {
		if d.IsPoint() || d.IsFreeShipping() {
			continue
		}
		if !discount.CanApplyForCart(d, cart, snap) {
			continue
		}
		calc := discount.CalculateForCart(d, items, snap)
		for id, amount := range calc.Items {
			perItem[id] += amount
		}
	}
	var discountTotal money.Money
	for i := range items {
		amount := money.Min(money.NonNegative(items[i].Subtotal), perItem[items[i].ID])
		items[i].DiscountTotal = amount
		discountTotal += amount
	}
	t.DiscountTotal = money.ClampToSubtotal(t.Subtotal, discountTotal)

	for i := range items {
		items[i] = PriceLineItem(items[i], opts)
		t.TaxTotal += items[i].TaxTotal
	}
	for i := range methods {
		methods[i] = PriceShippingMethod(methods[i], opts)
		t.TaxTotal += methods[i].TaxTotal
	}
	// IncludesTax changes item subtotals once the discount is known.
	t.Subtotal = 0
	for _, it := range items {
		t.Subtotal += it.Subtotal
	}

	t.GiftCardTotal, t.GiftCardTaxTotal = giftCardTotals(in.GiftCards, t.Subtotal-t.DiscountTotal)

	t.Total = t.Subtotal + t.ShippingTotal + t.GiftCoverTotal + t.TaxTotal -
		(t.GiftCardTotal + t.DiscountTotal + t.GiftCardTaxTotal)

	// Points clamp against the total after every other deduction.
	res := Result{Items: items, ShippingMethods: methods, Discounts: discounts}
	for i := range discounts {
		if !discounts[i].IsPoint() {
			continue
		}
		requested := discounts[i].Rule.Value
		used := requested
		if t.Total-opts.Points.Value(used) < 0 {
			used = opts.Points.PointsFor(t.Total)
		}
		if used != requested {
			discounts[i].Rule.Value = used
			res.Adjustment = &PointAdjustment{DiscountID: discounts[i].ID, Requested: requested, Used: used}
		}
		value := opts.Points.Value(used)
		t.UsedPoint = used
		t.PointTotal = value
		t.DiscountTotal += value
		t.Total -= value
		break
	}
	res.Totals = t
	return res
}

// DecorateTotals computes the totals of cart and returns the decorated copy.
func DecorateTotals(c domain.Cart, snap domain.Snapshot, opts Options) (domain.Cart, *PointAdjustment) {
	res := Decorate(Input{Items: c.Items, ShippingMethods: c.ShippingMethods, Discounts: c.Discounts, GiftCards: c.GiftCards}, snap, opts)
	c.Items = res.Items
	c.ShippingMethods = res.ShippingMethods
	c.Discounts = res.Discounts
	c.Totals = res.Totals
	return c, res.Adjustment
}

// DecorateOrder computes the totals of an order from its own items, methods and discounts.
func DecorateOrder(o domain.Order, snap domain.Snapshot, opts Options) domain.Order {
	res := Decorate(Input{Items: o.Items, ShippingMethods: o.ShippingMethods, Discounts: o.Discounts}, snap, opts)
	o.Items = res.Items
	o.ShippingMethods = res.ShippingMethods
	o.Discounts = res.Discounts
	o.Totals = res.Totals
	return o
}

// giftCardTotals spends gift card balances in order against base and applies each
// card's tax rate to the amount it covers.
func giftCardTotals(cards []domain.GiftCard, base money.Money) (money.Money, money.Money) {
	remaining := money.NonNegative(base)
	var total, tax money.Money
	for _, gc := range cards {
		if remaining <= 0 {
			break
		}
		applied := money.Min(money.NonNegative(gc.Balance), remaining)
		remaining -= applied
		total += applied
		if gc.TaxRate != nil {
			tax += money.FloorPercent(applied, *gc.TaxRate)
		}
	}
	return total, tax
}
