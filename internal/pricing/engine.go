// Package pricing computes line item, shipping method and cart totals.
package pricing

import (
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
	"github.com/noah-isme/toko-marketplace/internal/points"
)

// TaxStrategy computes the tax owed on base for the given tax lines.
type TaxStrategy interface {
	Tax(lines []domain.TaxLine, base money.Money) money.Money
}

// TaxLines rounds the tax of every line separately and sums the results.
type TaxLines struct{}

// Tax implements TaxStrategy.
func (TaxLines) Tax(lines []domain.TaxLine, base money.Money) money.Money {
	if base <= 0 {
		return 0
	}
	var total money.Money
	for _, l := range lines {
		total += money.RoundPercent(base, l.Rate)
	}
	return total
}

// Options tune the totals computation.
type Options struct {
	IncludesTax bool
	Tax         TaxStrategy
	Points      points.Converter
}

func (o Options) tax() TaxStrategy {
	if o.Tax == nil {
		return TaxLines{}
	}
	return o.Tax
}

// PriceLineItem recomputes the derived fields of item from its unit price, addons,
// quantity and the ShippingTotal and DiscountTotal already assigned to it.
func PriceLineItem(item domain.LineItem, opts Options) domain.LineItem {
	var addon money.Money
	for _, a := range item.Addons {
		addon += a.Price
	}
	qty := int64(item.Quantity)
	if qty < 0 {
		qty = 0
	}
	item.AddonSubtotalPrice = addon
	item.TotalUnitPrice = item.UnitPrice + addon
	gross := item.TotalUnitPrice * qty

	strategy := opts.tax()
	item.TaxTotal = strategy.Tax(item.TaxLines, gross-item.DiscountTotal)
	originalTax := strategy.Tax(item.TaxLines, gross)

	item.Subtotal = gross
	item.OriginalTotal = gross + item.ShippingTotal + item.GiftCoverTotal + originalTax
	if opts.IncludesTax {
		item.Subtotal = gross - item.TaxTotal
		item.OriginalTotal = gross + item.ShippingTotal + item.GiftCoverTotal
	}
	item.Total = item.Subtotal + item.ShippingTotal + item.GiftCoverTotal + item.TaxTotal - item.DiscountTotal
	return item
}

// PriceShippingMethod applies tax to the allocated subtotal of m. Shipping tax is
// always charged on top, IncludesTax only applies to item prices.
func PriceShippingMethod(m domain.ShippingMethod, opts Options) domain.ShippingMethod {
	m.TaxTotal = opts.tax().Tax(m.TaxLines, m.Subtotal)
	m.Total = m.Subtotal + m.TaxTotal
	return m
}
