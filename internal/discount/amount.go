package discount

import (
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
)

// Calculation is the outcome of applying one discount to a set of line items.
type Calculation struct {
	Items     map[string]money.Money
	Total     money.Money
	Remaining money.Money
}

// Qualifies reports whether the line item takes part in the discount amount.
// An item matching both the product path and the store-group path counts once.
func Qualifies(d domain.Discount, item domain.LineItem, snap domain.Snapshot) bool {
	if !CheckSaleWindow(d.IsSale, snap.SaleCount(item.VariantID)) {
		return false
	}
	if d.StoreApply == domain.StoreApplyStore {
		store, ok := snap.Store(item.StoreID)
		if !ok || !CheckStoreApplyStore(d, store) {
			return false
		}
	}
	if d.StoreID != "" && d.StoreID != item.StoreID {
		return false
	}
	ctx := ContextFor(item, snap)
	hasProduct := d.Rule.HasConditionOf(productConditions...)
	hasStoreGroup := d.Rule.HasConditionOf(domain.ConditionStoreGroups)
	if !hasProduct && !hasStoreGroup {
		return true
	}
	productMatch := hasProduct && IsEligible(d.Rule, ctx, productConditions...)
	storeGroupMatch := hasStoreGroup && IsEligible(d.Rule, ctx, domain.ConditionStoreGroups)
	return productMatch || storeGroupMatch
}

// Calculate computes the amount of d over items. Percentage rules floor per item;
// fixed rules consume the shared pool in iteration order, starting from remaining.
// Free-shipping and point discounts carry no item amount.
func Calculate(d domain.Discount, items []domain.LineItem, snap domain.Snapshot, remaining money.Money) Calculation {
	calc := Calculation{Items: make(map[string]money.Money, len(items)), Remaining: remaining}
	if d.IsPoint() || d.IsFreeShipping() {
		return calc
	}
	for _, item := range items {
		if item.Subtotal <= 0 || !Qualifies(d, item, snap) {
			continue
		}
		var amount money.Money
		switch d.Rule.Type {
		case domain.RulePercentage:
			amount = money.FloorPercentInt(item.Subtotal, d.Rule.Value)
		case domain.RuleFixed:
			if calc.Remaining <= 0 {
				continue
			}
			amount = money.Min(item.Subtotal, calc.Remaining)
			calc.Remaining -= amount
		default:
			continue
		}
		if amount <= 0 {
			continue
		}
		calc.Items[item.ID] += amount
		calc.Total += amount
	}
	return calc
}

// CalculateForCart applies d to the cart items with a fresh fixed pool.
func CalculateForCart(d domain.Discount, items []domain.LineItem, snap domain.Snapshot) Calculation {
	return Calculate(d, items, snap, d.Rule.Value)
}
