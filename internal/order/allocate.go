// Package order splits a placed multi-store order into per-store child orders.
package order

import (
	"sort"

	"github.com/noah-isme/toko-marketplace/internal/discount"
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
	"github.com/noah-isme/toko-marketplace/internal/pricing"
	"github.com/noah-isme/toko-marketplace/internal/shipping"
)

// MetadataParentCode is the metadata key carrying the code of the discount a
// synthetic child discount was derived from.
const MetadataParentCode = "parent_code"

// Child is the planned child order of one store.
type Child struct {
	Store domain.Store
	Order domain.Order
	// LeftSubtotal is the subtotal not yet consumed by coupons.
	LeftSubtotal money.Money
}

// Plan is the split of a parent order.
type Plan struct {
	ParentID string
	Children []Child
	// SkippedItems lists line items whose store could not be resolved.
	SkippedItems []string
	CouponTotal  money.Money
	PointUsed    int64
}

// Allocate plans the child orders of parent. It is a pure function of its inputs:
// the same parent and snapshot always yield the same plan.
func Allocate(parent domain.Order, snap domain.Snapshot, opts pricing.Options) Plan {
	plan := Plan{ParentID: parent.ID}

	groups := map[string][]domain.LineItem{}
	var storeIDs []string
	for _, item := range parent.Items {
		storeID := item.StoreID
		if p, ok := snap.Product(item.ProductID); ok && p.StoreID != "" {
			storeID = p.StoreID
		}
		if storeID == "" {
			plan.SkippedItems = append(plan.SkippedItems, item.ID)
			continue
		}
		if _, ok := groups[storeID]; !ok {
			storeIDs = append(storeIDs, storeID)
		}
		item.StoreID = storeID
		groups[storeID] = append(groups[storeID], item)
	}

	free := shipping.FreeShippingDiscount(parent.Discounts, pricedItems(parent.Items, opts), snap)
	var carried []domain.Discount
	for i, d := range parent.Discounts {
		if d.ParentDiscountID != "" {
			continue
		}
		// A candidate only reaches children as a store copy, and only the free
		// shipping the parent was decorated with.
		if isCandidate(d.Kind) && free != &parent.Discounts[i] {
			continue
		}
		carried = append(carried, d)
	}

	for _, storeID := range storeIDs {
		items := groups[storeID]
		store, ok := snap.Store(storeID)
		if !ok {
			store = domain.Store{ID: storeID, Tier: domain.StoreTierStandard}
		}
		res := pricing.Decorate(pricing.Input{
			Items:           items,
			ShippingMethods: methodsFor(parent.ShippingMethods, items),
			Discounts:       forStore(carried, storeID),
		}, snap, opts)
		child := domain.Order{
			ParentID:        parent.ID,
			CartID:          parent.CartID,
			CustomerID:      parent.CustomerID,
			StoreID:         storeID,
			Status:          domain.OrderPlaced,
			Items:           res.Items,
			ShippingMethods: res.ShippingMethods,
			Discounts:       applicable(res.Discounts, res.Items, snap),
			Totals:          res.Totals,
		}
		plan.Children = append(plan.Children, Child{
			Store:        store,
			Order:        child,
			LeftSubtotal: money.NonNegative(res.Totals.Subtotal - res.Totals.DiscountTotal),
		})
	}

	sort.SliceStable(plan.Children, func(i, j int) bool {
		a, b := plan.Children[i], plan.Children[j]
		if a.Store.HasRegistration() != b.Store.HasRegistration() {
			return a.Store.HasRegistration()
		}
		if a.Order.Subtotal != b.Order.Subtotal {
			return a.Order.Subtotal > b.Order.Subtotal
		}
		return a.Order.StoreID < b.Order.StoreID
	})

	for _, kind := range []domain.DiscountKind{domain.DiscountKindPromoCode, domain.DiscountKindCoupon} {
		if d, ok := domain.FindDiscount(parent.Discounts, kind); ok {
			allocateCoupon(plan.Children, d, snap)
		}
	}
	if d, ok := domain.FindDiscount(parent.Discounts, domain.DiscountKindPoint); ok {
		allocatePoints(plan.Children, d, opts)
	}

	for i := range plan.Children {
		c := &plan.Children[i]
		c.Order.Metadata = map[string]any{
			"price_snapshot": map[string]any{
				"subtotal":       c.Order.Subtotal,
				"shipping_total": c.Order.ShippingTotal,
				"discount_total": c.Order.DiscountTotal,
				"coupon_total":   c.Order.CouponTotal,
				"point_used":     c.Order.PointUsed,
				"total":          c.Order.Total,
			},
		}
		plan.CouponTotal += c.Order.CouponTotal
		plan.PointUsed += c.Order.PointUsed
	}
	return plan
}

// allocateCoupon spreads a promo code or coupon over the sorted children. A store
// scoped discount only reaches the child of that store; otherwise fixed rules
// consume one pool shared by every child.
func allocateCoupon(children []Child, d domain.Discount, snap domain.Snapshot) {
	pool := d.Rule.Value
	for i := range children {
		c := &children[i]
		if d.StoreID != "" && d.StoreID != c.Order.StoreID {
			continue
		}
		calc := discount.Calculate(d, c.Order.Items, snap, pool)
		amount := money.Min(calc.Total, c.LeftSubtotal)
		if d.Rule.Type == domain.RuleFixed {
			pool = calc.Remaining + (calc.Total - amount)
		}
		if amount <= 0 {
			continue
		}
		c.Order.Discounts = append(c.Order.Discounts, synthetic(d, c.Order.StoreID, domain.RuleFixed, amount))
		c.Order.Total -= amount
		c.Order.DiscountTotal += amount
		c.LeftSubtotal -= amount
		c.Order.CouponTotal += amount
	}
}

// allocatePoints spends the parent point discount on the sorted children until
// the points run out.
func allocatePoints(children []Child, d domain.Discount, opts pricing.Options) {
	remaining := d.Rule.Value
	for i := range children {
		if remaining <= 0 {
			return
		}
		c := &children[i]
		if c.LeftSubtotal+c.Order.ShippingTotal <= 0 || c.Order.Total <= 0 {
			continue
		}
		used := remaining
		value := opts.Points.Value(used)
		if value > c.Order.Total {
			used = opts.Points.PointsFor(c.Order.Total)
			value = opts.Points.Value(used)
		}
		if used <= 0 {
			continue
		}
		c.Order.Discounts = append(c.Order.Discounts, synthetic(d, c.Order.StoreID, domain.RuleFixed, used))
		c.Order.PointUsed += used
		c.Order.UsedPoint += used
		c.Order.PointTotal += value
		c.Order.DiscountTotal += value
		c.Order.Total -= value
		remaining -= used
	}
}

func synthetic(d domain.Discount, storeID string, rule domain.RuleType, value int64) domain.Discount {
	return domain.Discount{
		Code:             d.Code + "-" + storeID,
		Kind:             d.Kind,
		Rule:             domain.DiscountRule{Type: rule, Value: value},
		StoreID:          storeID,
		StoreApply:       domain.StoreApplyAll,
		Status:           domain.DiscountActive,
		IssuanceTiming:   domain.IssuanceNone,
		ParentDiscountID: d.ID,
		Metadata:         map[string]any{MetadataParentCode: d.Code},
	}
}

// freeShippingCopy derives the store copy of a candidate free-shipping discount.
// The parent already passed the amount limit, so the copy carries none.
func freeShippingCopy(d domain.Discount, storeID string) domain.Discount {
	c := synthetic(d, storeID, domain.RuleFreeShipping, 0)
	c.StoreApply = d.StoreApply
	c.ReleasedAt = d.ReleasedAt
	c.IsSale = d.IsSale
	for _, cond := range d.Rule.Conditions {
		cond.ID = ""
		c.Rule.Conditions = append(c.Rule.Conditions, cond)
	}
	return c
}

// forStore resolves the carried discounts of one child.
func forStore(carried []domain.Discount, storeID string) []domain.Discount {
	out := make([]domain.Discount, 0, len(carried))
	for _, d := range carried {
		if !isCandidate(d.Kind) {
			out = append(out, d)
			continue
		}
		if d.StoreID != "" && d.StoreID != storeID {
			continue
		}
		out = append(out, freeShippingCopy(d, storeID))
	}
	return out
}

func pricedItems(items []domain.LineItem, opts pricing.Options) []domain.LineItem {
	out := make([]domain.LineItem, len(items))
	for i, item := range items {
		item.DiscountTotal = 0
		out[i] = pricing.PriceLineItem(item, opts)
	}
	return out
}

func isCandidate(kind domain.DiscountKind) bool {
	switch kind {
	case domain.DiscountKindPoint, domain.DiscountKindPromoCode, domain.DiscountKindCoupon:
		return true
	}
	return false
}

func methodsFor(methods []domain.ShippingMethod, items []domain.LineItem) []domain.ShippingMethod {
	var out []domain.ShippingMethod
	for _, item := range items {
		if m, _, ok := domain.ShippingMethodFor(methods, item); ok {
			out = append(out, m)
		}
	}
	return out
}

// applicable keeps the carried discounts that still apply to the child items.
func applicable(discounts []domain.Discount, items []domain.LineItem, snap domain.Snapshot) []domain.Discount {
	var subtotal money.Money
	for _, it := range items {
		subtotal += it.Subtotal
	}
	cart := domain.Cart{Items: items}
	cart.Subtotal = subtotal
	out := make([]domain.Discount, 0, len(discounts))
	for _, d := range discounts {
		if discount.CanApplyForCart(d, cart, snap) {
			out = append(out, d)
		}
	}
	return out
}
