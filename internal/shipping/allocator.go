// Package shipping allocates per-line-item shipping charges for carts and orders.
package shipping

import (
	"sort"

	"github.com/noah-isme/toko-marketplace/internal/discount"
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
)

type charge struct {
	item     int
	method   int
	original money.Money
	bulk     money.Money
	hasBulk  bool
	free     bool
}

// Allocate sets ShippingTotal on every item and Subtotal on every shipping method.
// Both slices are updated in place. Method prices are read, never written, so
// removing a free-shipping discount and allocating again restores the charge.
func Allocate(items []domain.LineItem, methods []domain.ShippingMethod, discounts []domain.Discount, snap domain.Snapshot) {
	free := FreeShippingDiscount(discounts, items, snap)

	byStore := make(map[string][]int)
	var storeIDs []string
	for i := range items {
		items[i].ShippingTotal = 0
		id := items[i].StoreID
		if _, ok := byStore[id]; !ok {
			storeIDs = append(storeIDs, id)
		}
		byStore[id] = append(byStore[id], i)
	}
	for i := range methods {
		methods[i].Subtotal = 0
	}
	sort.Strings(storeIDs)

	for _, storeID := range storeIDs {
		idx := byStore[storeID]
		store, _ := snap.Store(storeID)

		var charges []charge
		for _, i := range idx {
			_, m, ok := domain.ShippingMethodFor(methods, items[i])
			if !ok {
				continue
			}
			c := charge{item: i, method: m, original: methods[m].Price}
			c.free = free != nil && freeForItem(*free, items[i], snap)
			if bulk, ok := snap.BulkPrice(items[i].ProductID, methods[m].ShippingOptionID); ok {
				c.bulk, c.hasBulk = bulk, true
			}
			charges = append(charges, c)
		}

		if store.Tier == domain.StoreTierPrime {
			allocatePrime(items, methods, charges)
		} else {
			allocateStandard(items, methods, charges)
		}

		if reachesThreshold(store, items, idx) {
			for _, i := range idx {
				items[i].ShippingTotal = 0
				if _, m, ok := domain.ShippingMethodFor(methods, items[i]); ok {
					methods[m].Subtotal = 0
				}
			}
		}
	}
}

// allocatePrime charges the store shipping once, on the earliest added item.
// A free-shipping earliest item leaves the whole store uncharged.
func allocatePrime(items []domain.LineItem, methods []domain.ShippingMethod, charges []charge) {
	if len(charges) == 0 {
		return
	}
	first := charges[0]
	for _, c := range charges[1:] {
		a, b := items[c.item], items[first.item]
		if a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID) {
			first = c
		}
	}
	if first.free {
		return
	}
	items[first.item].ShippingTotal = first.original
	methods[first.method].Subtotal = first.original
}

// allocateStandard anchors the base rate on the most expensive bulked item and charges
// the bulk rate for every other bulked unit.
func allocateStandard(items []domain.LineItem, methods []domain.ShippingMethod, charges []charge) {
	var bulked []charge
	for _, c := range charges {
		if c.free {
			continue
		}
		if !c.hasBulk {
			amount := c.original * int64(items[c.item].Quantity)
			items[c.item].ShippingTotal = amount
			methods[c.method].Subtotal = amount
			continue
		}
		bulked = append(bulked, c)
	}
	sort.SliceStable(bulked, func(i, j int) bool {
		if bulked[i].original != bulked[j].original {
			return bulked[i].original > bulked[j].original
		}
		if bulked[i].bulk != bulked[j].bulk {
			return bulked[i].bulk < bulked[j].bulk
		}
		return items[bulked[i].item].ID < items[bulked[j].item].ID
	})
	for n, c := range bulked {
		qty := int64(items[c.item].Quantity)
		var amount money.Money
		if n == 0 {
			amount = c.original + c.bulk*(qty-1)
		} else {
			amount = c.bulk * qty
		}
		items[c.item].ShippingTotal = amount
		methods[c.method].Subtotal = amount
	}
}

func reachesThreshold(store domain.Store, items []domain.LineItem, idx []int) bool {
	if store.FreeShipAmount <= 0 {
		return false
	}
	var subtotal money.Money
	for _, i := range idx {
		subtotal += items[i].Subtotal
	}
	return subtotal >= store.FreeShipAmount
}

// FreeShippingDiscount returns the first free-shipping discount the priced items
// qualify for, amount limit included.
func FreeShippingDiscount(discounts []domain.Discount, items []domain.LineItem, snap domain.Snapshot) *domain.Discount {
	cart := domain.Cart{Items: items}
	for _, item := range items {
		cart.Subtotal += item.Subtotal
	}
	for i := range discounts {
		if discounts[i].IsFreeShipping() && discount.CanApplyForCart(discounts[i], cart, snap) {
			return &discounts[i]
		}
	}
	return nil
}

func freeForItem(d domain.Discount, item domain.LineItem, snap domain.Snapshot) bool {
	if d.StoreApply == domain.StoreApplyStore {
		store, ok := snap.Store(item.StoreID)
		if !ok || !discount.CheckStoreApplyStore(d, store) {
			return false
		}
	}
	return discount.MatchesScope(d, discount.ContextFor(item, snap))
}
