package discount

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/toko-marketplace/internal/common"
	"github.com/noah-isme/toko-marketplace/internal/domain"
)

// Context describes the resource a discount is checked against.
type Context struct {
	StoreID          string
	ProductID        string
	ProductTypeIDs   []string
	CollectionID     string
	TagIDs           []string
	CustomerGroupIDs []string
	StoreGroupIDs    []string
}

// ContextFor builds the eligibility context of a line item from the snapshot.
func ContextFor(item domain.LineItem, snap domain.Snapshot) Context {
	ctx := Context{
		StoreID:          item.StoreID,
		ProductID:        item.ProductID,
		CustomerGroupIDs: snap.Customer.GroupIDs,
	}
	if product, ok := snap.Product(item.ProductID); ok {
		ctx.ProductTypeIDs = product.TypeIDs()
		ctx.CollectionID = product.CollectionID
		ctx.TagIDs = product.TagIDs
		if ctx.StoreID == "" {
			ctx.StoreID = product.StoreID
		}
	}
	if store, ok := snap.Store(ctx.StoreID); ok {
		ctx.StoreGroupIDs = store.GroupIDs
	}
	return ctx
}

// scopeConditions are the store/product/product-type dimensions checked per line item.
var scopeConditions = []domain.ConditionType{
	domain.ConditionProducts,
	domain.ConditionProductTypes,
	domain.ConditionProductCollections,
	domain.ConditionProductTags,
	domain.ConditionStoreGroups,
}

var productConditions = []domain.ConditionType{
	domain.ConditionProducts,
	domain.ConditionProductTypes,
	domain.ConditionProductCollections,
	domain.ConditionProductTags,
}

// ConditionHolds evaluates one condition against the context.
func ConditionHolds(c domain.DiscountCondition, ctx Context) bool {
	matched := false
	switch c.Type {
	case domain.ConditionProducts:
		matched = containsAny(c.ResourceIDs, ctx.ProductID)
	case domain.ConditionProductTypes:
		// type, type_lv1 and type_lv2 all count as a match
		matched = containsAny(c.ResourceIDs, ctx.ProductTypeIDs...)
	case domain.ConditionProductCollections:
		matched = containsAny(c.ResourceIDs, ctx.CollectionID)
	case domain.ConditionProductTags:
		matched = containsAny(c.ResourceIDs, ctx.TagIDs...)
	case domain.ConditionCustomerGroups:
		matched = containsAny(c.ResourceIDs, ctx.CustomerGroupIDs...)
	case domain.ConditionStoreGroups:
		matched = containsAny(c.ResourceIDs, ctx.StoreGroupIDs...)
	default:
		return false
	}
	if c.Operator == domain.OperatorNotIn {
		return !matched
	}
	return matched
}

// IsEligible reports whether every condition of the given dimensions holds.
// With no dimensions given every condition of the rule is checked. A dimension
// without conditions is satisfied.
func IsEligible(rule domain.DiscountRule, ctx Context, dims ...domain.ConditionType) bool {
	for _, c := range rule.Conditions {
		if len(dims) > 0 && !hasType(dims, c.Type) {
			continue
		}
		if !ConditionHolds(c, ctx) {
			return false
		}
	}
	return true
}

// MatchesScope checks the store scoping and store/product/product-type conditions of d for ctx.
func MatchesScope(d domain.Discount, ctx Context) bool {
	if d.StoreID != "" && d.StoreID != ctx.StoreID {
		return false
	}
	return IsEligible(d.Rule, ctx, scopeConditions...)
}

// CheckSaleWindow mirrors the sale price gate: sale discounts pass for every item,
// regular discounts pass only for items without an active sale price.
func CheckSaleWindow(isSale bool, activeSaleCount int) bool {
	return (isSale && activeSaleCount > 0) || activeSaleCount == 0
}

// CheckStoreApplyStore reports whether d may apply to the store.
func CheckStoreApplyStore(d domain.Discount, store domain.Store) bool {
	switch d.StoreApply {
	case domain.StoreApplyStore:
		if d.ReleasedAt == nil {
			return true
		}
		return !store.CreatedAt.Before(*d.ReleasedAt)
	default:
		return true
	}
}

// CheckStoreApplyCart reports whether any item store of the cart passes CheckStoreApplyStore.
func CheckStoreApplyCart(d domain.Discount, items []domain.LineItem, snap domain.Snapshot) bool {
	if d.StoreApply != domain.StoreApplyStore {
		return true
	}
	for _, item := range items {
		store, ok := snap.Store(item.StoreID)
		if !ok {
			continue
		}
		if CheckStoreApplyStore(d, store) {
			return true
		}
	}
	return false
}

// CheckIssuance gates a discount on the customer lifecycle. Unknown timings fail closed.
func CheckIssuance(timing domain.IssuanceTiming, activity domain.CustomerActivity, now time.Time) bool {
	switch timing {
	case "", domain.IssuanceNone, domain.IssuanceMemberRegister:
		return true
	case domain.IssuanceBirthMonth:
		if activity.Birthday == nil {
			return false
		}
		return activity.Birthday.Month() == now.Month()
	case domain.IssuanceAfterOrdering:
		return activity.CompletedOrders > 0
	case domain.IssuanceReviewed:
		return activity.Reviews > 0
	case domain.IssuanceFavorite:
		return activity.Favorites > 0
	case domain.IssuanceFollow:
		return activity.Follows > 0
	default:
		return false
	}
}

// CanApplyForCart reports whether one item satisfies the scope conditions and the
// cart subtotal reaches the amount limit. A single qualifying item is enough.
func CanApplyForCart(d domain.Discount, cart domain.Cart, snap domain.Snapshot) bool {
	if cart.Subtotal < d.AmountLimit {
		return false
	}
	for _, item := range cart.Items {
		if MatchesScope(d, ContextFor(item, snap)) {
			return true
		}
	}
	return false
}

// ValidateForCart runs every gate a discount must pass before it is attached to a cart.
func ValidateForCart(d domain.Discount, cart domain.Cart, snap domain.Snapshot) error {
	if d.Status != "" && d.Status != domain.DiscountActive {
		return common.InvalidData("discount %s is not active", d.Code)
	}
	now := snap.Now
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return common.InvalidData("discount %s has not started", d.Code)
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return common.InvalidData("discount %s has expired", d.Code)
	}
	if !CheckIssuance(d.IssuanceTiming, snap.Customer, now) {
		return common.InvalidData("discount %s is not issued to this customer", d.Code)
	}
	customerCtx := Context{CustomerGroupIDs: snap.Customer.GroupIDs}
	if !IsEligible(d.Rule, customerCtx, domain.ConditionCustomerGroups) {
		return common.InvalidData("discount %s is not valid for customer group", d.Code)
	}
	if !CheckStoreApplyCart(d, cart.Items, snap) {
		return common.InvalidData("discount %s is not released for these stores", d.Code)
	}
	if cart.Subtotal < d.AmountLimit {
		return common.InvalidData("cart subtotal %d below discount limit %d", cart.Subtotal, d.AmountLimit)
	}
	if !CanApplyForCart(d, cart, snap) {
		return common.InvalidData("discount %s does not apply to any item", d.Code)
	}
	saleOK := false
	for _, item := range cart.Items {
		if CheckSaleWindow(d.IsSale, snap.SaleCount(item.VariantID)) {
			saleOK = true
			break
		}
	}
	if !saleOK {
		return common.InvalidData("discount %s does not apply to sale items", d.Code)
	}
	return nil
}

// NormalizeCode trims and upper-cases a discount code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateRule rejects rule values the calculator cannot use.
func ValidateRule(r domain.DiscountRule) error {
	switch r.Type {
	case domain.RulePercentage:
		if r.Value < 0 || r.Value > 100 {
			return fmt.Errorf("percentage %d out of range: %w", r.Value, common.ErrInvalidData)
		}
	case domain.RuleFixed, domain.RuleFreeShipping:
		if r.Value < 0 {
			return fmt.Errorf("negative rule value: %w", common.ErrInvalidData)
		}
	default:
		return fmt.Errorf("unknown rule type %q: %w", r.Type, common.ErrInvalidData)
	}
	return nil
}

func containsAny(set []string, values ...string) bool {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, s := range set {
			if s == v {
				return true
			}
		}
	}
	return false
}

func hasType(types []domain.ConditionType, t domain.ConditionType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
