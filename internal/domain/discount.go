package domain

import (
	"time"

	"github.com/noah-isme/toko-marketplace/internal/money"
)

// DiscountKind distinguishes system managed discounts from regular ones.
type DiscountKind string

const (
	DiscountKindDefault   DiscountKind = "DEFAULT"
	DiscountKindPoint     DiscountKind = "POINT"
	DiscountKindPromoCode DiscountKind = "PROMO_CODE"
	DiscountKindCoupon    DiscountKind = "COUPON"
)

// RuleType controls how a discount value is interpreted.
type RuleType string

const (
	RuleFixed        RuleType = "FIXED"
	RulePercentage   RuleType = "PERCENTAGE"
	RuleFreeShipping RuleType = "FREE_SHIPPING"
)

// StoreApply scopes a discount by store onboarding date.
type StoreApply string

const (
	StoreApplyAll   StoreApply = "ALL"
	StoreApplyCSV   StoreApply = "CSV"
	StoreApplyStore StoreApply = "STORE"
)

// DiscountStatus is the administrative state of a discount.
type DiscountStatus string

const (
	DiscountActive   DiscountStatus = "ACTIVE"
	DiscountDraft    DiscountStatus = "DRAFT"
	DiscountDisabled DiscountStatus = "DISABLED"
)

// IssuanceTiming gates a discount on a customer lifecycle event.
type IssuanceTiming string

const (
	IssuanceNone           IssuanceTiming = "NONE"
	IssuanceMemberRegister IssuanceTiming = "MEMBER_REGISTER"
	IssuanceBirthMonth     IssuanceTiming = "BIRTH_MONTH"
	IssuanceAfterOrdering  IssuanceTiming = "AFTER_ORDERING"
	IssuanceReviewed       IssuanceTiming = "REVIEWED"
	IssuanceFavorite       IssuanceTiming = "FAVORITE"
	IssuanceFollow         IssuanceTiming = "FOLLOW"
)

// ConditionType names the dimension a condition restricts.
type ConditionType string

const (
	ConditionProducts           ConditionType = "PRODUCTS"
	ConditionProductTypes       ConditionType = "PRODUCT_TYPES"
	ConditionProductCollections ConditionType = "PRODUCT_COLLECTIONS"
	ConditionProductTags        ConditionType = "PRODUCT_TAGS"
	ConditionCustomerGroups     ConditionType = "CUSTOMER_GROUPS"
	ConditionStoreGroups        ConditionType = "STORE_GROUPS"
)

// ConditionOperator is either membership or exclusion.
type ConditionOperator string

const (
	OperatorIn    ConditionOperator = "IN"
	OperatorNotIn ConditionOperator = "NOT_IN"
)

// DiscountCondition restricts a rule to a set of resources.
type DiscountCondition struct {
	ID          string            `json:"id"`
	Type        ConditionType     `json:"type"`
	Operator    ConditionOperator `json:"operator"`
	ResourceIDs []string          `json:"resource_ids"`
}

// DiscountRule holds the value of a discount and its conditions.
type DiscountRule struct {
	ID         string              `json:"id"`
	Type       RuleType            `json:"type"`
	Value      int64               `json:"value"`
	Conditions []DiscountCondition `json:"conditions,omitempty"`
}

// HasConditionOf reports whether the rule restricts any of the given dimensions.
func (r DiscountRule) HasConditionOf(types ...ConditionType) bool {
	for _, c := range r.Conditions {
		for _, t := range types {
			if c.Type == t {
				return true
			}
		}
	}
	return false
}

// Discount is a promotion attached to a cart or order.
type Discount struct {
	ID               string         `json:"id"`
	Code             string         `json:"code"`
	Kind             DiscountKind   `json:"kind"`
	Rule             DiscountRule   `json:"rule"`
	StoreID          string         `json:"store_id,omitempty"`
	StoreApply       StoreApply     `json:"store_apply"`
	IsSale           bool           `json:"is_sale"`
	ReleasedAt       *time.Time     `json:"released_at,omitempty"`
	Status           DiscountStatus `json:"status"`
	AmountLimit      money.Money    `json:"amount_limit"`
	IssuanceTiming   IssuanceTiming `json:"issuance_timing,omitempty"`
	ParentDiscountID string         `json:"parent_discount_id,omitempty"`
	StartsAt         *time.Time     `json:"starts_at,omitempty"`
	EndsAt           *time.Time     `json:"ends_at,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// IsFreeShipping reports whether the discount zeroes shipping.
func (d Discount) IsFreeShipping() bool {
	return d.Rule.Type == RuleFreeShipping
}

// IsPoint reports whether the discount represents a loyalty point spend.
func (d Discount) IsPoint() bool {
	return d.Kind == DiscountKindPoint
}

// FindDiscount returns the first discount of the given kind.
func FindDiscount(discounts []Discount, kind DiscountKind) (Discount, bool) {
	for _, d := range discounts {
		if d.Kind == kind {
			return d, true
		}
	}
	return Discount{}, false
}
