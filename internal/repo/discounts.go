package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-marketplace/internal/discount"
	"github.com/noah-isme/toko-marketplace/internal/domain"
)

const discountColumns = `d.id::text, d.code, d.kind, d.store_id::text, d.store_apply, d.is_sale, d.released_at, d.status,
       d.amount_limit, d.issuance_timing, d.parent_discount_id::text, d.starts_at, d.ends_at, d.metadata,
       r.id::text, r.type, r.value,
       COALESCE((SELECT json_agg(json_build_object('id', c.id::text, 'type', c.type, 'operator', c.operator, 'resource_ids', c.resource_ids) ORDER BY c.id)
                 FROM discount_conditions c WHERE c.rule_id = r.id), '[]'::json)`

const discountFrom = `FROM discounts d JOIN discount_rules r ON r.id = d.rule_id`

func scanDiscount(row pgx.Row) (domain.Discount, error) {
	var (
		d                   domain.Discount
		kind, apply, status string
		timing, ruleType    string
		storeID, parentID   *string
		released            *time.Time
		metadata            []byte
		conditions          []byte
	)
	err := row.Scan(&d.ID, &d.Code, &kind, &storeID, &apply, &d.IsSale, &released, &status,
		&d.AmountLimit, &timing, &parentID, &d.StartsAt, &d.EndsAt, &metadata,
		&d.Rule.ID, &ruleType, &d.Rule.Value, &conditions)
	if err != nil {
		return domain.Discount{}, err
	}
	d.Kind = domain.DiscountKind(kind)
	d.StoreApply = domain.StoreApply(apply)
	d.Status = domain.DiscountStatus(status)
	d.IssuanceTiming = domain.IssuanceTiming(timing)
	d.Rule.Type = domain.RuleType(ruleType)
	d.ReleasedAt = released
	if storeID != nil {
		d.StoreID = *storeID
	}
	if parentID != nil {
		d.ParentDiscountID = *parentID
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return domain.Discount{}, fmt.Errorf("decode discount metadata: %w", err)
		}
	}
	if err := json.Unmarshal(conditions, &d.Rule.Conditions); err != nil {
		return domain.Discount{}, fmt.Errorf("decode discount conditions: %w", err)
	}
	if len(d.Rule.Conditions) == 0 {
		d.Rule.Conditions = nil
	}
	return d, nil
}

// GetDiscountByCode loads the top-level discount with the given code.
func (q *Queries) GetDiscountByCode(ctx context.Context, code string) (domain.Discount, error) {
	if err := q.ready(); err != nil {
		return domain.Discount{}, err
	}
	row := q.db(ctx).QueryRow(ctx, `SELECT `+discountColumns+` `+discountFrom+`
WHERE d.code = $1 AND d.parent_discount_id IS NULL`, code)
	return scanDiscount(row)
}

// GetDiscount loads a discount by id.
func (q *Queries) GetDiscount(ctx context.Context, id string) (domain.Discount, error) {
	if err := q.ready(); err != nil {
		return domain.Discount{}, err
	}
	row := q.db(ctx).QueryRow(ctx, `SELECT `+discountColumns+` `+discountFrom+` WHERE d.id = $1`, id)
	return scanDiscount(row)
}

// InsertDiscount persists a discount with its rule and conditions and returns it with generated ids.
func (q *Queries) InsertDiscount(ctx context.Context, d domain.Discount) (domain.Discount, error) {
	if err := q.ready(); err != nil {
		return domain.Discount{}, err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Rule.ID == "" {
		d.Rule.ID = uuid.NewString()
	}
	db := q.db(ctx)
	if _, err := db.Exec(ctx, `INSERT INTO discount_rules (id, type, value) VALUES ($1, $2, $3)`,
		d.Rule.ID, string(d.Rule.Type), d.Rule.Value); err != nil {
		return domain.Discount{}, fmt.Errorf("insert discount rule: %w", err)
	}
	for i := range d.Rule.Conditions {
		c := &d.Rule.Conditions[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		ids := c.ResourceIDs
		if ids == nil {
			ids = []string{}
		}
		if _, err := db.Exec(ctx, `INSERT INTO discount_conditions (id, rule_id, type, operator, resource_ids) VALUES ($1, $2, $3, $4, $5)`,
			c.ID, d.Rule.ID, string(c.Type), string(c.Operator), ids); err != nil {
			return domain.Discount{}, fmt.Errorf("insert discount condition: %w", err)
		}
	}
	metadata, err := json.Marshal(nonNilMap(d.Metadata))
	if err != nil {
		return domain.Discount{}, err
	}
	apply := d.StoreApply
	if apply == "" {
		apply = domain.StoreApplyAll
	}
	status := d.Status
	if status == "" {
		status = domain.DiscountActive
	}
	timing := d.IssuanceTiming
	if timing == "" {
		timing = domain.IssuanceNone
	}
	_, err = db.Exec(ctx, `INSERT INTO discounts (id, code, kind, rule_id, store_id, store_apply, is_sale, released_at, status,
    amount_limit, issuance_timing, parent_discount_id, starts_at, ends_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.Code, string(d.Kind), d.Rule.ID, nullString(d.StoreID), string(apply), d.IsSale, d.ReleasedAt, string(status),
		d.AmountLimit, string(timing), nullString(d.ParentDiscountID), d.StartsAt, d.EndsAt, metadata)
	if err != nil {
		return domain.Discount{}, fmt.Errorf("insert discount: %w", err)
	}
	d.StoreApply, d.Status, d.IssuanceTiming = apply, status, timing
	return d, nil
}

// UpdateDiscountRuleValue overwrites the value of a rule.
func (q *Queries) UpdateDiscountRuleValue(ctx context.Context, ruleID string, value int64) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `UPDATE discount_rules SET value = $2 WHERE id = $1`, ruleID, value)
	return err
}

// CountPromoUsageByCustomer counts the recorded redemptions of a discount by one customer.
func (q *Queries) CountPromoUsageByCustomer(ctx context.Context, discountID, customerID string) (int64, error) {
	if err := q.ready(); err != nil {
		return 0, err
	}
	var n int64
	err := q.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM promo_usages WHERE discount_id = $1 AND customer_id = $2`,
		discountID, customerID).Scan(&n)
	return n, err
}

// PromoUsageExists reports whether the redemption of a discount by an order was recorded.
func (q *Queries) PromoUsageExists(ctx context.Context, discountID, orderID string) (bool, error) {
	if err := q.ready(); err != nil {
		return false, err
	}
	var exists bool
	err := q.db(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM promo_usages WHERE discount_id = $1 AND order_id = $2)`,
		discountID, orderID).Scan(&exists)
	return exists, err
}

// InsertPromoUsage records a redemption. A concurrent duplicate is ignored.
func (q *Queries) InsertPromoUsage(ctx context.Context, usage discount.PromoUsage) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `INSERT INTO promo_usages (discount_id, order_id, customer_id, amount)
VALUES ($1, $2, $3, $4)
ON CONFLICT (discount_id, order_id) DO NOTHING`, usage.DiscountID, usage.OrderID, usage.CustomerID, usage.Amount)
	return err
}

// DeletePromoUsage removes the redemption of a discount by an order.
func (q *Queries) DeletePromoUsage(ctx context.Context, discountID, orderID string) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `DELETE FROM promo_usages WHERE discount_id = $1 AND order_id = $2`, discountID, orderID)
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
