package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
)

const orderColumns = `id::text, COALESCE(parent_id::text, ''), COALESCE(cart_id::text, ''), customer_id::text,
       COALESCE(store_id::text, ''), display_id, status, coupon_total, point_used, metadata, created_at,
       subtotal, addon_total, gift_cover_total, shipping_total, discount_total, tax_total, gift_card_total,
       gift_card_tax_total, used_point, point_total, total`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (domain.Order, error) {
	var o domain.Order
	var status string
	var metadata []byte
	err := row.Scan(&o.ID, &o.ParentID, &o.CartID, &o.CustomerID, &o.StoreID, &o.DisplayID, &status, &o.CouponTotal,
		&o.PointUsed, &metadata, &o.CreatedAt, &o.Subtotal, &o.AddonTotal, &o.GiftCoverTotal, &o.ShippingTotal,
		&o.DiscountTotal, &o.TaxTotal, &o.GiftCardTotal, &o.GiftCardTaxTotal, &o.UsedPoint, &o.PointTotal, &o.Total)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	if err := decodeJSON(metadata, &o.Metadata); err != nil {
		return domain.Order{}, fmt.Errorf("decode order metadata: %w", err)
	}
	return o, nil
}

// InsertOrder persists an order. Items and shipping methods are copied under fresh ids
// and discounts are linked in order. The stored order is returned.
func (q *Queries) InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	if err := q.ready(); err != nil {
		return domain.Order{}, err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(nonNilMap(o.Metadata))
	if err != nil {
		return domain.Order{}, err
	}
	db := q.db(ctx)
	err = db.QueryRow(ctx, `INSERT INTO orders (id, parent_id, cart_id, customer_id, store_id, display_id, status, coupon_total,
    point_used, metadata, subtotal, addon_total, gift_cover_total, shipping_total, discount_total, tax_total,
    gift_card_total, gift_card_tax_total, used_point, point_total, total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
RETURNING created_at`,
		o.ID, nullString(o.ParentID), nullString(o.CartID), o.CustomerID, nullString(o.StoreID), o.DisplayID, string(o.Status),
		o.CouponTotal, o.PointUsed, metadata, o.Subtotal, o.AddonTotal, o.GiftCoverTotal, o.ShippingTotal, o.DiscountTotal,
		o.TaxTotal, o.GiftCardTotal, o.GiftCardTaxTotal, o.UsedPoint, o.PointTotal, o.Total).Scan(&o.CreatedAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	itemIDs := make(map[string]string, len(o.Items))
	methodIDs := make(map[string]string, len(o.ShippingMethods))
	for i := range o.ShippingMethods {
		methodIDs[o.ShippingMethods[i].ID] = uuid.NewString()
	}
	for i := range o.Items {
		it := o.Items[i]
		newID := uuid.NewString()
		itemIDs[it.ID] = newID
		it.ID = newID
		it.CartID = ""
		it.OrderID = o.ID
		// the shipping method row references the item, so the link is restored below
		it.ShippingMethodID = ""
		stored, err := q.InsertLineItem(ctx, it)
		if err != nil {
			return domain.Order{}, err
		}
		o.Items[i] = stored
	}
	for i := range o.ShippingMethods {
		m := o.ShippingMethods[i]
		m.ID = methodIDs[m.ID]
		m.LineItemID = itemIDs[m.LineItemID]
		stored, err := q.UpsertShippingMethod(ctx, m)
		if err != nil {
			return domain.Order{}, err
		}
		if _, err := db.Exec(ctx, `UPDATE shipping_methods SET subtotal = $2, tax_total = $3, total = $4 WHERE id = $1`,
			stored.ID, m.Subtotal, m.TaxTotal, m.Total); err != nil {
			return domain.Order{}, fmt.Errorf("update shipping method totals: %w", err)
		}
		o.ShippingMethods[i] = stored
	}
	for i := range o.Items {
		for _, m := range o.ShippingMethods {
			if m.LineItemID == o.Items[i].ID {
				o.Items[i].ShippingMethodID = m.ID
			}
		}
	}
	for i, d := range o.Discounts {
		if _, err := db.Exec(ctx, `INSERT INTO order_discounts (order_id, discount_id, position) VALUES ($1, $2, $3)`,
			o.ID, d.ID, i); err != nil {
			return domain.Order{}, fmt.Errorf("link order discount: %w", err)
		}
	}
	return o, nil
}

// GetOrder loads an order with its items, shipping methods, discounts and payments.
func (q *Queries) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if err := q.ready(); err != nil {
		return domain.Order{}, err
	}
	o, err := scanOrder(q.db(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return domain.Order{}, err
	}
	return q.loadOrderChildren(ctx, o)
}

func (q *Queries) loadOrderChildren(ctx context.Context, o domain.Order) (domain.Order, error) {
	var err error
	if o.Items, err = q.listLineItems(ctx, "order_id", o.ID); err != nil {
		return domain.Order{}, fmt.Errorf("list order items: %w", err)
	}
	if o.ShippingMethods, err = q.listShippingMethods(ctx, "order_id", o.ID); err != nil {
		return domain.Order{}, fmt.Errorf("list order shipping methods: %w", err)
	}
	if o.Discounts, err = q.listDiscountsFor(ctx, "order_discounts", "order_id", o.ID); err != nil {
		return domain.Order{}, fmt.Errorf("list order discounts: %w", err)
	}
	if o.Payments, err = q.ListPayments(ctx, o.ID); err != nil {
		return domain.Order{}, fmt.Errorf("list order payments: %w", err)
	}
	return o, nil
}

// ListChildOrders loads the child orders of a parent ordered by store.
func (q *Queries) ListChildOrders(ctx context.Context, parentID string) ([]domain.Order, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	rows, err := q.db(ctx).Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE parent_id = $1 ORDER BY store_id`, parentID)
	if err != nil {
		return nil, err
	}
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i], err = q.loadOrderChildren(ctx, orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// UpdateOrderStatus moves an order to a new status.
func (q *Queries) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	return err
}

// UpdateChildOrdersStatus moves every child of a parent to a new status.
func (q *Queries) UpdateChildOrdersStatus(ctx context.Context, parentID string, status domain.OrderStatus) (int64, error) {
	if err := q.ready(); err != nil {
		return 0, err
	}
	tag, err := q.db(ctx).Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE parent_id = $1`, parentID, string(status))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SetOrderSplitTotals stores the coupon and point sums of a split parent order.
func (q *Queries) SetOrderSplitTotals(ctx context.Context, id string, couponTotal money.Money, pointUsed int64) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `UPDATE orders SET coupon_total = $2, point_used = $3, updated_at = now() WHERE id = $1`,
		id, couponTotal, pointUsed)
	return err
}

// NextStoreDisplayID increments and returns the per-store order sequence.
func (q *Queries) NextStoreDisplayID(ctx context.Context, storeID string) (int64, error) {
	if err := q.ready(); err != nil {
		return 0, err
	}
	var next int64
	err := q.db(ctx).QueryRow(ctx, `INSERT INTO store_order_sequences (store_id, last_value) VALUES ($1, 1)
ON CONFLICT (store_id) DO UPDATE SET last_value = store_order_sequences.last_value + 1
RETURNING last_value`, storeID).Scan(&next)
	return next, err
}

// InsertPayment persists a payment record.
func (q *Queries) InsertPayment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	if err := q.ready(); err != nil {
		return domain.Payment{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	data, err := json.Marshal(nonNilMap(p.Data))
	if err != nil {
		return domain.Payment{}, err
	}
	_, err = q.db(ctx).Exec(ctx, `INSERT INTO payments (id, order_id, parent_payment_id, provider, amount, status, data, captured_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, p.ID, p.OrderID, nullString(p.ParentPaymentID), p.Provider, p.Amount,
		string(p.Status), data, p.CapturedAt)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	return p, nil
}

// ListPayments loads the payments of an order.
func (q *Queries) ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	rows, err := q.db(ctx).Query(ctx, `SELECT id::text, order_id::text, COALESCE(parent_payment_id::text, ''), provider, amount,
       status, data, captured_at
FROM payments WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		var status string
		var data []byte
		if err := rows.Scan(&p.ID, &p.OrderID, &p.ParentPaymentID, &p.Provider, &p.Amount, &status, &data, &p.CapturedAt); err != nil {
			return nil, err
		}
		p.Status = domain.PaymentStatus(status)
		if err := decodeJSON(data, &p.Data); err != nil {
			return nil, fmt.Errorf("decode payment data: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// UpdatePaymentStatus changes the status of a payment and stamps the capture time.
func (q *Queries) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus, capturedAt *time.Time) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `UPDATE payments SET status = $2, captured_at = COALESCE($3::timestamptz, captured_at) WHERE id = $1`,
		id, string(status), capturedAt)
	return err
}

// GetOrderByCart loads the parent order created from a cart.
func (q *Queries) GetOrderByCart(ctx context.Context, cartID string) (domain.Order, error) {
	if err := q.ready(); err != nil {
		return domain.Order{}, err
	}
	o, err := scanOrder(q.db(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE cart_id = $1 AND parent_id IS NULL`, cartID))
	if err != nil {
		return domain.Order{}, err
	}
	return q.loadOrderChildren(ctx, o)
}
