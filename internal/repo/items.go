package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-marketplace/internal/domain"
)

const lineItemColumns = `id::text, COALESCE(cart_id::text, ''), COALESCE(order_id::text, ''), variant_id::text, product_id::text,
       store_id::text, title, quantity, unit_price, addons, gift_cover_total, tax_lines, COALESCE(shipping_method_id::text, ''),
       addon_subtotal_price, total_unit_price, subtotal, shipping_total, discount_total, tax_total, original_total, total, created_at`

// listLineItems loads the items owned by a cart or an order, oldest first.
func (q *Queries) listLineItems(ctx context.Context, ownerColumn, ownerID string) ([]domain.LineItem, error) {
	rows, err := q.db(ctx).Query(ctx, `SELECT `+lineItemColumns+` FROM line_items WHERE `+ownerColumn+` = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.LineItem
	for rows.Next() {
		var it domain.LineItem
		var addons, taxLines []byte
		if err := rows.Scan(&it.ID, &it.CartID, &it.OrderID, &it.VariantID, &it.ProductID, &it.StoreID, &it.Title,
			&it.Quantity, &it.UnitPrice, &addons, &it.GiftCoverTotal, &taxLines, &it.ShippingMethodID,
			&it.AddonSubtotalPrice, &it.TotalUnitPrice, &it.Subtotal, &it.ShippingTotal, &it.DiscountTotal,
			&it.TaxTotal, &it.OriginalTotal, &it.Total, &it.CreatedAt); err != nil {
			return nil, err
		}
		if err := decodeJSON(addons, &it.Addons); err != nil {
			return nil, fmt.Errorf("decode addons: %w", err)
		}
		if err := decodeJSON(taxLines, &it.TaxLines); err != nil {
			return nil, fmt.Errorf("decode tax lines: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// listShippingMethods loads the shipping methods attached to the items of a cart or an order.
func (q *Queries) listShippingMethods(ctx context.Context, ownerColumn, ownerID string) ([]domain.ShippingMethod, error) {
	rows, err := q.db(ctx).Query(ctx, `SELECT m.id::text, m.line_item_id::text, m.shipping_option_id::text, m.price, m.tax_lines,
       m.subtotal, m.tax_total, m.total
FROM shipping_methods m
JOIN line_items li ON li.id = m.line_item_id
WHERE li.`+ownerColumn+` = $1
ORDER BY li.created_at, li.id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var methods []domain.ShippingMethod
	for rows.Next() {
		var m domain.ShippingMethod
		var taxLines []byte
		if err := rows.Scan(&m.ID, &m.LineItemID, &m.ShippingOptionID, &m.Price, &taxLines, &m.Subtotal, &m.TaxTotal, &m.Total); err != nil {
			return nil, err
		}
		if err := decodeJSON(taxLines, &m.TaxLines); err != nil {
			return nil, fmt.Errorf("decode tax lines: %w", err)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// InsertLineItem persists a new line item.
func (q *Queries) InsertLineItem(ctx context.Context, it domain.LineItem) (domain.LineItem, error) {
	if err := q.ready(); err != nil {
		return domain.LineItem{}, err
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	addons, err := encodeJSON(it.Addons, "[]")
	if err != nil {
		return domain.LineItem{}, err
	}
	taxLines, err := encodeJSON(it.TaxLines, "[]")
	if err != nil {
		return domain.LineItem{}, err
	}
	err = q.db(ctx).QueryRow(ctx, `INSERT INTO line_items (id, cart_id, order_id, variant_id, product_id, store_id, title, quantity,
    unit_price, addons, gift_cover_total, tax_lines, shipping_method_id, addon_subtotal_price, total_unit_price, subtotal,
    shipping_total, discount_total, tax_total, original_total, total, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, COALESCE($22::timestamptz, now()))
RETURNING created_at`,
		it.ID, nullString(it.CartID), nullString(it.OrderID), it.VariantID, it.ProductID, it.StoreID, it.Title, it.Quantity,
		it.UnitPrice, addons, it.GiftCoverTotal, taxLines, nullString(it.ShippingMethodID), it.AddonSubtotalPrice,
		it.TotalUnitPrice, it.Subtotal, it.ShippingTotal, it.DiscountTotal, it.TaxTotal, it.OriginalTotal, it.Total,
		nullTime(it.CreatedAt)).Scan(&it.CreatedAt)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("insert line item: %w", err)
	}
	return it, nil
}

// UpdateLineItemQuantity changes the quantity of an item.
func (q *Queries) UpdateLineItemQuantity(ctx context.Context, id string, quantity int) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `UPDATE line_items SET quantity = $2 WHERE id = $1`, id, quantity)
	return err
}

// DeleteLineItem removes an item and its shipping method.
func (q *Queries) DeleteLineItem(ctx context.Context, id string) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `DELETE FROM line_items WHERE id = $1`, id)
	return err
}

// UpsertShippingMethod attaches a shipping method to its line item, replacing any existing one.
func (q *Queries) UpsertShippingMethod(ctx context.Context, m domain.ShippingMethod) (domain.ShippingMethod, error) {
	if err := q.ready(); err != nil {
		return domain.ShippingMethod{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	taxLines, err := encodeJSON(m.TaxLines, "[]")
	if err != nil {
		return domain.ShippingMethod{}, err
	}
	db := q.db(ctx)
	err = db.QueryRow(ctx, `INSERT INTO shipping_methods (id, line_item_id, shipping_option_id, price, tax_lines, subtotal, tax_total, total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (line_item_id) DO UPDATE SET shipping_option_id = EXCLUDED.shipping_option_id, price = EXCLUDED.price,
    tax_lines = EXCLUDED.tax_lines
RETURNING id::text`, m.ID, m.LineItemID, m.ShippingOptionID, m.Price, taxLines, m.Subtotal, m.TaxTotal, m.Total).Scan(&m.ID)
	if err != nil {
		return domain.ShippingMethod{}, fmt.Errorf("upsert shipping method: %w", err)
	}
	if _, err := db.Exec(ctx, `UPDATE line_items SET shipping_method_id = $2 WHERE id = $1`, m.LineItemID, m.ID); err != nil {
		return domain.ShippingMethod{}, fmt.Errorf("link shipping method: %w", err)
	}
	return m, nil
}

// saveItemTotals writes the derived columns of items and shipping methods.
func (q *Queries) saveItemTotals(ctx context.Context, items []domain.LineItem, methods []domain.ShippingMethod) error {
	db := q.db(ctx)
	for _, it := range items {
		if _, err := db.Exec(ctx, `UPDATE line_items SET addon_subtotal_price = $2, total_unit_price = $3, subtotal = $4,
    shipping_total = $5, discount_total = $6, tax_total = $7, original_total = $8, total = $9
WHERE id = $1`, it.ID, it.AddonSubtotalPrice, it.TotalUnitPrice, it.Subtotal, it.ShippingTotal, it.DiscountTotal,
			it.TaxTotal, it.OriginalTotal, it.Total); err != nil {
			return fmt.Errorf("update line item %s: %w", it.ID, err)
		}
	}
	for _, m := range methods {
		if _, err := db.Exec(ctx, `UPDATE shipping_methods SET subtotal = $2, tax_total = $3, total = $4 WHERE id = $1`,
			m.ID, m.Subtotal, m.TaxTotal, m.Total); err != nil {
			return fmt.Errorf("update shipping method %s: %w", m.ID, err)
		}
	}
	return nil
}

func decodeJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func encodeJSON(v any, empty string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte(empty), nil
	}
	return b, nil
}
