package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-marketplace/internal/domain"
)

// CreateCart inserts an empty cart.
func (q *Queries) CreateCart(ctx context.Context, c domain.Cart) (domain.Cart, error) {
	if err := q.ready(); err != nil {
		return domain.Cart{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := q.db(ctx).Exec(ctx, `INSERT INTO carts (id, customer_id, region_id) VALUES ($1, $2, $3)`,
		c.ID, nullString(c.CustomerID), nullString(c.RegionID))
	if err != nil {
		return domain.Cart{}, fmt.Errorf("insert cart: %w", err)
	}
	return c, nil
}

// GetCart loads a cart with its items, shipping methods, discounts and gift cards.
func (q *Queries) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	if err := q.ready(); err != nil {
		return domain.Cart{}, err
	}
	var c domain.Cart
	err := q.db(ctx).QueryRow(ctx, `SELECT id::text, COALESCE(customer_id::text, ''), COALESCE(region_id, ''), completed_at,
       subtotal, addon_total, gift_cover_total, shipping_total, discount_total, tax_total, gift_card_total,
       gift_card_tax_total, used_point, point_total, total
FROM carts WHERE id = $1`, id).Scan(&c.ID, &c.CustomerID, &c.RegionID, &c.CompletedAt,
		&c.Subtotal, &c.AddonTotal, &c.GiftCoverTotal, &c.ShippingTotal, &c.DiscountTotal, &c.TaxTotal,
		&c.GiftCardTotal, &c.GiftCardTaxTotal, &c.UsedPoint, &c.PointTotal, &c.Total)
	if err != nil {
		return domain.Cart{}, err
	}
	if c.Items, err = q.listLineItems(ctx, "cart_id", id); err != nil {
		return domain.Cart{}, fmt.Errorf("list cart items: %w", err)
	}
	if c.ShippingMethods, err = q.listShippingMethods(ctx, "cart_id", id); err != nil {
		return domain.Cart{}, fmt.Errorf("list cart shipping methods: %w", err)
	}
	if c.Discounts, err = q.listDiscountsFor(ctx, "cart_discounts", "cart_id", id); err != nil {
		return domain.Cart{}, fmt.Errorf("list cart discounts: %w", err)
	}
	if c.GiftCards, err = q.listCartGiftCards(ctx, id); err != nil {
		return domain.Cart{}, fmt.Errorf("list cart gift cards: %w", err)
	}
	return c, nil
}

// LockCart takes a row lock on the cart for the rest of the transaction.
func (q *Queries) LockCart(ctx context.Context, id string) error {
	if err := q.ready(); err != nil {
		return err
	}
	var got string
	return q.db(ctx).QueryRow(ctx, `SELECT id::text FROM carts WHERE id = $1 FOR UPDATE`, id).Scan(&got)
}

func (q *Queries) listDiscountsFor(ctx context.Context, table, ownerColumn, ownerID string) ([]domain.Discount, error) {
	rows, err := q.db(ctx).Query(ctx, `SELECT `+discountColumns+` `+discountFrom+`
JOIN `+table+` x ON x.discount_id = d.id
WHERE x.`+ownerColumn+` = $1
ORDER BY x.position, d.id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var discounts []domain.Discount
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		discounts = append(discounts, d)
	}
	return discounts, rows.Err()
}

func (q *Queries) listCartGiftCards(ctx context.Context, cartID string) ([]domain.GiftCard, error) {
	rows, err := q.db(ctx).Query(ctx, `SELECT g.id::text, g.code, g.balance, g.tax_rate
FROM gift_cards g
JOIN cart_gift_cards x ON x.gift_card_id = g.id
WHERE x.cart_id = $1
ORDER BY x.position, g.id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cards []domain.GiftCard
	for rows.Next() {
		var gc domain.GiftCard
		var rate decimal.NullDecimal
		if err := rows.Scan(&gc.ID, &gc.Code, &gc.Balance, &rate); err != nil {
			return nil, err
		}
		if rate.Valid {
			r := rate.Decimal
			gc.TaxRate = &r
		}
		cards = append(cards, gc)
	}
	return cards, rows.Err()
}

// AttachCartDiscount links a discount to a cart after the discounts already attached.
func (q *Queries) AttachCartDiscount(ctx context.Context, cartID, discountID string) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `INSERT INTO cart_discounts (cart_id, discount_id, position)
VALUES ($1, $2, (SELECT COALESCE(MAX(position), -1) + 1 FROM cart_discounts WHERE cart_id = $1))
ON CONFLICT (cart_id, discount_id) DO NOTHING`, cartID, discountID)
	return err
}

// DetachCartDiscount unlinks a discount from a cart.
func (q *Queries) DetachCartDiscount(ctx context.Context, cartID, discountID string) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `DELETE FROM cart_discounts WHERE cart_id = $1 AND discount_id = $2`, cartID, discountID)
	return err
}

// AttachCartGiftCard links a gift card to a cart.
func (q *Queries) AttachCartGiftCard(ctx context.Context, cartID, giftCardID string) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `INSERT INTO cart_gift_cards (cart_id, gift_card_id, position)
VALUES ($1, $2, (SELECT COALESCE(MAX(position), -1) + 1 FROM cart_gift_cards WHERE cart_id = $1))
ON CONFLICT (cart_id, gift_card_id) DO NOTHING`, cartID, giftCardID)
	return err
}

// SaveCartTotals writes the derived totals of a cart, its items and its shipping methods.
func (q *Queries) SaveCartTotals(ctx context.Context, c domain.Cart) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `UPDATE carts SET subtotal = $2, addon_total = $3, gift_cover_total = $4, shipping_total = $5,
    discount_total = $6, tax_total = $7, gift_card_total = $8, gift_card_tax_total = $9, used_point = $10,
    point_total = $11, total = $12, updated_at = now()
WHERE id = $1`, c.ID, c.Subtotal, c.AddonTotal, c.GiftCoverTotal, c.ShippingTotal, c.DiscountTotal, c.TaxTotal,
		c.GiftCardTotal, c.GiftCardTaxTotal, c.UsedPoint, c.PointTotal, c.Total)
	if err != nil {
		return fmt.Errorf("update cart totals: %w", err)
	}
	return q.saveItemTotals(ctx, c.Items, c.ShippingMethods)
}

// MarkCartCompleted stamps the completion time of a cart.
func (q *Queries) MarkCartCompleted(ctx context.Context, cartID string, at time.Time) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `UPDATE carts SET completed_at = $2, updated_at = now() WHERE id = $1`, cartID, at)
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
