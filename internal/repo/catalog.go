package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
)

// ErrUnavailable indicates the repository has no database handle.
var ErrUnavailable = errors.New("repo: database unavailable")

func (q *Queries) ready() error {
	if q == nil || q.pool == nil {
		return ErrUnavailable
	}
	return nil
}

// GetStoresByIDs loads stores together with their store group memberships.
func (q *Queries) GetStoresByIDs(ctx context.Context, ids []string) ([]domain.Store, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.db(ctx).Query(ctx, `SELECT s.id::text, s.name, s.tier, s.free_ship_amount, COALESCE(s.registration_number, ''), s.created_at,
       COALESCE(array_agg(g.group_id::text) FILTER (WHERE g.group_id IS NOT NULL), '{}')
FROM stores s
LEFT JOIN store_group_members g ON g.store_id = s.id
WHERE s.id = ANY($1::uuid[])
GROUP BY s.id
ORDER BY s.id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stores []domain.Store
	for rows.Next() {
		var s domain.Store
		var tier string
		if err := rows.Scan(&s.ID, &s.Name, &tier, &s.FreeShipAmount, &s.RegistrationNumber, &s.CreatedAt, &s.GroupIDs); err != nil {
			return nil, err
		}
		s.Tier = domain.StoreTier(tier)
		stores = append(stores, s)
	}
	return stores, rows.Err()
}

// GetProductsByIDs loads products with their tag ids.
func (q *Queries) GetProductsByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.db(ctx).Query(ctx, `SELECT p.id::text, p.store_id::text,
       COALESCE(p.type_id::text, ''), COALESCE(p.type_lv1_id::text, ''), COALESCE(p.type_lv2_id::text, ''),
       COALESCE(p.collection_id::text, ''),
       COALESCE(array_agg(t.tag_id::text) FILTER (WHERE t.tag_id IS NOT NULL), '{}')
FROM products p
LEFT JOIN product_tags t ON t.product_id = p.id
WHERE p.id = ANY($1::uuid[])
GROUP BY p.id
ORDER BY p.id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.TypeID, &p.TypeLv1ID, &p.TypeLv2ID, &p.CollectionID, &p.TagIDs); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CountActiveSalePrices counts the sale price entries active at the given instant per variant.
func (q *Queries) CountActiveSalePrices(ctx context.Context, variantIDs []string, at time.Time) (map[string]int, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(variantIDs))
	if len(variantIDs) == 0 {
		return counts, nil
	}
	rows, err := q.db(ctx).Query(ctx, `SELECT variant_id::text, COUNT(*)
FROM sale_prices
WHERE variant_id = ANY($1::uuid[])
  AND (starts_at IS NULL OR starts_at <= $2)
  AND (ends_at IS NULL OR ends_at > $2)
GROUP BY variant_id`, variantIDs, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// GetBulkShippingPrices returns bulk shipping overrides for every product and option pair that has one.
func (q *Queries) GetBulkShippingPrices(ctx context.Context, productIDs, optionIDs []string) (map[domain.BulkKey]money.Money, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	prices := map[domain.BulkKey]money.Money{}
	if len(productIDs) == 0 || len(optionIDs) == 0 {
		return prices, nil
	}
	rows, err := q.db(ctx).Query(ctx, `SELECT product_id::text, shipping_option_id::text, price
FROM bulk_shipping_prices
WHERE product_id = ANY($1::uuid[]) AND shipping_option_id = ANY($2::uuid[])`, productIDs, optionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key domain.BulkKey
		var price money.Money
		if err := rows.Scan(&key.ProductID, &key.ShippingOptionID, &price); err != nil {
			return nil, err
		}
		prices[key] = price
	}
	return prices, rows.Err()
}

// GetCustomerActivity summarises the customer facts issuance timing is checked against.
func (q *Queries) GetCustomerActivity(ctx context.Context, customerID string) (domain.CustomerActivity, error) {
	if err := q.ready(); err != nil {
		return domain.CustomerActivity{}, err
	}
	act := domain.CustomerActivity{CustomerID: customerID}
	err := q.db(ctx).QueryRow(ctx, `SELECT c.birthday::timestamptz,
       COALESCE((SELECT array_agg(group_id::text) FROM customer_group_members WHERE customer_id = c.id), '{}'),
       (SELECT COUNT(*) FROM orders o WHERE o.customer_id = c.id AND o.parent_id IS NULL AND o.status IN ('PLACED', 'SETTLED')),
       (SELECT COUNT(*) FROM reviews r WHERE r.customer_id = c.id),
       (SELECT COUNT(*) FROM favorites f WHERE f.customer_id = c.id),
       (SELECT COUNT(*) FROM store_follows sf WHERE sf.customer_id = c.id)
FROM customers c
WHERE c.id = $1`, customerID).Scan(&act.Birthday, &act.GroupIDs, &act.CompletedOrders, &act.Reviews, &act.Favorites, &act.Follows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return act, nil
		}
		return domain.CustomerActivity{}, err
	}
	return act, nil
}

// GetShippingOption loads a shipping option by id.
func (q *Queries) GetShippingOption(ctx context.Context, id string) (domain.ShippingOption, error) {
	if err := q.ready(); err != nil {
		return domain.ShippingOption{}, err
	}
	var opt domain.ShippingOption
	err := q.db(ctx).QueryRow(ctx, `SELECT id::text, store_id::text, name, price FROM shipping_options WHERE id = $1`, id).
		Scan(&opt.ID, &opt.StoreID, &opt.Name, &opt.Price)
	return opt, err
}

// GetVariant loads a variant together with the store that sells it.
func (q *Queries) GetVariant(ctx context.Context, id string) (domain.Variant, string, error) {
	if err := q.ready(); err != nil {
		return domain.Variant{}, "", err
	}
	var v domain.Variant
	var storeID string
	err := q.db(ctx).QueryRow(ctx, `SELECT v.id::text, v.product_id::text, v.title, v.price, p.store_id::text
FROM variants v
JOIN products p ON p.id = v.product_id
WHERE v.id = $1`, id).Scan(&v.ID, &v.ProductID, &v.Title, &v.Price, &storeID)
	return v, storeID, err
}
