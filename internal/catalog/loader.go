// Package catalog loads the store, product and customer lookups pricing depends on.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
	"github.com/noah-isme/toko-marketplace/internal/obs"
)

// Querier captures the batched lookups the loader issues. Every method answers
// for the whole id set in one round trip.
type Querier interface {
	GetStoresByIDs(ctx context.Context, ids []string) ([]domain.Store, error)
	GetProductsByIDs(ctx context.Context, ids []string) ([]domain.Product, error)
	CountActiveSalePrices(ctx context.Context, variantIDs []string, at time.Time) (map[string]int, error)
	GetBulkShippingPrices(ctx context.Context, productIDs, optionIDs []string) (map[domain.BulkKey]money.Money, error)
	GetCustomerActivity(ctx context.Context, customerID string) (domain.CustomerActivity, error)
}

// Loader builds pricing snapshots. Stores and products are read through Cache.
type Loader struct {
	Q      Querier
	Cache  *Cache
	Now    func() time.Time
	Logger *zerolog.Logger
}

func (l *Loader) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

// Load returns the snapshot for the given customer, items and shipping methods.
func (l *Loader) Load(ctx context.Context, customerID string, items []domain.LineItem, methods []domain.ShippingMethod) (domain.Snapshot, error) {
	if l == nil || l.Q == nil {
		return domain.Snapshot{}, errors.New("catalog loader not configured")
	}
	now := l.now()
	snap := domain.Snapshot{Now: now}

	storeIDs := uniq(len(items), func(add func(string)) {
		for _, it := range items {
			add(it.StoreID)
		}
	})
	productIDs := uniq(len(items), func(add func(string)) {
		for _, it := range items {
			add(it.ProductID)
		}
	})
	variantIDs := uniq(len(items), func(add func(string)) {
		for _, it := range items {
			add(it.VariantID)
		}
	})
	optionIDs := uniq(len(methods), func(add func(string)) {
		for _, m := range methods {
			add(m.ShippingOptionID)
		}
	})

	products, err := l.products(ctx, productIDs)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap.Products = products
	// a product may belong to a store no item names directly
	for _, p := range products {
		if p.StoreID != "" && !contains(storeIDs, p.StoreID) {
			storeIDs = append(storeIDs, p.StoreID)
		}
	}

	stores, err := l.stores(ctx, storeIDs)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap.Stores = stores

	if len(variantIDs) > 0 {
		counts, err := l.Q.CountActiveSalePrices(ctx, variantIDs, now)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("count sale prices: %w", err)
		}
		snap.SaleCounts = counts
	}
	if len(productIDs) > 0 && len(optionIDs) > 0 {
		bulk, err := l.Q.GetBulkShippingPrices(ctx, productIDs, optionIDs)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("get bulk shipping prices: %w", err)
		}
		snap.BulkPrices = bulk
	}
	if customerID != "" {
		activity, err := l.Q.GetCustomerActivity(ctx, customerID)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("get customer activity: %w", err)
		}
		snap.Customer = activity
	}
	return snap, nil
}

func (l *Loader) stores(ctx context.Context, ids []string) (map[string]domain.Store, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = storeCacheKey(id)
	}
	cached, err := getMany[domain.Store](ctx, l.Cache, keys)
	if err != nil {
		obs.LoggerOrNop(l.Logger).Warn().Err(err).Int("stores", len(ids)).Msg("read store cache")
	}
	out := make(map[string]domain.Store, len(ids))
	var missing []string
	for i, id := range ids {
		if st, ok := cached[keys[i]]; ok {
			out[id] = st
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}
	rows, err := l.Q.GetStoresByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("get stores: %w", err)
	}
	fresh := make(map[string]any, len(rows))
	for _, st := range rows {
		out[st.ID] = st
		fresh[storeCacheKey(st.ID)] = st
	}
	if err := l.Cache.setMany(ctx, fresh); err != nil {
		obs.LoggerOrNop(l.Logger).Warn().Err(err).Msg("write store cache")
	}
	return out, nil
}

func (l *Loader) products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productCacheKey(id)
	}
	cached, err := getMany[domain.Product](ctx, l.Cache, keys)
	if err != nil {
		obs.LoggerOrNop(l.Logger).Warn().Err(err).Int("products", len(ids)).Msg("read product cache")
	}
	out := make(map[string]domain.Product, len(ids))
	var missing []string
	for i, id := range ids {
		if p, ok := cached[keys[i]]; ok {
			out[id] = p
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}
	rows, err := l.Q.GetProductsByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	fresh := make(map[string]any, len(rows))
	for _, p := range rows {
		out[p.ID] = p
		fresh[productCacheKey(p.ID)] = p
	}
	if err := l.Cache.setMany(ctx, fresh); err != nil {
		obs.LoggerOrNop(l.Logger).Warn().Err(err).Msg("write product cache")
	}
	return out, nil
}

// InvalidateStore drops the cached store so the next load reads it again.
func (l *Loader) InvalidateStore(ctx context.Context, storeID string) error {
	return l.Cache.Delete(ctx, storeCacheKey(storeID))
}

func storeCacheKey(id string) string {
	return "catalog:store:" + id
}

func productCacheKey(id string) string {
	return "catalog:product:" + id
}

func uniq(capacity int, fill func(add func(string))) []string {
	seen := make(map[string]struct{}, capacity)
	out := make([]string, 0, capacity)
	fill(func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	})
	sort.Strings(out)
	return out
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
