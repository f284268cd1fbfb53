package catalog

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
)

type stubQueries struct {
	storeCalls   int
	productCalls int
	stores       map[string]domain.Store
	products     map[string]domain.Product
}

func (s *stubQueries) GetStoresByIDs(_ context.Context, ids []string) ([]domain.Store, error) {
	s.storeCalls++
	var out []domain.Store
	for _, id := range ids {
		if st, ok := s.stores[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *stubQueries) GetProductsByIDs(_ context.Context, ids []string) ([]domain.Product, error) {
	s.productCalls++
	var out []domain.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubQueries) CountActiveSalePrices(_ context.Context, variantIDs []string, _ time.Time) (map[string]int, error) {
	return map[string]int{"v-1": 1}, nil
}

func (s *stubQueries) GetBulkShippingPrices(_ context.Context, productIDs, optionIDs []string) (map[domain.BulkKey]money.Money, error) {
	return map[domain.BulkKey]money.Money{{ProductID: "p-1", ShippingOptionID: "o-1"}: 100}, nil
}

func (s *stubQueries) GetCustomerActivity(_ context.Context, customerID string) (domain.CustomerActivity, error) {
	return domain.CustomerActivity{CustomerID: customerID, CompletedOrders: 2}, nil
}

func TestLoaderBatchesAndCaches(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := &stubQueries{
		stores: map[string]domain.Store{
			"s-1": {ID: "s-1", Tier: domain.StoreTierPrime, GroupIDs: []string{"g-1"}},
			"s-2": {ID: "s-2", Tier: domain.StoreTierStandard},
		},
		products: map[string]domain.Product{
			"p-1": {ID: "p-1", StoreID: "s-1", TypeLv1ID: "t-1"},
			"p-2": {ID: "p-2", StoreID: "s-2"},
		},
	}
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	loader := &Loader{Q: q, Cache: NewCache(client, time.Minute), Now: func() time.Time { return now }}

	items := []domain.LineItem{
		{ID: "li-1", VariantID: "v-1", ProductID: "p-1", StoreID: "s-1"},
		{ID: "li-2", VariantID: "v-2", ProductID: "p-2", StoreID: "s-2"},
		{ID: "li-3", VariantID: "v-3", ProductID: "p-1", StoreID: "s-1"},
	}
	methods := []domain.ShippingMethod{{ID: "m-1", LineItemID: "li-1", ShippingOptionID: "o-1"}}

	snap, err := loader.Load(context.Background(), "cust-1", items, methods)
	require.NoError(t, err)
	require.Equal(t, 1, q.storeCalls)
	require.Equal(t, 1, q.productCalls)
	require.Equal(t, now, snap.Now)
	require.Equal(t, 1, snap.SaleCount("v-1"))
	bulk, ok := snap.BulkPrice("p-1", "o-1")
	require.True(t, ok)
	require.Equal(t, money.Money(100), bulk)
	require.Equal(t, int64(2), snap.Customer.CompletedOrders)
	store, ok := snap.Store("s-1")
	require.True(t, ok)
	require.Equal(t, []string{"g-1"}, store.GroupIDs)

	_, err = loader.Load(context.Background(), "cust-1", items, methods)
	require.NoError(t, err)
	require.Equal(t, 1, q.storeCalls, "stores must come from cache")
	require.Equal(t, 1, q.productCalls, "products must come from cache")

	require.NoError(t, loader.InvalidateStore(context.Background(), "s-1"))
	_, err = loader.Load(context.Background(), "cust-1", items, methods)
	require.NoError(t, err)
	require.Equal(t, 2, q.storeCalls)
}

func TestLoaderWithoutCache(t *testing.T) {
	q := &stubQueries{stores: map[string]domain.Store{"s-1": {ID: "s-1"}}}
	loader := &Loader{Q: q}
	snap, err := loader.Load(context.Background(), "", []domain.LineItem{{ID: "li", StoreID: "s-1"}}, nil)
	require.NoError(t, err)
	_, ok := snap.Store("s-1")
	require.True(t, ok)
	require.Empty(t, snap.Customer.CustomerID)
}
