package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-marketplace/internal/common"
	"github.com/noah-isme/toko-marketplace/internal/discount"
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/events"
	"github.com/noah-isme/toko-marketplace/internal/lock"
	"github.com/noah-isme/toko-marketplace/internal/money"
	"github.com/noah-isme/toko-marketplace/internal/points"
)

type variantRow struct {
	variant domain.Variant
	storeID string
}

type memStore struct {
	carts       map[string]*domain.Cart
	cartDiscIDs map[string][]string
	discounts   map[string]domain.Discount
	variants    map[string]variantRow
	options     map[string]domain.ShippingOption
	saved       int
}

func newMemStore() *memStore {
	return &memStore{
		carts:       map[string]*domain.Cart{},
		cartDiscIDs: map[string][]string{},
		discounts:   map[string]domain.Discount{},
		variants: map[string]variantRow{
			"var-a": {variant: domain.Variant{ID: "var-a", ProductID: "prod-a", Title: "Shirt", Price: 1000}, storeID: "store-1"},
			"var-b": {variant: domain.Variant{ID: "var-b", ProductID: "prod-b", Title: "Mug", Price: 2000}, storeID: "store-2"},
		},
		options: map[string]domain.ShippingOption{
			"opt-1": {ID: "opt-1", StoreID: "store-1", Name: "Regular", Price: 500},
		},
	}
}

func (m *memStore) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	c, ok := m.carts[id]
	if !ok {
		return domain.Cart{}, pgx.ErrNoRows
	}
	out := *c
	out.Items = append([]domain.LineItem(nil), c.Items...)
	out.ShippingMethods = append([]domain.ShippingMethod(nil), c.ShippingMethods...)
	out.Discounts = nil
	for _, id := range m.cartDiscIDs[id] {
		out.Discounts = append(out.Discounts, m.discounts[id])
	}
	return out, nil
}

func (m *memStore) LockCart(ctx context.Context, id string) error {
	if _, ok := m.carts[id]; !ok {
		return pgx.ErrNoRows
	}
	return nil
}

func (m *memStore) GetVariant(ctx context.Context, id string) (domain.Variant, string, error) {
	row, ok := m.variants[id]
	if !ok {
		return domain.Variant{}, "", pgx.ErrNoRows
	}
	return row.variant, row.storeID, nil
}

func (m *memStore) GetShippingOption(ctx context.Context, id string) (domain.ShippingOption, error) {
	opt, ok := m.options[id]
	if !ok {
		return domain.ShippingOption{}, pgx.ErrNoRows
	}
	return opt, nil
}

func (m *memStore) InsertLineItem(ctx context.Context, item domain.LineItem) (domain.LineItem, error) {
	c := m.carts[item.CartID]
	c.Items = append(c.Items, item)
	return item, nil
}

func (m *memStore) UpdateLineItemQuantity(ctx context.Context, id string, quantity int) error {
	for _, c := range m.carts {
		for i := range c.Items {
			if c.Items[i].ID == id {
				c.Items[i].Quantity = quantity
			}
		}
	}
	return nil
}

func (m *memStore) DeleteLineItem(ctx context.Context, id string) error {
	for _, c := range m.carts {
		items := c.Items[:0]
		for _, it := range c.Items {
			if it.ID != id {
				items = append(items, it)
			}
		}
		c.Items = items
		methods := c.ShippingMethods[:0]
		for _, sm := range c.ShippingMethods {
			if sm.LineItemID != id {
				methods = append(methods, sm)
			}
		}
		c.ShippingMethods = methods
	}
	return nil
}

func (m *memStore) UpsertShippingMethod(ctx context.Context, sm domain.ShippingMethod) (domain.ShippingMethod, error) {
	for _, c := range m.carts {
		for i := range c.Items {
			if c.Items[i].ID != sm.LineItemID {
				continue
			}
			if sm.ID == "" {
				sm.ID = uuid.NewString()
			}
			c.Items[i].ShippingMethodID = sm.ID
			for j := range c.ShippingMethods {
				if c.ShippingMethods[j].LineItemID == sm.LineItemID {
					c.ShippingMethods[j] = sm
					return sm, nil
				}
			}
			c.ShippingMethods = append(c.ShippingMethods, sm)
			return sm, nil
		}
	}
	return domain.ShippingMethod{}, pgx.ErrNoRows
}

func (m *memStore) AttachCartDiscount(ctx context.Context, cartID, discountID string) error {
	m.cartDiscIDs[cartID] = append(m.cartDiscIDs[cartID], discountID)
	return nil
}

func (m *memStore) DetachCartDiscount(ctx context.Context, cartID, discountID string) error {
	ids := m.cartDiscIDs[cartID][:0]
	for _, id := range m.cartDiscIDs[cartID] {
		if id != discountID {
			ids = append(ids, id)
		}
	}
	m.cartDiscIDs[cartID] = ids
	return nil
}

func (m *memStore) InsertDiscount(ctx context.Context, d domain.Discount) (domain.Discount, error) {
	d.ID = uuid.NewString()
	d.Rule.ID = uuid.NewString()
	m.discounts[d.ID] = d
	return d, nil
}

func (m *memStore) UpdateDiscountRuleValue(ctx context.Context, ruleID string, value int64) error {
	for id, d := range m.discounts {
		if d.Rule.ID == ruleID {
			d.Rule.Value = value
			m.discounts[id] = d
		}
	}
	return nil
}

func (m *memStore) SaveCartTotals(ctx context.Context, c domain.Cart) error {
	stored := m.carts[c.ID]
	stored.Totals = c.Totals
	m.saved++
	return nil
}

func (m *memStore) GetDiscountByCode(ctx context.Context, code string) (domain.Discount, error) {
	for _, d := range m.discounts {
		if d.Code == code {
			return d, nil
		}
	}
	return domain.Discount{}, pgx.ErrNoRows
}

func (m *memStore) CountPromoUsageByCustomer(ctx context.Context, discountID, customerID string) (int64, error) {
	return 0, nil
}

func (m *memStore) PromoUsageExists(ctx context.Context, discountID, orderID string) (bool, error) {
	return false, nil
}

func (m *memStore) InsertPromoUsage(ctx context.Context, usage discount.PromoUsage) error {
	return nil
}

type inlineTx struct{ calls int }

func (t *inlineTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

type fixedLoader struct{ snap domain.Snapshot }

func (l fixedLoader) Load(ctx context.Context, customerID string, items []domain.LineItem, methods []domain.ShippingMethod) (domain.Snapshot, error) {
	snap := l.snap
	snap.Customer.CustomerID = customerID
	return snap, nil
}

type recordingPublisher struct{ pending []events.Pending }

func (p *recordingPublisher) Publish(ctx context.Context, pending ...events.Pending) error {
	p.pending = append(p.pending, pending...)
	return nil
}

type balanceLedger struct{ balance int64 }

func (b balanceLedger) SumPointsByCustomer(ctx context.Context, customerID string) (int64, error) {
	return b.balance, nil
}

func (b balanceLedger) InsertPointLedger(ctx context.Context, entry domain.PointLedgerEntry) error {
	return nil
}

func (b balanceLedger) ListPointLedgerByOrder(ctx context.Context, orderID string) ([]domain.PointLedgerEntry, error) {
	return nil, nil
}

type harness struct {
	svc   *Service
	store *memStore
	tx    *inlineTx
	pub   *recordingPublisher
}

func newHarness(t *testing.T, balance int64) harness {
	t.Helper()
	store := newMemStore()
	store.carts["cart-1"] = &domain.Cart{ID: "cart-1", CustomerID: "cust-1"}
	tx := &inlineTx{}
	pub := &recordingPublisher{}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := &Service{
		Q:         store,
		Tx:        tx,
		Catalog:   fixedLoader{snap: domain.Snapshot{Now: now, Stores: map[string]domain.Store{"store-1": {ID: "store-1", Tier: domain.StoreTierStandard}, "store-2": {ID: "store-2", Tier: domain.StoreTierStandard}}}},
		Discounts: &discount.Service{Q: store},
		Points:    &points.Service{Q: balanceLedger{balance: balance}},
		Events:    pub,
		Now:       func() time.Time { return now },
	}
	return harness{svc: svc, store: store, tx: tx, pub: pub}
}

func TestAddLineItemRecomputesTotals(t *testing.T) {
	h := newHarness(t, 0)
	got, err := h.svc.AddLineItem(context.Background(), AddLineItemInput{CartID: "cart-1", VariantID: "var-a", Quantity: 2})
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.Equal(t, money.Money(2000), got.Subtotal)
	require.Equal(t, money.Money(2000), got.Total)
	require.Equal(t, money.Money(2000), h.store.carts["cart-1"].Total)
	require.Equal(t, 1, h.store.saved)
	require.Len(t, h.pub.pending, 1)
	require.Equal(t, events.TopicCartUpdated, h.pub.pending[0].Topic)
	require.Equal(t, OpAddLineItem, h.pub.pending[0].Payload.(UpdatedPayload).Operation)
}

func TestAddLineItemValidation(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.svc.AddLineItem(context.Background(), AddLineItemInput{CartID: "cart-1", VariantID: "var-a"})
	require.ErrorIs(t, err, common.ErrInvalidData)
	require.Zero(t, h.tx.calls)

	_, err = h.svc.AddLineItem(context.Background(), AddLineItemInput{CartID: "cart-1", VariantID: "missing", Quantity: 1})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestMutationOfUnknownCart(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.svc.AddLineItem(context.Background(), AddLineItemInput{CartID: "nope", VariantID: "var-a", Quantity: 1})
	require.ErrorIs(t, err, common.ErrNotFound)
	require.Empty(t, h.pub.pending)
}

func TestCompletedCartIsImmutable(t *testing.T) {
	h := newHarness(t, 0)
	done := time.Now()
	h.store.carts["cart-1"].CompletedAt = &done
	_, err := h.svc.AddLineItem(context.Background(), AddLineItemInput{CartID: "cart-1", VariantID: "var-a", Quantity: 1})
	require.ErrorIs(t, err, common.ErrNotAllowed)
}

func TestUpdateAndRemoveLineItem(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	got, err := h.svc.AddLineItem(ctx, AddLineItemInput{CartID: "cart-1", VariantID: "var-a", Quantity: 1})
	require.NoError(t, err)
	itemID := got.Items[0].ID

	got, err = h.svc.UpdateLineItem(ctx, UpdateLineItemInput{CartID: "cart-1", LineItemID: itemID, Quantity: 3})
	require.NoError(t, err)
	require.Equal(t, money.Money(3000), got.Total)

	got, err = h.svc.UpdateLineItem(ctx, UpdateLineItemInput{CartID: "cart-1", LineItemID: itemID, Quantity: 0})
	require.NoError(t, err)
	require.Empty(t, got.Items)
	require.Zero(t, got.Total)

	_, err = h.svc.RemoveLineItem(ctx, RemoveLineItemInput{CartID: "cart-1", LineItemID: itemID})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestApplyAndRemoveDiscount(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.store.discounts["disc-1"] = domain.Discount{ID: "disc-1", Code: "SAVE10", Kind: domain.DiscountKindCoupon,
		Status: domain.DiscountActive, Rule: domain.DiscountRule{ID: "rule-1", Type: domain.RulePercentage, Value: 10}}

	_, err := h.svc.AddLineItem(ctx, AddLineItemInput{CartID: "cart-1", VariantID: "var-a", Quantity: 2})
	require.NoError(t, err)

	got, err := h.svc.ApplyDiscount(ctx, ApplyDiscountInput{CartID: "cart-1", Code: " save10 "})
	require.NoError(t, err)
	require.Equal(t, money.Money(200), got.DiscountTotal)
	require.Equal(t, money.Money(1800), got.Total)

	_, err = h.svc.ApplyDiscount(ctx, ApplyDiscountInput{CartID: "cart-1", Code: "SAVE10"})
	require.ErrorIs(t, err, common.ErrDuplicate)

	got, err = h.svc.RemoveDiscount(ctx, RemoveDiscountInput{CartID: "cart-1", DiscountID: "disc-1"})
	require.NoError(t, err)
	require.Equal(t, money.Money(2000), got.Total)
}

func TestApplyDiscountBelowAmountLimit(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.store.discounts["disc-1"] = domain.Discount{ID: "disc-1", Code: "BIG", Kind: domain.DiscountKindCoupon,
		Status: domain.DiscountActive, AmountLimit: 5000, Rule: domain.DiscountRule{ID: "rule-1", Type: domain.RuleFixed, Value: 100}}
	_, err := h.svc.AddLineItem(ctx, AddLineItemInput{CartID: "cart-1", VariantID: "var-a", Quantity: 1})
	require.NoError(t, err)

	_, err = h.svc.ApplyDiscount(ctx, ApplyDiscountInput{CartID: "cart-1", Code: "BIG"})
	require.ErrorIs(t, err, common.ErrInvalidData)
	require.Empty(t, h.store.cartDiscIDs["cart-1"])
}

func TestSetUsedPointChecksBalance(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	_, err := h.svc.AddLineItem(ctx, AddLineItemInput{CartID: "cart-1", VariantID: "var-a", Quantity: 1})
	require.NoError(t, err)

	_, err = h.svc.SetUsedPoint(ctx, SetUsedPointInput{CartID: "cart-1", Points: 500})
	require.ErrorIs(t, err, common.ErrNotAllowed)
}

func TestSetUsedPointClampsToTotal(t *testing.T) {
	h := newHarness(t, 100_000)
	ctx := context.Background()
	_, err := h.svc.AddLineItem(ctx, AddLineItemInput{CartID: "cart-1", VariantID: "var-a", Quantity: 2})
	require.NoError(t, err)

	got, err := h.svc.SetUsedPoint(ctx, SetUsedPointInput{CartID: "cart-1", Points: 5000})
	require.NoError(t, err)
	require.Equal(t, int64(2000), got.UsedPoint)
	require.Zero(t, got.Total)

	pointDiscount, ok := domain.FindDiscount(got.Discounts, domain.DiscountKindPoint)
	require.True(t, ok)
	require.Equal(t, int64(2000), h.store.discounts[pointDiscount.ID].Rule.Value)

	got, err = h.svc.SetUsedPoint(ctx, SetUsedPointInput{CartID: "cart-1", Points: 0})
	require.NoError(t, err)
	require.Zero(t, got.UsedPoint)
	require.Equal(t, money.Money(2000), got.Total)
}

func TestSetUsedPointRequiresCustomer(t *testing.T) {
	h := newHarness(t, 100)
	h.store.carts["cart-1"].CustomerID = ""
	_, err := h.svc.SetUsedPoint(context.Background(), SetUsedPointInput{CartID: "cart-1", Points: 10})
	require.ErrorIs(t, err, common.ErrNotAllowed)
}

func TestUpsertShippingMethod(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	got, err := h.svc.AddLineItem(ctx, AddLineItemInput{CartID: "cart-1", VariantID: "var-a", Quantity: 1})
	require.NoError(t, err)
	itemA := got.Items[0].ID
	got, err = h.svc.AddLineItem(ctx, AddLineItemInput{CartID: "cart-1", VariantID: "var-b", Quantity: 1})
	require.NoError(t, err)
	var itemB string
	for _, it := range got.Items {
		if it.ID != itemA {
			itemB = it.ID
		}
	}

	got, err = h.svc.UpsertShippingMethod(ctx, UpsertShippingMethodInput{CartID: "cart-1", LineItemID: itemA, ShippingOptionID: "opt-1"})
	require.NoError(t, err)
	require.Equal(t, money.Money(500), got.ShippingTotal)
	require.Equal(t, money.Money(3500), got.Total)

	_, err = h.svc.UpsertShippingMethod(ctx, UpsertShippingMethodInput{CartID: "cart-1", LineItemID: itemB, ShippingOptionID: "opt-1"})
	require.ErrorIs(t, err, common.ErrInvalidData)

	_, err = h.svc.UpsertShippingMethod(ctx, UpsertShippingMethodInput{CartID: "cart-1", LineItemID: itemA, ShippingOptionID: "opt-x"})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestTotalsDoesNotPersist(t *testing.T) {
	h := newHarness(t, 0)
	h.store.carts["cart-1"].Items = []domain.LineItem{{ID: "li-1", CartID: "cart-1", ProductID: "prod-a", StoreID: "store-1", VariantID: "var-a", Quantity: 4, UnitPrice: 250}}
	got, err := h.svc.Totals(context.Background(), "cart-1")
	require.NoError(t, err)
	require.Equal(t, money.Money(1000), got.Total)
	require.Zero(t, h.store.saved)
	require.Zero(t, h.store.carts["cart-1"].Total)
}

func TestMutationHoldsCartLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, 0)
	h.svc.Locker = lock.Locker{R: rdb, RetryBackoff: 5 * time.Millisecond}
	h.svc.LockTTL = time.Second

	h.store.variants["var-a"] = variantRow{variant: domain.Variant{ID: "var-a", ProductID: "prod-a", Price: 1000}, storeID: "store-1"}
	_, err := h.svc.AddLineItem(context.Background(), AddLineItemInput{CartID: "cart-1", VariantID: "var-a", Quantity: 1})
	require.NoError(t, err)
	require.False(t, mr.Exists(lock.CartKey("cart-1")), "lock must be released after the mutation")

	require.NoError(t, rdb.Set(context.Background(), lock.CartKey("cart-1"), "other", time.Minute).Err())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = h.svc.AddLineItem(ctx, AddLineItemInput{CartID: "cart-1", VariantID: "var-a", Quantity: 1})
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestServiceNotConfigured(t *testing.T) {
	var svc *Service
	_, err := svc.Totals(context.Background(), "cart-1")
	require.Error(t, err)
}
