package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noah-isme/toko-marketplace/internal/db"
	"github.com/noah-isme/toko-marketplace/internal/discount"
	"github.com/noah-isme/toko-marketplace/internal/domain"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	m, err := db.NewMigrate(dsn)
	require.NoError(t, err)
	require.NoError(t, db.Up(m))
	_, _ = m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

type fixture struct {
	storeA, storeB     string
	productA, productB string
	variantA, variantB string
	optionA            string
	customer           string
}

func seed(t *testing.T, pool *pgxpool.Pool) fixture {
	t.Helper()
	ctx := context.Background()
	var f fixture
	row := func(sql string, args ...any) string {
		var id string
		require.NoError(t, pool.QueryRow(ctx, sql, args...).Scan(&id))
		return id
	}
	f.storeA = row(`INSERT INTO stores (name, tier, free_ship_amount) VALUES ('A', 'STANDARD', 10000) RETURNING id::text`)
	f.storeB = row(`INSERT INTO stores (name, tier) VALUES ('B', 'PRIME') RETURNING id::text`)
	f.productA = row(`INSERT INTO products (store_id, title) VALUES ($1, 'PA') RETURNING id::text`, f.storeA)
	f.productB = row(`INSERT INTO products (store_id, title) VALUES ($1, 'PB') RETURNING id::text`, f.storeB)
	f.variantA = row(`INSERT INTO variants (product_id, title, price) VALUES ($1, 'VA', 1000) RETURNING id::text`, f.productA)
	f.variantB = row(`INSERT INTO variants (product_id, title, price) VALUES ($1, 'VB', 2000) RETURNING id::text`, f.productB)
	f.optionA = row(`INSERT INTO shipping_options (store_id, name, price) VALUES ($1, 'Regular', 500) RETURNING id::text`, f.storeA)
	f.customer = row(`INSERT INTO customers (email) VALUES ('c@example.com') RETURNING id::text`)
	_, err := pool.Exec(ctx, `INSERT INTO bulk_shipping_prices (product_id, shipping_option_id, price) VALUES ($1, $2, 100)`, f.productA, f.optionA)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO sale_prices (variant_id, amount, starts_at) VALUES ($1, 900, now() - interval '1 day')`, f.variantA)
	require.NoError(t, err)
	return f
}

func TestIntegrationCatalogLookups(t *testing.T) {
	pool := setupTestDB(t)
	f := seed(t, pool)
	q := New(pool)
	ctx := context.Background()

	stores, err := q.GetStoresByIDs(ctx, []string{f.storeA, f.storeB})
	require.NoError(t, err)
	require.Len(t, stores, 2)

	counts, err := q.CountActiveSalePrices(ctx, []string{f.variantA, f.variantB}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, counts[f.variantA])
	require.Zero(t, counts[f.variantB])

	bulk, err := q.GetBulkShippingPrices(ctx, []string{f.productA}, []string{f.optionA})
	require.NoError(t, err)
	require.EqualValues(t, 100, bulk[domain.BulkKey{ProductID: f.productA, ShippingOptionID: f.optionA}])

	act, err := q.GetCustomerActivity(ctx, f.customer)
	require.NoError(t, err)
	require.Zero(t, act.CompletedOrders)
}

func TestIntegrationCartRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	f := seed(t, pool)
	q := New(pool)
	tx := Transactor{Pool: pool, MaxRetries: 2}
	ctx := context.Background()

	var cartID string
	err := tx.InTx(ctx, func(ctx context.Context) error {
		c, err := q.CreateCart(ctx, domain.Cart{CustomerID: f.customer})
		if err != nil {
			return err
		}
		cartID = c.ID
		item, err := q.InsertLineItem(ctx, domain.LineItem{CartID: c.ID, VariantID: f.variantA, ProductID: f.productA,
			StoreID: f.storeA, Title: "VA", Quantity: 2, UnitPrice: 1000})
		if err != nil {
			return err
		}
		if _, err := q.UpsertShippingMethod(ctx, domain.ShippingMethod{LineItemID: item.ID, ShippingOptionID: f.optionA, Price: 500}); err != nil {
			return err
		}
		d, err := q.InsertDiscount(ctx, domain.Discount{Code: "SAVE10", Kind: domain.DiscountKindCoupon,
			Rule: domain.DiscountRule{Type: domain.RulePercentage, Value: 10, Conditions: []domain.DiscountCondition{
				{Type: domain.ConditionProducts, Operator: domain.OperatorIn, ResourceIDs: []string{f.productA}},
			}}})
		if err != nil {
			return err
		}
		return q.AttachCartDiscount(ctx, c.ID, d.ID)
	})
	require.NoError(t, err)

	c, err := q.GetCart(ctx, cartID)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Len(t, c.ShippingMethods, 1)
	require.Equal(t, c.ShippingMethods[0].ID, c.Items[0].ShippingMethodID)
	require.Len(t, c.Discounts, 1)
	require.Len(t, c.Discounts[0].Rule.Conditions, 1)
	require.Equal(t, []string{f.productA}, c.Discounts[0].Rule.Conditions[0].ResourceIDs)

	byCode, err := q.GetDiscountByCode(ctx, "SAVE10")
	require.NoError(t, err)
	require.Equal(t, c.Discounts[0].ID, byCode.ID)

	c.Subtotal, c.Total = 2000, 2300
	c.Items[0].Subtotal = 2000
	require.NoError(t, q.SaveCartTotals(ctx, c))
	reloaded, err := q.GetCart(ctx, cartID)
	require.NoError(t, err)
	require.EqualValues(t, 2300, reloaded.Total)
	require.EqualValues(t, 2000, reloaded.Items[0].Subtotal)
}

func TestIntegrationRollbackOnError(t *testing.T) {
	pool := setupTestDB(t)
	f := seed(t, pool)
	q := New(pool)
	tx := Transactor{Pool: pool}
	ctx := context.Background()

	boom := errors.New("boom")
	var cartID string
	err := tx.InTx(ctx, func(ctx context.Context) error {
		c, err := q.CreateCart(ctx, domain.Cart{CustomerID: f.customer})
		if err != nil {
			return err
		}
		cartID = c.ID
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = q.GetCart(ctx, cartID)
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestIntegrationChildOrdersAreUniquePerStore(t *testing.T) {
	pool := setupTestDB(t)
	f := seed(t, pool)
	q := New(pool)
	ctx := context.Background()

	parent, err := q.InsertOrder(ctx, domain.Order{CustomerID: f.customer, Status: domain.OrderPlaced,
		Items: []domain.LineItem{{ID: "tmp", VariantID: f.variantA, ProductID: f.productA, StoreID: f.storeA, Title: "VA", Quantity: 1, UnitPrice: 1000}}})
	require.NoError(t, err)
	require.Len(t, parent.Items, 1)
	require.Equal(t, parent.ID, parent.Items[0].OrderID)

	display, err := q.NextStoreDisplayID(ctx, f.storeA)
	require.NoError(t, err)
	require.EqualValues(t, 1, display)
	display, err = q.NextStoreDisplayID(ctx, f.storeA)
	require.NoError(t, err)
	require.EqualValues(t, 2, display)

	child := domain.Order{ParentID: parent.ID, StoreID: f.storeA, CustomerID: f.customer, Status: domain.OrderPlaced}
	_, err = q.InsertOrder(ctx, child)
	require.NoError(t, err)
	_, err = q.InsertOrder(ctx, child)
	require.True(t, IsUniqueViolation(err))

	children, err := q.ListChildOrders(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)

	require.NoError(t, q.InsertPromoUsage(ctx, discount.PromoUsage{DiscountID: mustDiscount(t, q), OrderID: parent.ID, CustomerID: f.customer, Amount: 10}))
}

func mustDiscount(t *testing.T, q *Queries) string {
	t.Helper()
	d, err := q.InsertDiscount(context.Background(), domain.Discount{Code: "PROMO", Kind: domain.DiscountKindPromoCode,
		Rule: domain.DiscountRule{Type: domain.RuleFixed, Value: 10}})
	require.NoError(t, err)
	return d.ID
}

func TestIntegrationPointLedger(t *testing.T) {
	pool := setupTestDB(t)
	f := seed(t, pool)
	q := New(pool)
	ctx := context.Background()

	require.NoError(t, q.InsertPointLedger(ctx, domain.PointLedgerEntry{ID: "00000000-0000-0000-0000-000000000001", CustomerID: f.customer, Points: 500, Reason: "grant"}))
	require.NoError(t, q.InsertPointLedger(ctx, domain.PointLedgerEntry{ID: "00000000-0000-0000-0000-000000000002", CustomerID: f.customer, Points: -200, Reason: "order_spend"}))
	balance, err := q.SumPointsByCustomer(ctx, f.customer)
	require.NoError(t, err)
	require.EqualValues(t, 300, balance)

	err = Transactor{Pool: pool}.InTx(ctx, func(ctx context.Context) error {
		return q.LockPointBalance(ctx, f.customer)
	})
	require.NoError(t, err)
}
