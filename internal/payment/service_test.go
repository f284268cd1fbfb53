package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-marketplace/internal/common"
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
	"github.com/noah-isme/toko-marketplace/internal/resilience"
)

type memPayments struct {
	byOrder map[string][]domain.Payment
}

func (m *memPayments) ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return append([]domain.Payment(nil), m.byOrder[orderID]...), nil
}

func (m *memPayments) InsertPayment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	p.ID = uuid.NewString()
	m.byOrder[p.OrderID] = append(m.byOrder[p.OrderID], p)
	return p, nil
}

func (m *memPayments) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus, capturedAt *time.Time) error {
	for order, list := range m.byOrder {
		for i := range list {
			if list[i].ID == id {
				list[i].Status = status
				if capturedAt != nil {
					list[i].CapturedAt = capturedAt
				}
				m.byOrder[order] = list
				return nil
			}
		}
	}
	return errors.New("payment not found")
}

type flakyProvider struct {
	failures int
	calls    int
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) Capture(ctx context.Context, p domain.Payment) (map[string]any, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("gateway timeout")
	}
	return map[string]any{"ref": "abc"}, nil
}

func (f *flakyProvider) Cancel(ctx context.Context, p domain.Payment) error { return nil }

func newStore() *memPayments {
	return &memPayments{byOrder: map[string][]domain.Payment{
		"parent": {{ID: "pay-1", OrderID: "parent", Provider: "manual", Amount: 1001, Status: domain.PaymentAuthorized}},
	}}
}

func TestCaptureAndIdempotence(t *testing.T) {
	store := newStore()
	manual := &ManualProvider{}
	svc := &Service{Q: store, Providers: map[string]Provider{"manual": manual}}

	p, err := svc.Capture(context.Background(), "parent")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentCaptured, p.Status)
	require.NotNil(t, p.CapturedAt)

	again, err := svc.Capture(context.Background(), "parent")
	require.NoError(t, err)
	require.Equal(t, p.ID, again.ID)
	require.Equal(t, []string{"pay-1"}, manual.Captured())
}

func TestCaptureRetriesThroughProvider(t *testing.T) {
	store := newStore()
	store.byOrder["parent"][0].Provider = "flaky"
	flaky := &flakyProvider{failures: 2}
	svc := &Service{
		Q:         store,
		Providers: map[string]Provider{"flaky": flaky},
		Caller:    resilience.Caller{MaxAttempts: 3, BaseBackoff: time.Millisecond},
		Breaker:   resilience.BreakerConfig{MinRequests: 10},
	}
	p, err := svc.Capture(context.Background(), "parent")
	require.NoError(t, err)
	require.Equal(t, 3, flaky.calls)
	require.Equal(t, "abc", p.Data["ref"])
}

func TestCaptureWithoutAuthorization(t *testing.T) {
	svc := &Service{Q: &memPayments{byOrder: map[string][]domain.Payment{}}, Providers: map[string]Provider{}}
	_, err := svc.Capture(context.Background(), "parent")
	require.ErrorIs(t, err, common.ErrUnexpectedState)

	store := newStore()
	store.byOrder["parent"][0].Provider = "unknown"
	svc = &Service{Q: store}
	_, err = svc.Capture(context.Background(), "parent")
	require.ErrorIs(t, err, common.ErrInvalidData)
}

func TestCloneForChildrenSplitsByTotal(t *testing.T) {
	store := newStore()
	svc := &Service{Q: store, Providers: map[string]Provider{"manual": &ManualProvider{}}}
	parent, err := svc.Capture(context.Background(), "parent")
	require.NoError(t, err)

	children := []domain.Order{
		{ID: "child-a", Totals: domain.Totals{Total: 500}},
		{ID: "child-b", Totals: domain.Totals{Total: 250}},
		{ID: "child-c", Totals: domain.Totals{Total: 250}},
	}
	clones, err := svc.CloneForChildren(context.Background(), parent, children)
	require.NoError(t, err)
	require.Len(t, clones, 3)
	amounts := []money.Money{clones[0].Amount, clones[1].Amount, clones[2].Amount}
	require.Equal(t, []money.Money{501, 250, 250}, amounts)
	for _, c := range clones {
		require.Equal(t, parent.ID, c.ParentPaymentID)
		require.Equal(t, domain.PaymentCaptured, c.Status)
	}

	again, err := svc.CloneForChildren(context.Background(), parent, children)
	require.NoError(t, err)
	require.Equal(t, clones[0].ID, again[0].ID)
	require.Len(t, store.byOrder["child-a"], 1)
}

func TestCancelVoidsParentAndClones(t *testing.T) {
	store := newStore()
	manual := &ManualProvider{}
	svc := &Service{Q: store, Providers: map[string]Provider{"manual": manual}}
	parent, err := svc.Capture(context.Background(), "parent")
	require.NoError(t, err)
	_, err = svc.CloneForChildren(context.Background(), parent, []domain.Order{{ID: "child-a", Totals: domain.Totals{Total: 1}}})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), "parent", []string{"child-a"}))
	require.Equal(t, domain.PaymentCanceled, store.byOrder["parent"][0].Status)
	require.Equal(t, domain.PaymentCanceled, store.byOrder["child-a"][0].Status)
}

type denyThrottle struct{ keys []string }

func (d *denyThrottle) Allow(ctx context.Context, key string) error {
	d.keys = append(d.keys, key)
	return errors.New("slow down")
}

func TestCaptureHonoursThrottle(t *testing.T) {
	manual := &ManualProvider{}
	throttle := &denyThrottle{}
	svc := &Service{Q: newStore(), Providers: map[string]Provider{"manual": manual}, Throttle: throttle}

	_, err := svc.Capture(context.Background(), "parent")
	require.Error(t, err)
	require.Equal(t, []string{"payment:manual"}, throttle.keys)
	require.Empty(t, manual.Captured())
}
