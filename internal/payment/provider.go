package payment

import (
	"context"
	"sync"

	"github.com/noah-isme/toko-marketplace/internal/domain"
)

// Provider captures and voids authorized payments with an upstream processor.
type Provider interface {
	Name() string
	// Capture settles an authorized payment and returns provider data to store with it.
	Capture(ctx context.Context, p domain.Payment) (map[string]any, error)
	// Cancel voids or refunds a payment.
	Cancel(ctx context.Context, p domain.Payment) error
}

// ManualProvider settles payments collected outside the system. It records
// every call and never fails.
type ManualProvider struct {
	mu       sync.Mutex
	captured []string
	canceled []string
}

// Name implements Provider.
func (m *ManualProvider) Name() string { return "manual" }

// Capture implements Provider.
func (m *ManualProvider) Capture(ctx context.Context, p domain.Payment) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captured = append(m.captured, p.ID)
	return map[string]any{"captured_by": "manual"}, nil
}

// Cancel implements Provider.
func (m *ManualProvider) Cancel(ctx context.Context, p domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled = append(m.canceled, p.ID)
	return nil
}

// Captured returns the ids of captured payments.
func (m *ManualProvider) Captured() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.captured...)
}
