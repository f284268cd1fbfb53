// Package payment captures the parent order payment and clones it onto child orders.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-marketplace/internal/common"
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
	"github.com/noah-isme/toko-marketplace/internal/obs"
	"github.com/noah-isme/toko-marketplace/internal/resilience"
)

// Querier captures the payment persistence.
type Querier interface {
	ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error)
	InsertPayment(ctx context.Context, p domain.Payment) (domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus, capturedAt *time.Time) error
}

// Throttler bounds the call rate to a provider.
type Throttler interface {
	Allow(ctx context.Context, key string) error
}

// Service coordinates payment capture through the configured providers.
type Service struct {
	Q         Querier
	Providers map[string]Provider
	Throttle  Throttler
	// Caller configures retries; a breaker per provider is added automatically.
	Caller  resilience.Caller
	Breaker resilience.BreakerConfig
	Logger  *zerolog.Logger
	Now     func() time.Time

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) provider(name string) (Provider, error) {
	p, ok := s.Providers[name]
	if !ok || p == nil {
		return nil, common.InvalidData("payment provider %q is not configured", name)
	}
	return p, nil
}

func (s *Service) caller(name string) resilience.Caller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.breakers == nil {
		s.breakers = map[string]*resilience.Breaker{}
	}
	b, ok := s.breakers[name]
	if !ok {
		cfg := s.Breaker
		cfg.Dependency = "payment:" + name
		if cfg.Logger == nil {
			cfg.Logger = s.Logger
		}
		b = resilience.NewBreaker(cfg)
		s.breakers[name] = b
	}
	c := s.Caller
	c.Breaker = b
	return c
}

func (s *Service) allow(ctx context.Context, provider string) error {
	if s.Throttle == nil {
		return nil
	}
	return s.Throttle.Allow(ctx, "payment:"+provider)
}

// Capture captures the authorized payment of an order. An already captured
// payment is returned as is.
func (s *Service) Capture(ctx context.Context, orderID string) (domain.Payment, error) {
	if s == nil || s.Q == nil {
		return domain.Payment{}, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Capture")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	payments, err := s.Q.ListPayments(ctx, orderID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("list payments: %w", err)
	}
	var target *domain.Payment
	for i := range payments {
		if payments[i].ParentPaymentID != "" {
			continue
		}
		switch payments[i].Status {
		case domain.PaymentCaptured:
			return payments[i], nil
		case domain.PaymentAuthorized:
			target = &payments[i]
		}
	}
	if target == nil {
		return domain.Payment{}, common.UnexpectedState("order %s has no authorized payment", orderID)
	}
	provider, err := s.provider(target.Provider)
	if err != nil {
		return domain.Payment{}, err
	}
	span.SetAttributes(attribute.String("payment.provider", provider.Name()), attribute.Int64("payment.amount", target.Amount))
	if err := s.allow(ctx, provider.Name()); err != nil {
		span.RecordError(err)
		return domain.Payment{}, err
	}

	err = s.caller(provider.Name()).Do(ctx, func(ctx context.Context) error {
		data, err := provider.Capture(ctx, *target)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if target.Data == nil {
				target.Data = map[string]any{}
			}
			for k, v := range data {
				target.Data[k] = v
			}
		}
		return nil
	})
	obs.IncPaymentCapture(provider.Name(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		return domain.Payment{}, fmt.Errorf("capture payment %s: %w", target.ID, err)
	}
	capturedAt := s.now()
	if err := s.Q.UpdatePaymentStatus(ctx, target.ID, domain.PaymentCaptured, &capturedAt); err != nil {
		return domain.Payment{}, fmt.Errorf("update payment status: %w", err)
	}
	target.Status = domain.PaymentCaptured
	target.CapturedAt = &capturedAt
	obs.LoggerOrNop(s.Logger).Info().Str("order_id", orderID).Str("payment_id", target.ID).
		Str("provider", provider.Name()).Int64("amount", target.Amount).Msg("payment captured")
	return *target, nil
}

// CloneForChildren records one captured payment per child order, splitting the
// parent amount in proportion to the child totals. Children that already carry a
// clone of parent keep it.
func (s *Service) CloneForChildren(ctx context.Context, parent domain.Payment, children []domain.Order) ([]domain.Payment, error) {
	if s == nil || s.Q == nil {
		return nil, errors.New("payment service not configured")
	}
	if len(children) == 0 {
		return nil, nil
	}
	weights := make([]money.Money, len(children))
	for i, c := range children {
		weights[i] = money.NonNegative(c.Total)
	}
	shares := money.AllocateByWeight(parent.Amount, weights)

	clones := make([]domain.Payment, 0, len(children))
	for i, child := range children {
		existing, err := s.Q.ListPayments(ctx, child.ID)
		if err != nil {
			return nil, fmt.Errorf("list child payments: %w", err)
		}
		var found *domain.Payment
		for j := range existing {
			if existing[j].ParentPaymentID == parent.ID {
				found = &existing[j]
				break
			}
		}
		if found != nil {
			clones = append(clones, *found)
			continue
		}
		clone, err := s.Q.InsertPayment(ctx, domain.Payment{
			OrderID:         child.ID,
			ParentPaymentID: parent.ID,
			Provider:        parent.Provider,
			Amount:          shares[i],
			Status:          parent.Status,
			Data:            map[string]any{"parent_payment_id": parent.ID},
			CapturedAt:      parent.CapturedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("insert child payment: %w", err)
		}
		clones = append(clones, clone)
	}
	return clones, nil
}

// Cancel voids the parent payment of an order and every clone of it.
func (s *Service) Cancel(ctx context.Context, orderID string, childIDs []string) error {
	if s == nil || s.Q == nil {
		return errors.New("payment service not configured")
	}
	payments, err := s.Q.ListPayments(ctx, orderID)
	if err != nil {
		return fmt.Errorf("list payments: %w", err)
	}
	var joined error
	for _, p := range payments {
		if p.Status == domain.PaymentCanceled || p.ParentPaymentID != "" {
			continue
		}
		provider, err := s.provider(p.Provider)
		if err != nil {
			joined = errors.Join(joined, err)
			continue
		}
		if err := s.allow(ctx, provider.Name()); err != nil {
			joined = errors.Join(joined, err)
			continue
		}
		if err := s.caller(provider.Name()).Do(ctx, func(ctx context.Context) error {
			return provider.Cancel(ctx, p)
		}); err != nil {
			joined = errors.Join(joined, fmt.Errorf("cancel payment %s: %w", p.ID, err))
			continue
		}
		if err := s.Q.UpdatePaymentStatus(ctx, p.ID, domain.PaymentCanceled, nil); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	for _, childID := range childIDs {
		clones, err := s.Q.ListPayments(ctx, childID)
		if err != nil {
			joined = errors.Join(joined, err)
			continue
		}
		for _, c := range clones {
			if c.Status == domain.PaymentCanceled {
				continue
			}
			if err := s.Q.UpdatePaymentStatus(ctx, c.ID, domain.PaymentCanceled, nil); err != nil {
				joined = errors.Join(joined, err)
			}
		}
	}
	return joined
}
