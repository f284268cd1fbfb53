// Package points converts loyalty points to money and keeps the point ledger.
package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-marketplace/internal/common"
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
)

// Ledger reasons.
const (
	ReasonOrderSpend  = "order_spend"
	ReasonOrderRefund = "order_refund"
)

// Converter turns points into money at a fixed rate of money units per point.
type Converter struct {
	Rate decimal.Decimal
}

// NewConverter builds a converter; a non-positive rate falls back to 1.
func NewConverter(rate decimal.Decimal) Converter {
	if !rate.IsPositive() {
		rate = decimal.NewFromInt(1)
	}
	return Converter{Rate: rate}
}

func (c Converter) rate() decimal.Decimal {
	if !c.Rate.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return c.Rate
}

// Value returns the money value of points, floored.
func (c Converter) Value(points int64) money.Money {
	if points <= 0 {
		return 0
	}
	return decimal.NewFromInt(points).Mul(c.rate()).Floor().IntPart()
}

// PointsFor returns the largest point amount whose value does not exceed amount.
func (c Converter) PointsFor(amount money.Money) int64 {
	if amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Div(c.rate()).Floor().IntPart()
}

// Querier captures the ledger persistence used by Service.
type Querier interface {
	SumPointsByCustomer(ctx context.Context, customerID string) (int64, error)
	InsertPointLedger(ctx context.Context, entry domain.PointLedgerEntry) error
	ListPointLedgerByOrder(ctx context.Context, orderID string) ([]domain.PointLedgerEntry, error)
}

// BalanceLocker is implemented by ledgers that can serialize the spends of one
// customer until the surrounding transaction ends.
type BalanceLocker interface {
	LockPointBalance(ctx context.Context, customerID string) error
}

// Service reads balances and records point movements.
type Service struct {
	Q   Querier
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Balance returns the current point balance of a customer.
func (s *Service) Balance(ctx context.Context, customerID string) (int64, error) {
	if s == nil || s.Q == nil {
		return 0, errors.New("points service not configured")
	}
	balance, err := s.Q.SumPointsByCustomer(ctx, customerID)
	if err != nil {
		return 0, fmt.Errorf("sum points: %w", err)
	}
	return balance, nil
}

// Spend records a negative ledger entry for an order. It fails with
// common.ErrNotAllowed when the customer balance no longer covers points.
func (s *Service) Spend(ctx context.Context, customerID, orderID string, points int64) (domain.PointLedgerEntry, error) {
	if s == nil || s.Q == nil {
		return domain.PointLedgerEntry{}, errors.New("points service not configured")
	}
	if points <= 0 {
		return domain.PointLedgerEntry{}, nil
	}
	if l, ok := s.Q.(BalanceLocker); ok {
		if err := l.LockPointBalance(ctx, customerID); err != nil {
			return domain.PointLedgerEntry{}, fmt.Errorf("lock point balance: %w", err)
		}
	}
	balance, err := s.Balance(ctx, customerID)
	if err != nil {
		return domain.PointLedgerEntry{}, err
	}
	if balance < points {
		return domain.PointLedgerEntry{}, common.NotAllowed("customer %s holds %d points, %d required", customerID, balance, points)
	}
	entry := domain.PointLedgerEntry{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		OrderID:    orderID,
		Points:     -points,
		Reason:     ReasonOrderSpend,
		CreatedAt:  s.now(),
	}
	if err := s.Q.InsertPointLedger(ctx, entry); err != nil {
		return domain.PointLedgerEntry{}, fmt.Errorf("insert point ledger: %w", err)
	}
	return entry, nil
}

// Refund reverses every spend recorded for the order that has not been refunded yet.
func (s *Service) Refund(ctx context.Context, orderID string) (int64, error) {
	if s == nil || s.Q == nil {
		return 0, errors.New("points service not configured")
	}
	entries, err := s.Q.ListPointLedgerByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("list point ledger: %w", err)
	}
	var net int64
	customerID := ""
	for _, e := range entries {
		net += e.Points
		if customerID == "" {
			customerID = e.CustomerID
		}
	}
	if net >= 0 {
		return 0, nil
	}
	entry := domain.PointLedgerEntry{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		OrderID:    orderID,
		Points:     -net,
		Reason:     ReasonOrderRefund,
		CreatedAt:  s.now(),
	}
	if err := s.Q.InsertPointLedger(ctx, entry); err != nil {
		return 0, fmt.Errorf("insert point refund: %w", err)
	}
	return -net, nil
}
