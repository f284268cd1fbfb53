package discount

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-marketplace/internal/common"
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/money"
)

// Querier captures the database methods required by the discount service.
type Querier interface {
	GetDiscountByCode(ctx context.Context, code string) (domain.Discount, error)
	CountPromoUsageByCustomer(ctx context.Context, discountID, customerID string) (int64, error)
	PromoUsageExists(ctx context.Context, discountID, orderID string) (bool, error)
	InsertPromoUsage(ctx context.Context, usage PromoUsage) error
}

// PromoUsage records one redemption of a promo code.
type PromoUsage struct {
	DiscountID string
	OrderID    string
	CustomerID string
	Amount     money.Money
}

// Service resolves discount codes and records promo code redemptions.
type Service struct {
	Q Querier
}

// Resolve loads an attachable discount by code and rejects promo codes the customer already used.
func (s *Service) Resolve(ctx context.Context, code string, customerID string) (domain.Discount, error) {
	if s == nil || s.Q == nil {
		return domain.Discount{}, errors.New("discount service not configured")
	}
	normalized := NormalizeCode(code)
	if normalized == "" {
		return domain.Discount{}, common.InvalidData("discount code is required")
	}
	d, err := s.Q.GetDiscountByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Discount{}, common.NotFound("discount %s", normalized)
		}
		return domain.Discount{}, err
	}
	if d.IsPoint() || d.ParentDiscountID != "" {
		return domain.Discount{}, common.InvalidData("discount %s cannot be applied by code", normalized)
	}
	if err := ValidateRule(d.Rule); err != nil {
		return domain.Discount{}, err
	}
	if d.Kind == domain.DiscountKindPromoCode {
		if customerID == "" {
			return domain.Discount{}, common.NotAllowed("promo codes require a signed-in customer")
		}
		used, err := s.Q.CountPromoUsageByCustomer(ctx, d.ID, customerID)
		if err != nil {
			return domain.Discount{}, fmt.Errorf("count promo usage: %w", err)
		}
		if used > 0 {
			return domain.Discount{}, common.Duplicate("promo code %s already used", normalized)
		}
	}
	return d, nil
}

// Settle records a promo code redemption for an order. Repeated calls for the same order are ignored.
func (s *Service) Settle(ctx context.Context, d domain.Discount, orderID, customerID string, amount money.Money) error {
	if s == nil || s.Q == nil {
		return errors.New("discount service not configured")
	}
	if d.Kind != domain.DiscountKindPromoCode || orderID == "" {
		return nil
	}
	exists, err := s.Q.PromoUsageExists(ctx, d.ID, orderID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.Q.InsertPromoUsage(ctx, PromoUsage{
		DiscountID: d.ID,
		OrderID:    orderID,
		CustomerID: customerID,
		Amount:     money.NonNegative(amount),
	})
}
