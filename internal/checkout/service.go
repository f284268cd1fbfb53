// Package checkout freezes a cart into a parent order and announces it for splitting.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-marketplace/internal/common"
	"github.com/noah-isme/toko-marketplace/internal/discount"
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/events"
	"github.com/noah-isme/toko-marketplace/internal/lock"
	"github.com/noah-isme/toko-marketplace/internal/obs"
	"github.com/noah-isme/toko-marketplace/internal/pricing"
)

// Querier captures the persistence used by checkout completion.
type Querier interface {
	GetCart(ctx context.Context, id string) (domain.Cart, error)
	LockCart(ctx context.Context, id string) error
	GetOrderByCart(ctx context.Context, cartID string) (domain.Order, error)
	InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error)
	InsertPayment(ctx context.Context, p domain.Payment) (domain.Payment, error)
	UpdateDiscountRuleValue(ctx context.Context, ruleID string, value int64) error
	SaveCartTotals(ctx context.Context, c domain.Cart) error
	MarkCartCompleted(ctx context.Context, cartID string, at time.Time) error
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker serialises work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// SnapshotLoader loads the lookups pricing needs for a set of items.
type SnapshotLoader interface {
	Load(ctx context.Context, customerID string, items []domain.LineItem, methods []domain.ShippingMethod) (domain.Snapshot, error)
}

// Publisher publishes events once the transaction that produced them committed.
type Publisher interface {
	Publish(ctx context.Context, pending ...events.Pending) error
}

// Input completes a cart.
type Input struct {
	CartID          string         `validate:"required"`
	CustomerID      string         `validate:"required"`
	PaymentProvider string         `validate:"required,max=64"`
	PaymentData     map[string]any `validate:"-"`
}

// Service completes carts.
type Service struct {
	Q        Querier
	Tx       Transactor
	Locker   Locker
	Catalog  SnapshotLoader
	Events   Publisher
	Options  pricing.Options
	LockTTL  time.Duration
	Validate *validator.Validate
	Logger   *zerolog.Logger
	Now      func() time.Time
}

var defaultValidate = validator.New()

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Complete freezes the cart into a PLACED parent order with an authorized payment
// and publishes order.placed. Completing an already completed cart returns its order
// and publishes order.placed again so a lost event can be recovered.
func (s *Service) Complete(ctx context.Context, in Input) (domain.Order, error) {
	if s == nil || s.Q == nil || s.Tx == nil || s.Catalog == nil {
		return domain.Order{}, errors.New("checkout service not configured")
	}
	validate := s.Validate
	if validate == nil {
		validate = defaultValidate
	}
	if err := validate.Struct(in); err != nil {
		appErr := common.InvalidData("%s", err.Error())
		appErr.Details = err
		return domain.Order{}, appErr
	}
	logger := obs.LoggerOrNop(s.Logger).With().Str("cart_id", in.CartID).Logger()

	var order domain.Order
	run := func(ctx context.Context) error {
		return s.Tx.InTx(ctx, func(ctx context.Context) error {
			var err error
			order, err = s.complete(ctx, in)
			return err
		})
	}
	var err error
	if s.Locker != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 10 * time.Second
		}
		err = s.Locker.WithLock(ctx, lock.CartKey(in.CartID), ttl, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return domain.Order{}, err
	}

	if s.Events != nil {
		pending := events.Pending{
			Topic:       events.TopicOrderPlaced,
			AggregateID: order.ID,
			Payload:     events.OrderPlacedPayload{OrderID: order.ID},
		}
		if pubErr := s.Events.Publish(ctx, pending); pubErr != nil {
			logger.Error().Err(pubErr).Str("order_id", order.ID).Msg("publish order.placed failed")
			return order, fmt.Errorf("publish order placed: %w", pubErr)
		}
	}
	logger.Info().Str("order_id", order.ID).Int64("total", order.Total).Msg("cart completed")
	return order, nil
}

func (s *Service) complete(ctx context.Context, in Input) (domain.Order, error) {
	if err := s.Q.LockCart(ctx, in.CartID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, common.NotFound("cart %s", in.CartID)
		}
		return domain.Order{}, fmt.Errorf("lock cart: %w", err)
	}
	c, err := s.Q.GetCart(ctx, in.CartID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get cart: %w", err)
	}
	if c.CustomerID != "" && c.CustomerID != in.CustomerID {
		return domain.Order{}, common.NotAllowed("cart %s does not belong to customer", in.CartID)
	}
	if c.CompletedAt != nil {
		existing, err := s.Q.GetOrderByCart(ctx, in.CartID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.Order{}, common.UnexpectedState("cart %s completed without an order", in.CartID)
			}
			return domain.Order{}, fmt.Errorf("get order by cart: %w", err)
		}
		return existing, nil
	}
	if len(c.Items) == 0 {
		return domain.Order{}, common.InvalidData("cart %s is empty", in.CartID)
	}

	snap, err := s.Catalog.Load(ctx, c.CustomerID, c.Items, c.ShippingMethods)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load catalog snapshot: %w", err)
	}
	decorated, adj := pricing.DecorateTotals(c, snap, s.Options)
	applied := make([]domain.Discount, 0, len(decorated.Discounts))
	for _, d := range decorated.Discounts {
		if adj != nil && d.ID == adj.DiscountID {
			if err := s.Q.UpdateDiscountRuleValue(ctx, d.Rule.ID, adj.Used); err != nil {
				return domain.Order{}, fmt.Errorf("clamp point discount: %w", err)
			}
		}
		if d.IsPoint() && d.Rule.Value <= 0 {
			continue
		}
		if !discount.CanApplyForCart(d, decorated, snap) {
			continue
		}
		applied = append(applied, d)
	}

	now := s.now()
	order, err := s.Q.InsertOrder(ctx, domain.Order{
		CartID:          c.ID,
		CustomerID:      in.CustomerID,
		Status:          domain.OrderPlaced,
		Items:           decorated.Items,
		ShippingMethods: decorated.ShippingMethods,
		Discounts:       applied,
		Totals:          decorated.Totals,
		Metadata:        map[string]any{"cart_id": c.ID, "region_id": c.RegionID},
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	payment, err := s.Q.InsertPayment(ctx, domain.Payment{
		OrderID:  order.ID,
		Provider: in.PaymentProvider,
		Amount:   decorated.Total,
		Status:   domain.PaymentAuthorized,
		Data:     in.PaymentData,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert payment: %w", err)
	}
	order.Payments = []domain.Payment{payment}
	if err := s.Q.SaveCartTotals(ctx, decorated); err != nil {
		return domain.Order{}, fmt.Errorf("save cart totals: %w", err)
	}
	if err := s.Q.MarkCartCompleted(ctx, c.ID, now); err != nil {
		return domain.Order{}, fmt.Errorf("mark cart completed: %w", err)
	}
	return order, nil
}
