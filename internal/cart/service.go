// Package cart implements the cart mutation commands and keeps persisted totals current.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-marketplace/internal/common"
	"github.com/noah-isme/toko-marketplace/internal/discount"
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/events"
	"github.com/noah-isme/toko-marketplace/internal/lock"
	"github.com/noah-isme/toko-marketplace/internal/obs"
	"github.com/noah-isme/toko-marketplace/internal/points"
	"github.com/noah-isme/toko-marketplace/internal/pricing"
)

// Querier captures the persistence used by the cart commands.
type Querier interface {
	GetCart(ctx context.Context, id string) (domain.Cart, error)
	LockCart(ctx context.Context, id string) error
	GetVariant(ctx context.Context, id string) (domain.Variant, string, error)
	GetShippingOption(ctx context.Context, id string) (domain.ShippingOption, error)
	InsertLineItem(ctx context.Context, item domain.LineItem) (domain.LineItem, error)
	UpdateLineItemQuantity(ctx context.Context, id string, quantity int) error
	DeleteLineItem(ctx context.Context, id string) error
	UpsertShippingMethod(ctx context.Context, m domain.ShippingMethod) (domain.ShippingMethod, error)
	AttachCartDiscount(ctx context.Context, cartID, discountID string) error
	DetachCartDiscount(ctx context.Context, cartID, discountID string) error
	InsertDiscount(ctx context.Context, d domain.Discount) (domain.Discount, error)
	UpdateDiscountRuleValue(ctx context.Context, ruleID string, value int64) error
	SaveCartTotals(ctx context.Context, c domain.Cart) error
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

// Operation names used for metrics and the cart.updated payload.
const (
	OpAddLineItem          = "add_line_item"
	OpUpdateLineItem       = "update_line_item"
	OpRemoveLineItem       = "remove_line_item"
	OpApplyDiscount        = "apply_discount"
	OpRemoveDiscount       = "remove_discount"
	OpSetUsedPoint         = "set_used_point"
	OpUpsertShippingMethod = "upsert_shipping_method"
)

// Service encapsulates cart domain operations.
type Service struct {
	Q         Querier
	Tx        Transactor
	Locker    Locker
	Catalog   SnapshotLoader
	Discounts *discount.Service
	Points    *points.Service
	Events    Publisher
	Options   pricing.Options
	LockTTL   time.Duration
	Validate  *validator.Validate
	Logger    *zerolog.Logger
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 10 * time.Second
	}
	return s.LockTTL
}

var defaultValidate = validator.New()

func (s *Service) validate(v any) error {
	validate := s.Validate
	if validate == nil {
		validate = defaultValidate
	}
	if err := validate.Struct(v); err != nil {
		appErr := common.InvalidData("%s", err.Error())
		appErr.Details = err
		return appErr
	}
	return nil
}

// state is the cart as seen by a command: persisted rows decorated with current totals.
type state struct {
	Cart domain.Cart
	Snap domain.Snapshot
}

// AddLineItem adds a variant to the cart at its current price.
func (s *Service) AddLineItem(ctx context.Context, in AddLineItemInput) (domain.Cart, error) {
	if err := s.validate(in); err != nil {
		return domain.Cart{}, err
	}
	return s.mutate(ctx, OpAddLineItem, in.CartID, func(ctx context.Context, st state) error {
		variant, storeID, err := s.Q.GetVariant(ctx, in.VariantID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.NotFound("variant %s", in.VariantID)
			}
			return fmt.Errorf("get variant: %w", err)
		}
		_, err = s.Q.InsertLineItem(ctx, domain.LineItem{
			ID:             uuid.NewString(),
			CartID:         in.CartID,
			VariantID:      variant.ID,
			ProductID:      variant.ProductID,
			StoreID:        storeID,
			Title:          variant.Title,
			Quantity:       in.Quantity,
			UnitPrice:      variant.Price,
			Addons:         in.Addons,
			GiftCoverTotal: in.GiftCoverTotal,
			TaxLines:       in.TaxLines,
			CreatedAt:      s.now(),
		})
		return err
	})
}

// UpdateLineItem changes the quantity of an item; zero removes it.
func (s *Service) UpdateLineItem(ctx context.Context, in UpdateLineItemInput) (domain.Cart, error) {
	if err := s.validate(in); err != nil {
		return domain.Cart{}, err
	}
	return s.mutate(ctx, OpUpdateLineItem, in.CartID, func(ctx context.Context, st state) error {
		if _, ok := findItem(st.Cart.Items, in.LineItemID); !ok {
			return common.NotFound("line item %s", in.LineItemID)
		}
		if in.Quantity == 0 {
			return s.Q.DeleteLineItem(ctx, in.LineItemID)
		}
		return s.Q.UpdateLineItemQuantity(ctx, in.LineItemID, in.Quantity)
	})
}

// RemoveLineItem removes an item and its shipping method.
func (s *Service) RemoveLineItem(ctx context.Context, in RemoveLineItemInput) (domain.Cart, error) {
	if err := s.validate(in); err != nil {
		return domain.Cart{}, err
	}
	return s.mutate(ctx, OpRemoveLineItem, in.CartID, func(ctx context.Context, st state) error {
		if _, ok := findItem(st.Cart.Items, in.LineItemID); !ok {
			return common.NotFound("line item %s", in.LineItemID)
		}
		return s.Q.DeleteLineItem(ctx, in.LineItemID)
	})
}

// ApplyDiscount resolves a code and attaches the discount when every gate passes.
func (s *Service) ApplyDiscount(ctx context.Context, in ApplyDiscountInput) (domain.Cart, error) {
	if err := s.validate(in); err != nil {
		return domain.Cart{}, err
	}
	return s.mutate(ctx, OpApplyDiscount, in.CartID, func(ctx context.Context, st state) error {
		d, err := s.Discounts.Resolve(ctx, in.Code, st.Cart.CustomerID)
		if err != nil {
			return err
		}
		for _, existing := range st.Cart.Discounts {
			if existing.ID == d.ID {
				return common.Duplicate("discount %s already applied", d.Code)
			}
			if d.Kind != domain.DiscountKindDefault && existing.Kind == d.Kind {
				return common.NotAllowed("a %s discount is already applied", d.Kind)
			}
		}
		if err := discount.ValidateForCart(d, st.Cart, st.Snap); err != nil {
			return err
		}
		return s.Q.AttachCartDiscount(ctx, in.CartID, d.ID)
	})
}

// RemoveDiscount detaches a discount from the cart.
func (s *Service) RemoveDiscount(ctx context.Context, in RemoveDiscountInput) (domain.Cart, error) {
	if err := s.validate(in); err != nil {
		return domain.Cart{}, err
	}
	return s.mutate(ctx, OpRemoveDiscount, in.CartID, func(ctx context.Context, st state) error {
		found := false
		for _, d := range st.Cart.Discounts {
			if d.ID == in.DiscountID {
				found = true
				break
			}
		}
		if !found {
			return common.NotFound("discount %s on cart", in.DiscountID)
		}
		return s.Q.DetachCartDiscount(ctx, in.CartID, in.DiscountID)
	})
}

// SetUsedPoint records the loyalty points the customer spends on the cart.
// The value is clamped to the payable total when totals are recomputed.
func (s *Service) SetUsedPoint(ctx context.Context, in SetUsedPointInput) (domain.Cart, error) {
	if err := s.validate(in); err != nil {
		return domain.Cart{}, err
	}
	return s.mutate(ctx, OpSetUsedPoint, in.CartID, func(ctx context.Context, st state) error {
		if st.Cart.CustomerID == "" {
			return common.NotAllowed("points require a signed-in customer")
		}
		existing, hasPoint := domain.FindDiscount(st.Cart.Discounts, domain.DiscountKindPoint)
		if in.Points == 0 {
			if !hasPoint {
				return nil
			}
			return s.Q.DetachCartDiscount(ctx, in.CartID, existing.ID)
		}
		balance, err := s.Points.Balance(ctx, st.Cart.CustomerID)
		if err != nil {
			return err
		}
		if balance < in.Points {
			return common.NotAllowed("point balance %d is below %d", balance, in.Points)
		}
		if hasPoint {
			return s.Q.UpdateDiscountRuleValue(ctx, existing.Rule.ID, in.Points)
		}
		d, err := s.Q.InsertDiscount(ctx, domain.Discount{
			Code:       "POINT-" + uuid.NewString(),
			Kind:       domain.DiscountKindPoint,
			StoreApply: domain.StoreApplyAll,
			Status:     domain.DiscountActive,
			Rule:       domain.DiscountRule{Type: domain.RuleFixed, Value: in.Points},
		})
		if err != nil {
			return fmt.Errorf("insert point discount: %w", err)
		}
		return s.Q.AttachCartDiscount(ctx, in.CartID, d.ID)
	})
}

// UpsertShippingMethod attaches a shipping option of the item's store to the item.
func (s *Service) UpsertShippingMethod(ctx context.Context, in UpsertShippingMethodInput) (domain.Cart, error) {
	if err := s.validate(in); err != nil {
		return domain.Cart{}, err
	}
	return s.mutate(ctx, OpUpsertShippingMethod, in.CartID, func(ctx context.Context, st state) error {
		item, ok := findItem(st.Cart.Items, in.LineItemID)
		if !ok {
			return common.NotFound("line item %s", in.LineItemID)
		}
		opt, err := s.Q.GetShippingOption(ctx, in.ShippingOptionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.NotFound("shipping option %s", in.ShippingOptionID)
			}
			return fmt.Errorf("get shipping option: %w", err)
		}
		if opt.StoreID != item.StoreID {
			return common.InvalidData("shipping option %s does not belong to store %s", opt.ID, item.StoreID)
		}
		m := domain.ShippingMethod{LineItemID: item.ID, ShippingOptionID: opt.ID, Price: opt.Price, TaxLines: in.TaxLines}
		if existing, _, ok := domain.ShippingMethodFor(st.Cart.ShippingMethods, item); ok {
			m.ID = existing.ID
		}
		_, err = s.Q.UpsertShippingMethod(ctx, m)
		return err
	})
}

// Totals returns the cart decorated with freshly computed totals without persisting them.
func (s *Service) Totals(ctx context.Context, cartID string) (domain.Cart, error) {
	if err := s.ready(); err != nil {
		return domain.Cart{}, err
	}
	c, err := s.load(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	snap, err := s.Catalog.Load(ctx, c.CustomerID, c.Items, c.ShippingMethods)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load catalog snapshot: %w", err)
	}
	decorated, _ := pricing.DecorateTotals(c, snap, s.Options)
	return decorated, nil
}

func (s *Service) ready() error {
	if s == nil || s.Q == nil || s.Tx == nil || s.Catalog == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

func (s *Service) load(ctx context.Context, cartID string) (domain.Cart, error) {
	c, err := s.Q.GetCart(ctx, cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Cart{}, common.NotFound("cart %s", cartID)
		}
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}
	return c, nil
}

// mutate runs fn under the cart lock inside one transaction, then recomputes and
// persists the totals and publishes cart.updated after commit.
func (s *Service) mutate(ctx context.Context, op, cartID string, fn func(ctx context.Context, st state) error) (domain.Cart, error) {
	if err := s.ready(); err != nil {
		return domain.Cart{}, err
	}
	started := time.Now()
	logger := obs.LoggerOrNop(s.Logger).With().Str("cart_id", cartID).Str("op", op).Logger()

	var result domain.Cart
	run := func(ctx context.Context) error {
		return s.Tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.Q.LockCart(ctx, cartID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return common.NotFound("cart %s", cartID)
				}
				return fmt.Errorf("lock cart: %w", err)
			}
			st, err := s.current(ctx, cartID)
			if err != nil {
				return err
			}
			if st.Cart.CompletedAt != nil {
				return common.NotAllowed("cart %s is already completed", cartID)
			}
			if err := fn(ctx, st); err != nil {
				return err
			}
			result, err = s.recompute(ctx, cartID)
			return err
		})
	}
	var err error
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, lock.CartKey(cartID), s.lockTTL(), run)
	} else {
		err = run(ctx)
	}
	obs.ObserveCartMutation(op, err, started)
	if err != nil {
		logger.Debug().Err(err).Msg("cart mutation rejected")
		return domain.Cart{}, err
	}

	if s.Events != nil {
		pending := events.Pending{
			Topic:       events.TopicCartUpdated,
			AggregateID: cartID,
			Payload:     UpdatedPayload{CartID: cartID, Operation: op, Total: result.Total},
		}
		if pubErr := s.Events.Publish(ctx, pending); pubErr != nil {
			logger.Warn().Err(pubErr).Msg("publish cart.updated failed")
		}
	}
	logger.Debug().Int64("total", result.Total).Msg("cart updated")
	return result, nil
}

// current loads the cart with its snapshot and decorates it with the totals the
// persisted rows imply.
func (s *Service) current(ctx context.Context, cartID string) (state, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return state{}, err
	}
	snap, err := s.Catalog.Load(ctx, c.CustomerID, c.Items, c.ShippingMethods)
	if err != nil {
		return state{}, fmt.Errorf("load catalog snapshot: %w", err)
	}
	decorated, _ := pricing.DecorateTotals(c, snap, s.Options)
	return state{Cart: decorated, Snap: snap}, nil
}

// recompute reloads the cart after a command, persists the point clamp and the totals.
func (s *Service) recompute(ctx context.Context, cartID string) (domain.Cart, error) {
	st, err := s.currentWithAdjustment(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := s.Q.SaveCartTotals(ctx, st.Cart); err != nil {
		return domain.Cart{}, fmt.Errorf("save cart totals: %w", err)
	}
	return st.Cart, nil
}

func (s *Service) currentWithAdjustment(ctx context.Context, cartID string) (state, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return state{}, err
	}
	snap, err := s.Catalog.Load(ctx, c.CustomerID, c.Items, c.ShippingMethods)
	if err != nil {
		return state{}, fmt.Errorf("load catalog snapshot: %w", err)
	}
	decorated, adj := pricing.DecorateTotals(c, snap, s.Options)
	if adj != nil {
		for _, d := range decorated.Discounts {
			if d.ID != adj.DiscountID {
				continue
			}
			if err := s.Q.UpdateDiscountRuleValue(ctx, d.Rule.ID, adj.Used); err != nil {
				return state{}, fmt.Errorf("clamp point discount: %w", err)
			}
			obs.LoggerOrNop(s.Logger).Debug().Str("cart_id", cartID).Str("discount_id", d.ID).
				Int64("requested", adj.Requested).Int64("used", adj.Used).Msg("point spend clamped")
		}
	}
	return state{Cart: decorated, Snap: snap}, nil
}

func findItem(items []domain.LineItem, id string) (domain.LineItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return domain.LineItem{}, false
}
