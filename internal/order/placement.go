package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-marketplace/internal/common"
	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/events"
	"github.com/noah-isme/toko-marketplace/internal/lock"
	"github.com/noah-isme/toko-marketplace/internal/money"
	"github.com/noah-isme/toko-marketplace/internal/obs"
	"github.com/noah-isme/toko-marketplace/internal/pricing"
	"github.com/noah-isme/toko-marketplace/internal/saga"
)

// Saga step names.
const (
	StepCreateChildren = "create_children"
	StepSettlePromos   = "settle_promotions"
	StepCapturePayment = "capture_payment"
	StepClonePayments  = "clone_payments"
	StepFinalize       = "finalize"
)

// Querier captures the persistence used by the placement saga.
type Querier interface {
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListChildOrders(ctx context.Context, parentID string) ([]domain.Order, error)
	InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error)
	InsertDiscount(ctx context.Context, d domain.Discount) (domain.Discount, error)
	NextStoreDisplayID(ctx context.Context, storeID string) (int64, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error
	UpdateChildOrdersStatus(ctx context.Context, parentID string, status domain.OrderStatus) (int64, error)
	SetOrderSplitTotals(ctx context.Context, id string, couponTotal money.Money, pointUsed int64) error
	DeletePromoUsage(ctx context.Context, discountID, orderID string) error
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

// Points records point movements.
type Points interface {
	Spend(ctx context.Context, customerID, orderID string, points int64) (domain.PointLedgerEntry, error)
	Refund(ctx context.Context, orderID string) (int64, error)
}

// PromoSettler records promo code redemptions.
type PromoSettler interface {
	Settle(ctx context.Context, d domain.Discount, orderID, customerID string, amount money.Money) error
}

// Payments captures the parent payment and mirrors it onto child orders.
type Payments interface {
	Capture(ctx context.Context, orderID string) (domain.Payment, error)
	CloneForChildren(ctx context.Context, parent domain.Payment, children []domain.Order) ([]domain.Payment, error)
	Cancel(ctx context.Context, orderID string, childIDs []string) error
}

// Publisher publishes events once the transaction that produced them committed.
type Publisher interface {
	Publish(ctx context.Context, pending ...events.Pending) error
}

// PlacementService splits placed parent orders into child orders.
type PlacementService struct {
	Q        Querier
	Tx       Transactor
	Locker   Locker
	Catalog  SnapshotLoader
	Points   Points
	Promos   PromoSettler
	Payments Payments
	SagaLog  saga.Repository
	Events   Publisher
	Options  pricing.Options
	LockTTL  time.Duration
	Logger   *zerolog.Logger
}

// Result describes a finished placement.
type Result struct {
	Parent   domain.Order
	Children []domain.Order
	Created  int
}

// HandleOrderPlaced is the asynq handler of the order:placed task. Failures are
// retried by asynq; the last attempt compensates instead. Refused point spends
// compensate at once and are not retried.
func (s *PlacementService) HandleOrderPlaced(ctx context.Context, t *asynq.Task) error {
	var payload events.OrderPlacedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if payload.OrderID == "" {
		return fmt.Errorf("%s payload without order id: %w", t.Type(), asynq.SkipRetry)
	}
	_, err := s.Place(ctx, payload.OrderID, finalAttempt(ctx))
	if err != nil && (errors.Is(err, common.ErrInvalidData) || errors.Is(err, common.ErrNotAllowed)) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return retried >= maxRetry
}

// Place splits the parent order. Re-running it after a partial failure resumes
// where the previous run stopped. When compensate is set, or a step fails with
// common.ErrNotAllowed, a failed run undoes what was done and flags the parent
// order for attention.
func (s *PlacementService) Place(ctx context.Context, orderID string, compensate bool) (Result, error) {
	if s == nil || s.Q == nil || s.Tx == nil || s.Catalog == nil {
		return Result{}, errors.New("placement service not configured")
	}
	ctx, span := otel.Tracer("order.PlacementService").Start(ctx, "PlacementService.Place")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Bool("saga.compensate", compensate))

	var res Result
	run := func(ctx context.Context) error {
		var err error
		res, err = s.place(ctx, orderID, compensate)
		if err != nil && !compensate && errors.Is(err, common.ErrNotAllowed) {
			// A refused point spend fails the same way on every retry.
			res, err = s.place(ctx, orderID, true)
		}
		return err
	}
	var err error
	if s.Locker != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = time.Minute
		}
		err = s.Locker.WithLock(ctx, lock.OrderPlacementKey(orderID), ttl, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

func (s *PlacementService) place(ctx context.Context, orderID string, compensate bool) (Result, error) {
	logger := obs.LoggerOrNop(s.Logger).With().Str("order_id", orderID).Logger()

	parent, err := s.Q.GetOrder(ctx, orderID)
	if err != nil {
		return Result{}, fmt.Errorf("get order: %w", err)
	}
	if parent.ParentID != "" {
		return Result{}, common.InvalidData("order %s is a child order", orderID)
	}
	switch parent.Status {
	case domain.OrderPlaced:
	case domain.OrderSettled:
		children, err := s.Q.ListChildOrders(ctx, orderID)
		if err != nil {
			return Result{}, fmt.Errorf("list child orders: %w", err)
		}
		logger.Debug().Msg("order already settled")
		return Result{Parent: parent, Children: children}, nil
	default:
		return Result{}, common.InvalidData("order %s cannot be split in status %s", orderID, parent.Status)
	}

	snap, err := s.Catalog.Load(ctx, parent.CustomerID, parent.Items, parent.ShippingMethods)
	if err != nil {
		return Result{}, fmt.Errorf("load catalog snapshot: %w", err)
	}
	plan := Allocate(parent, snap, s.Options)
	for _, id := range plan.SkippedItems {
		logger.Warn().Str("line_item_id", id).Msg("line item without store skipped by order split")
	}

	res := Result{Parent: parent}
	var captured domain.Payment
	steps := []saga.Step{
		{
			Name: StepCreateChildren,
			Execute: func(ctx context.Context) error {
				children, created, err := s.createChildren(ctx, parent, plan)
				res.Children, res.Created = children, created
				return err
			},
			Compensate: func(ctx context.Context) error {
				return s.cancelChildren(ctx, parent.ID)
			},
		},
		{
			Name: StepSettlePromos,
			Execute: func(ctx context.Context) error {
				return s.settlePromotions(ctx, parent, plan)
			},
			Compensate: func(ctx context.Context) error {
				if d, ok := domain.FindDiscount(parent.Discounts, domain.DiscountKindPromoCode); ok {
					return s.Q.DeletePromoUsage(ctx, d.ID, parent.ID)
				}
				return nil
			},
		},
		{
			Name: StepCapturePayment,
			Execute: func(ctx context.Context) error {
				if s.Payments == nil {
					return nil
				}
				captured, err = s.Payments.Capture(ctx, parent.ID)
				return err
			},
			Compensate: func(ctx context.Context) error {
				if s.Payments == nil {
					return nil
				}
				return s.Payments.Cancel(ctx, parent.ID, childIDs(res.Children))
			},
		},
		{
			Name: StepClonePayments,
			Execute: func(ctx context.Context) error {
				if s.Payments == nil || captured.ID == "" {
					return nil
				}
				_, err := s.Payments.CloneForChildren(ctx, captured, res.Children)
				return err
			},
		},
		{
			Name: StepFinalize,
			Execute: func(ctx context.Context) error {
				return s.Q.UpdateOrderStatus(ctx, parent.ID, domain.OrderSettled)
			},
		},
	}

	orchestrator := &saga.Orchestrator{Steps: steps, Log: s.SagaLog, Logger: s.Logger}
	payload, _ := json.Marshal(events.OrderPlacedPayload{OrderID: parent.ID})
	if err := orchestrator.Run(ctx, parent.ID, string(payload), compensate); err != nil {
		if !compensate {
			obs.ObserveOrderSplit("retry", res.Created)
			return res, err
		}
		obs.ObserveOrderSplit("compensated", 0)
		if statusErr := s.Q.UpdateOrderStatus(ctx, parent.ID, domain.OrderAttention); statusErr != nil {
			logger.Error().Err(statusErr).Msg("flag order for attention")
		}
		s.publish(ctx, logger, events.Pending{
			Topic:       events.TopicOrderCompensated,
			AggregateID: parent.ID,
			Payload:     events.OrderCompensatedPayload{OrderID: parent.ID, Reason: err.Error()},
		})
		return res, err
	}

	res.Parent.Status = domain.OrderSettled
	res.Parent.CouponTotal = plan.CouponTotal
	res.Parent.PointUsed = plan.PointUsed
	obs.ObserveOrderSplit("ok", res.Created)
	s.publish(ctx, logger, events.Pending{
		Topic:       events.TopicOrderSettled,
		AggregateID: parent.ID,
		Payload: events.OrderSettledPayload{
			OrderID:     parent.ID,
			ChildIDs:    childIDs(res.Children),
			CouponTotal: plan.CouponTotal,
			PointUsed:   plan.PointUsed,
		},
	})
	logger.Info().Int("children", len(res.Children)).Int("created", res.Created).
		Int64("coupon_total", plan.CouponTotal).Int64("point_used", plan.PointUsed).Msg("order split")
	return res, nil
}

// createChildren persists every planned child that does not exist yet, each in
// its own transaction together with its point spend.
func (s *PlacementService) createChildren(ctx context.Context, parent domain.Order, plan Plan) ([]domain.Order, int, error) {
	existing, err := s.Q.ListChildOrders(ctx, parent.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("list child orders: %w", err)
	}
	byStore := make(map[string]domain.Order, len(existing))
	for _, c := range existing {
		byStore[c.StoreID] = c
	}

	children := make([]domain.Order, 0, len(plan.Children))
	created := 0
	for _, planned := range plan.Children {
		if c, ok := byStore[planned.Order.StoreID]; ok {
			children = append(children, c)
			continue
		}
		var stored domain.Order
		err := s.Tx.InTx(ctx, func(ctx context.Context) error {
			child := planned.Order
			displayID, err := s.Q.NextStoreDisplayID(ctx, child.StoreID)
			if err != nil {
				return fmt.Errorf("next display id: %w", err)
			}
			child.DisplayID = displayID
			discounts := make([]domain.Discount, 0, len(child.Discounts))
			for _, d := range child.Discounts {
				if d.ParentDiscountID != "" && d.ID == "" {
					if d, err = s.Q.InsertDiscount(ctx, d); err != nil {
						return fmt.Errorf("insert child discount: %w", err)
					}
				}
				discounts = append(discounts, d)
			}
			child.Discounts = discounts
			if stored, err = s.Q.InsertOrder(ctx, child); err != nil {
				return fmt.Errorf("insert child order: %w", err)
			}
			if child.PointUsed > 0 && s.Points != nil {
				if _, err := s.Points.Spend(ctx, child.CustomerID, stored.ID, child.PointUsed); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return children, created, fmt.Errorf("store %s: %w", planned.Order.StoreID, err)
		}
		children = append(children, stored)
		created++
	}
	return children, created, nil
}

func (s *PlacementService) settlePromotions(ctx context.Context, parent domain.Order, plan Plan) error {
	return s.Tx.InTx(ctx, func(ctx context.Context) error {
		if d, ok := domain.FindDiscount(parent.Discounts, domain.DiscountKindPromoCode); ok && s.Promos != nil {
			var amount money.Money
			for _, c := range plan.Children {
				for _, cd := range c.Order.Discounts {
					if cd.ParentDiscountID == d.ID {
						amount += cd.Rule.Value
					}
				}
			}
			if err := s.Promos.Settle(ctx, d, parent.ID, parent.CustomerID, amount); err != nil {
				return fmt.Errorf("settle promo code: %w", err)
			}
		}
		return s.Q.SetOrderSplitTotals(ctx, parent.ID, plan.CouponTotal, plan.PointUsed)
	})
}

func (s *PlacementService) cancelChildren(ctx context.Context, parentID string) error {
	children, err := s.Q.ListChildOrders(ctx, parentID)
	if err != nil {
		return fmt.Errorf("list child orders: %w", err)
	}
	var joined error
	if s.Points != nil {
		for _, c := range children {
			if _, err := s.Points.Refund(ctx, c.ID); err != nil {
				joined = errors.Join(joined, err)
			}
		}
	}
	if _, err := s.Q.UpdateChildOrdersStatus(ctx, parentID, domain.OrderCanceled); err != nil {
		joined = errors.Join(joined, err)
	}
	return joined
}

func (s *PlacementService) publish(ctx context.Context, logger zerolog.Logger, pending events.Pending) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, pending); err != nil {
		logger.Error().Err(err).Str("topic", pending.Topic).Msg("publish placement event")
	}
}

func childIDs(children []domain.Order) []string {
	ids := make([]string, 0, len(children))
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	return ids
}
