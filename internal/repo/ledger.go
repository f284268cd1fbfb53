package repo

import (
	"context"
	"time"

	"github.com/noah-isme/toko-marketplace/internal/domain"
	"github.com/noah-isme/toko-marketplace/internal/events"
	"github.com/noah-isme/toko-marketplace/internal/saga"
)

// SumPointsByCustomer returns the point balance of a customer.
func (q *Queries) SumPointsByCustomer(ctx context.Context, customerID string) (int64, error) {
	if err := q.ready(); err != nil {
		return 0, err
	}
	var balance int64
	err := q.db(ctx).QueryRow(ctx, `SELECT COALESCE(SUM(points), 0)::bigint FROM point_ledger WHERE customer_id = $1`, customerID).Scan(&balance)
	return balance, err
}

// LockPointBalance takes a transaction scoped advisory lock on the customer's
// point balance. Outside a transaction the lock ends with the statement.
func (q *Queries) LockPointBalance(ctx context.Context, customerID string) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, customerID)
	return err
}

// InsertPointLedger appends a point movement.
func (q *Queries) InsertPointLedger(ctx context.Context, e domain.PointLedgerEntry) error {
	if err := q.ready(); err != nil {
		return err
	}
	_, err := q.db(ctx).Exec(ctx, `INSERT INTO point_ledger (id, customer_id, order_id, points, reason, created_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, now()))`,
		e.ID, e.CustomerID, nullString(e.OrderID), e.Points, e.Reason, nullTime(e.CreatedAt))
	return err
}

// ListPointLedgerByOrder returns the point movements recorded for an order.
func (q *Queries) ListPointLedgerByOrder(ctx context.Context, orderID string) ([]domain.PointLedgerEntry, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	rows, err := q.db(ctx).Query(ctx, `SELECT id::text, customer_id::text, COALESCE(order_id::text, ''), points, reason, created_at
FROM point_ledger WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.PointLedgerEntry
	for rows.Next() {
		var e domain.PointLedgerEntry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.OrderID, &e.Points, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertDomainEvent appends an event to the domain event log.
func (q *Queries) InsertDomainEvent(ctx context.Context, topic, aggregateID string, payload []byte) (events.Event, error) {
	if err := q.ready(); err != nil {
		return events.Event{}, err
	}
	ev := events.Event{Topic: topic, AggregateID: aggregateID, Payload: payload}
	err := q.db(ctx).QueryRow(ctx, `INSERT INTO domain_events (topic, aggregate_id, payload) VALUES ($1, $2, $3)
RETURNING id::text, occurred_at`, topic, aggregateID, payload).Scan(&ev.ID, &ev.OccurredAt)
	return ev, err
}

// SagaLog persists saga log entries.
type SagaLog struct {
	Q *Queries
}

// Save appends a saga log entry.
func (l SagaLog) Save(ctx context.Context, e *saga.Entry) error {
	if err := l.Q.ready(); err != nil {
		return err
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	_, err := l.Q.db(ctx).Exec(ctx, `INSERT INTO saga_logs (saga_id, status, current_step, payload, error_messages, trace_id, span_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, e.SagaID, string(e.Status), e.CurrentStep, e.Payload, e.ErrorMessages,
		e.TraceID, e.SpanID, e.UpdatedAt)
	return err
}

// ListSagaLog returns the entries of a saga, oldest first.
func (l SagaLog) ListSagaLog(ctx context.Context, sagaID string) ([]saga.Entry, error) {
	if err := l.Q.ready(); err != nil {
		return nil, err
	}
	rows, err := l.Q.db(ctx).Query(ctx, `SELECT saga_id, status, current_step, payload, error_messages, trace_id, span_id, updated_at
FROM saga_logs WHERE saga_id = $1 ORDER BY id`, sagaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []saga.Entry
	for rows.Next() {
		var e saga.Entry
		var status string
		if err := rows.Scan(&e.SagaID, &status, &e.CurrentStep, &e.Payload, &e.ErrorMessages, &e.TraceID, &e.SpanID, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Status = saga.Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
