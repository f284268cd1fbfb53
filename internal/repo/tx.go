// Package repo implements the Postgres persistence of carts, orders, discounts and catalog lookups.
package repo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-marketplace/internal/obs"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Queries runs statements on the transaction carried by the context, or on the pool.
type Queries struct {
	pool DBTX
}

// New constructs Queries over a pool.
func New(pool DBTX) *Queries {
	return &Queries{pool: pool}
}

func (q *Queries) db(ctx context.Context) DBTX {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return q.pool
}

// ErrorClass groups Postgres errors by how a transaction should react to them.
type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

// ClassifyError maps a Postgres error code to an ErrorClass.
func ClassifyError(err error) ErrorClass {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ErrorClassPermanent
	}
	switch pgErr.Code {
	case "40001":
		return ErrorClassSerialization
	case "40P01":
		return ErrorClassDeadlock
	case "55P03":
		return ErrorClassTransient
	default:
		return ErrorClassPermanent
	}
}

// IsRetryable reports whether a transaction failing with err may be run again.
func IsRetryable(err error) bool {
	return ClassifyError(err) != ErrorClassPermanent
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Transactor runs functions inside a database transaction.
type Transactor struct {
	Pool       *pgxpool.Pool
	MaxRetries int
	Logger     *zerolog.Logger
}

// InTx runs fn inside a transaction carried by the context passed to fn. Nested
// calls reuse the outer transaction. Serialization failures, deadlocks and lock
// timeouts are retried with jittered exponential backoff.
func (t Transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	if t.Pool == nil {
		return errors.New("transactor: pool not configured")
	}
	backoff := 50 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := t.run(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt == t.MaxRetries {
			break
		}
		obs.LoggerOrNop(t.Logger).Warn().Err(err).Int("attempt", attempt+1).Msg("retrying transaction")
		jitter := time.Duration(rand.Int63n(int64(backoff / 4)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", t.MaxRetries, lastErr)
}

func (t Transactor) run(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := t.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
