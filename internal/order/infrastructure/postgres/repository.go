package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robokitlabs/orderflow/internal/order/application"
	"github.com/robokitlabs/orderflow/internal/order/domain"
	"github.com/robokitlabs/orderflow/pkg/tracing"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Create(ctx context.Context, o domain.Order, evt application.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO orders (id, number, customer, total_cents, currency, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.Number, o.Customer, o.TotalCents, o.Currency, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, sku, quantity, unit_price_cents) VALUES ($1,$2,$3,$4)`,
			o.ID, item.SKU, item.Quantity, item.UnitPriceCents)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, o.ID, evt, tracing.TraceparentFromContext(ctx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `SELECT id, number, customer, total_cents, currency, status, created_at, updated_at,
			paid_at, failed_at, fulfilled_at, cancelled_at
		FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.Number, &o.Customer, &o.TotalCents, &o.Currency, &o.Status, &o.CreatedAt, &o.UpdatedAt,
			&o.PaidAt, &o.FailedAt, &o.FulfilledAt, &o.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, application.ErrOrderNotFound
		}
		return domain.Order{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT sku, quantity, unit_price_cents FROM order_items WHERE order_id=$1`, id)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.SKU, &item.Quantity, &item.UnitPriceCents); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// ApplyTransition serializes per order via a row lock, resolves the edge
// against the current stored status, and commits the status change, the
// transition dedup record and the side-effect outbox rows in one transaction.
// A cause that was already applied commits nothing and returns applied=false.
func (r *Repository) ApplyTransition(ctx context.Context, orderID string, trigger domain.Trigger, causeEventID string, events []application.Event) (domain.Order, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var o domain.Order
	err = tx.QueryRow(ctx, `SELECT id, number, customer, total_cents, currency, status, created_at, updated_at,
			paid_at, failed_at, fulfilled_at, cancelled_at
		FROM orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan(&o.ID, &o.Number, &o.Customer, &o.TotalCents, &o.Currency, &o.Status, &o.CreatedAt, &o.UpdatedAt,
			&o.PaidAt, &o.FailedAt, &o.FulfilledAt, &o.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, false, application.ErrOrderNotFound
		}
		return domain.Order{}, false, err
	}

	// The cause check comes before edge resolution: a replayed cause whose
	// first application already moved the order must read as a duplicate, not
	// as an illegal edge from the new state.
	var dup bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM order_transitions WHERE order_id=$1 AND cause_event_id=$2)`,
		orderID, causeEventID).Scan(&dup)
	if err != nil {
		return domain.Order{}, false, err
	}
	if dup {
		return o, false, tx.Commit(ctx)
	}

	to, err := domain.Next(o.Status, trigger)
	if err != nil {
		r.log.Error("illegal order transition attempted",
			"order_id", orderID, "from", o.Status, "trigger", trigger, "cause_event_id", causeEventID)
		return o, false, err
	}

	ct, err := tx.Exec(ctx, `INSERT INTO order_transitions (order_id, to_status, cause_event_id)
		VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`, orderID, to, causeEventID)
	if err != nil {
		return domain.Order{}, false, err
	}
	if ct.RowsAffected() == 0 {
		// Lost a race on the same cause: acknowledge without re-running effects.
		return o, false, tx.Commit(ctx)
	}

	domain.Stamp(&o, to, time.Now().UTC())
	_, err = tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3, paid_at=$4, failed_at=$5, fulfilled_at=$6, cancelled_at=$7
		WHERE id=$1`,
		o.ID, o.Status, o.UpdatedAt, o.PaidAt, o.FailedAt, o.FulfilledAt, o.CancelledAt)
	if err != nil {
		return domain.Order{}, false, err
	}

	traceparent := tracing.TraceparentFromContext(ctx)
	for _, evt := range events {
		if err := insertOutbox(ctx, tx, o.ID, evt, traceparent); err != nil {
			return domain.Order{}, false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, false, err
	}
	return o, true, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, orderID string, evt application.Event, traceparent string) error {
	_, err := tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,'pending')`,
		"order", orderID, evt.Type, evt.Payload, traceparent)
	return err
}
