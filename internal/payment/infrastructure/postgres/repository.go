package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robokitlabs/orderflow/internal/payment/application"
	"github.com/robokitlabs/orderflow/internal/payment/domain"
)

// uniqueViolation is the postgres error code raised by the partial unique
// index on (order_id) over active intents.
const uniqueViolation = "23505"

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// Save persists an intent. Re-saving the same intent id is a no-op, so a
// retried checkout that reached the provider twice cannot duplicate the
// record. A second active intent for the same order trips the partial unique
// index and surfaces as ErrActiveIntentExists.
func (r *Repository) Save(ctx context.Context, i domain.PaymentIntent) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO payment_intents
			(id, order_id, provider, amount_cents, currency, status, client_token, idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING`,
		i.ID, i.OrderID, i.Provider, i.AmountCents, i.Currency, i.Status, i.ClientToken, i.IdempotencyKey, i.CreatedAt, i.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return application.ErrActiveIntentExists
		}
		return err
	}
	return nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (domain.PaymentIntent, error) {
	return r.findOne(ctx, `SELECT id, order_id, provider, amount_cents, currency, status, client_token, idempotency_key, created_at, updated_at
		FROM payment_intents WHERE id=$1`, id)
}

func (r *Repository) FindActiveByOrder(ctx context.Context, orderID string) (domain.PaymentIntent, error) {
	return r.findOne(ctx, `SELECT id, order_id, provider, amount_cents, currency, status, client_token, idempotency_key, created_at, updated_at
		FROM payment_intents WHERE order_id=$1 AND status IN ('created','requires_action')`, orderID)
}

func (r *Repository) FindCapturedByOrder(ctx context.Context, orderID string) (domain.PaymentIntent, error) {
	return r.findOne(ctx, `SELECT id, order_id, provider, amount_cents, currency, status, client_token, idempotency_key, created_at, updated_at
		FROM payment_intents WHERE order_id=$1 AND status IN ('succeeded','partially_refunded','refunded')
		ORDER BY updated_at DESC LIMIT 1`, orderID)
}

func (r *Repository) findOne(ctx context.Context, query string, args ...any) (domain.PaymentIntent, error) {
	var i domain.PaymentIntent
	err := r.pool.QueryRow(ctx, query, args...).
		Scan(&i.ID, &i.OrderID, &i.Provider, &i.AmountCents, &i.Currency, &i.Status, &i.ClientToken, &i.IdempotencyKey, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PaymentIntent{}, application.ErrIntentNotFound
		}
		return domain.PaymentIntent{}, err
	}
	return i, nil
}

// UpdateStatus is a compare-and-set: the row only changes if it still carries
// the status the caller read. A stale succeeded->failed overwrite racing a
// fresher succeeded write loses here instead of clobbering it.
func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to domain.IntentStatus) error {
	if !(domain.PaymentIntent{Status: from}).CanBecome(to) {
		return application.ErrStaleStatus
	}
	ct, err := r.pool.Exec(ctx, `UPDATE payment_intents SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`, id, from, to)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrStaleStatus
	}
	return nil
}

func (r *Repository) SaveRefund(ctx context.Context, ref domain.Refund) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO refunds (id, intent_id, order_id, amount_cents, reason, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status`,
		ref.ID, ref.IntentID, ref.OrderID, ref.AmountCents, ref.Reason, ref.Status, ref.CreatedAt)
	return err
}

func (r *Repository) SumRefunded(ctx context.Context, intentID string) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount_cents), 0) FROM refunds WHERE intent_id=$1 AND status <> 'failed'`, intentID).
		Scan(&sum)
	return sum, err
}
