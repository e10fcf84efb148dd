package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robokitlabs/orderflow/internal/reconciler"
)

// ConflictStore persists reconciliation conflicts for manual review.
type ConflictStore struct {
	pool *pgxpool.Pool
}

func NewConflictStore(pool *pgxpool.Pool) *ConflictStore {
	return &ConflictStore{pool: pool}
}

func (s *ConflictStore) Record(ctx context.Context, c reconciler.Conflict) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciliation_conflicts
			(id, provider, provider_event_id, order_id, intent_id, kind, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider, provider_event_id, kind) DO NOTHING
	`, uuid.NewString(), c.Provider, c.ProviderEventID, nilEmpty(c.OrderID), nilEmpty(c.IntentID), c.Kind, c.Detail, time.Now().UTC())
	return err
}

// Open lists unresolved conflicts, newest first.
func (s *ConflictStore) Open(ctx context.Context, limit int) ([]reconciler.Conflict, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT provider, provider_event_id, COALESCE(order_id, ''), COALESCE(intent_id, ''), kind, detail
		FROM reconciliation_conflicts
		WHERE resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reconciler.Conflict
	for rows.Next() {
		var c reconciler.Conflict
		if err := rows.Scan(&c.Provider, &c.ProviderEventID, &c.OrderID, &c.IntentID, &c.Kind, &c.Detail); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nilEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
