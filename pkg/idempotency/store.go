package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store tracks processed event ids for a bounded replay-detection window.
// Marking is deliberately split from checking: an event is marked processed
// only after its effects committed, so a crash mid-processing yields a safe
// redelivery instead of a silent loss.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) key(provider, eventID string) string {
	return "webhook:" + provider + ":" + eventID
}

// Seen reports whether the event id was already fully processed.
func (s *Store) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(provider, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed records the event id for the replay-detection window.
func (s *Store) MarkProcessed(ctx context.Context, provider, eventID string) error {
	return s.rdb.Set(ctx, s.key(provider, eventID), "1", s.ttl).Err()
}

// Claim atomically records the id and reports whether this caller saw it
// first. Used by consumers whose effects are at-least-once-safe anyway.
func (s *Store) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key(provider, eventID), "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
