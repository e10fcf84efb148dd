package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	orderdomain "github.com/robokitlabs/orderflow/internal/order/domain"
	payapp "github.com/robokitlabs/orderflow/internal/payment/application"
	paydomain "github.com/robokitlabs/orderflow/internal/payment/domain"
)

// DedupStore remembers processed provider event ids for the replay window.
type DedupStore interface {
	Seen(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) error
}

// Conflict is a reconciliation problem parked for manual review: the provider
// told us something the order's current state cannot absorb.
type Conflict struct {
	Provider        string
	ProviderEventID string
	OrderID         string
	IntentID        string
	Kind            string
	Detail          string
}

const (
	ConflictInvalidTransition = "invalid_transition"
	ConflictDuplicateSuccess  = "duplicate_success"
	ConflictStaleStatus       = "stale_status"
	ConflictOrderUnresolved   = "order_unresolved"
	ConflictDispute           = "dispute"
)

type ConflictLog interface {
	Record(ctx context.Context, c Conflict) error
}

// OrderService is the slice of the order service the reconciler drives.
type OrderService interface {
	HandlePaymentSucceeded(ctx context.Context, intent paydomain.PaymentIntent, causeEventID string) (orderdomain.Order, error)
	HandlePaymentFailed(ctx context.Context, intent paydomain.PaymentIntent, causeEventID, reason string) (orderdomain.Order, error)
	HandleRequiresAction(ctx context.Context, intent paydomain.PaymentIntent)
	HandleRefundCompleted(ctx context.Context, intent paydomain.PaymentIntent, refundID string, amountCents int64, reason string) (orderdomain.Order, error)
}

// Reconciler turns verified provider webhooks into state-machine transitions:
// verify, dedup, resolve the order, transition, then mark processed, in that
// order, so a crash mid-processing causes a safe redelivery.
type Reconciler struct {
	log       *slog.Logger
	providers *payapp.Registry
	dedup     DedupStore
	intents   payapp.IntentStore
	svc       OrderService
	conflicts ConflictLog
}

func New(log *slog.Logger, providers *payapp.Registry, dedup DedupStore, intents payapp.IntentStore, svc OrderService, conflicts ConflictLog) *Reconciler {
	return &Reconciler{
		log:       log,
		providers: providers,
		dedup:     dedup,
		intents:   intents,
		svc:       svc,
		conflicts: conflicts,
	}
}

// Process handles one inbound webhook delivery. ErrInvalidSignature means the
// payload was never trusted and nothing was recorded; any other returned error
// is transient and the provider should redeliver. A nil return acknowledges
// receipt, including for conflicts where redelivery would not help.
func (r *Reconciler) Process(ctx context.Context, providerName paydomain.Provider, payload []byte, signatureHeader string) error {
	provider, err := r.providers.Get(providerName)
	if err != nil {
		return err
	}

	// Verification comes first: an unverifiable payload is not read, logged,
	// or recorded, not even its event id.
	evt, err := provider.ParseWebhook(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, payapp.ErrInvalidSignature) {
			return err
		}
		// Verified but unusable (unknown type, malformed body). Redelivery
		// would not change it; acknowledge and move on.
		r.log.Info("webhook event ignored", "provider", providerName, "err", err)
		return nil
	}

	seen, err := r.dedup.Seen(ctx, string(evt.Provider), evt.ProviderEventID)
	if err != nil {
		return err
	}
	if seen {
		r.log.Info("duplicate webhook dropped", "provider", evt.Provider, "event_id", evt.ProviderEventID)
		return nil
	}

	if err := r.apply(ctx, evt); err != nil {
		return err
	}

	// Marked only after the transition (or conflict record) is durable.
	return r.dedup.MarkProcessed(ctx, string(evt.Provider), evt.ProviderEventID)
}

func (r *Reconciler) apply(ctx context.Context, evt paydomain.NormalizedEvent) error {
	intent, err := r.resolveIntent(ctx, evt)
	if err != nil {
		if errors.Is(err, payapp.ErrIntentNotFound) {
			r.log.Error("webhook order unresolved", "provider", evt.Provider,
				"event_id", evt.ProviderEventID, "intent_id", evt.IntentID)
			return r.conflicts.Record(ctx, Conflict{
				Provider:        string(evt.Provider),
				ProviderEventID: evt.ProviderEventID,
				IntentID:        evt.IntentID,
				Kind:            ConflictOrderUnresolved,
				Detail:          "no stored intent and no order hint in event",
			})
		}
		return err
	}

	switch evt.Type {
	case paydomain.EventPaymentSucceeded:
		_, err = r.svc.HandlePaymentSucceeded(ctx, intent, evt.ProviderEventID)
	case paydomain.EventPaymentFailed:
		_, err = r.svc.HandlePaymentFailed(ctx, intent, evt.ProviderEventID, evt.Reason)
	case paydomain.EventRequiresAction:
		r.svc.HandleRequiresAction(ctx, intent)
	case paydomain.EventRefundCompleted:
		amount := evt.AmountCents
		if amount == 0 {
			amount = intent.AmountCents
		}
		_, err = r.svc.HandleRefundCompleted(ctx, intent, evt.RefundID, amount, evt.Reason)
	case paydomain.EventDisputeOpened:
		r.log.Error("payment dispute opened", "provider", evt.Provider,
			"order_id", intent.OrderID, "intent_id", intent.ID)
		return r.conflicts.Record(ctx, Conflict{
			Provider:        string(evt.Provider),
			ProviderEventID: evt.ProviderEventID,
			OrderID:         intent.OrderID,
			IntentID:        intent.ID,
			Kind:            ConflictDispute,
			Detail:          evt.Reason,
		})
	}
	if err == nil {
		return nil
	}

	kind := conflictKind(err)
	if kind == "" {
		// Transient (store unavailable and the like): let the provider
		// redeliver.
		return err
	}
	// A late or contradictory event: the order stays in its last valid state,
	// the conflict is parked for a human, and the delivery is acknowledged.
	r.log.Error("reconciliation conflict", "provider", evt.Provider, "event_id", evt.ProviderEventID,
		"order_id", intent.OrderID, "intent_id", intent.ID, "kind", kind, "err", err)
	return r.conflicts.Record(ctx, Conflict{
		Provider:        string(evt.Provider),
		ProviderEventID: evt.ProviderEventID,
		OrderID:         intent.OrderID,
		IntentID:        intent.ID,
		Kind:            kind,
		Detail:          err.Error(),
	})
}

// resolveIntent finds the order link for an event: the stored intent when we
// have it, otherwise a new record built from the event's order hint (the
// webhook may have outrun the checkout's own write).
func (r *Reconciler) resolveIntent(ctx context.Context, evt paydomain.NormalizedEvent) (paydomain.PaymentIntent, error) {
	intent, err := r.intents.FindByID(ctx, evt.IntentID)
	if err == nil {
		return intent, nil
	}
	if !errors.Is(err, payapp.ErrIntentNotFound) || evt.OrderHint == "" {
		return paydomain.PaymentIntent{}, err
	}

	now := time.Now().UTC()
	intent = paydomain.PaymentIntent{
		ID:          evt.IntentID,
		OrderID:     evt.OrderHint,
		Provider:    evt.Provider,
		AmountCents: evt.AmountCents,
		Status:      paydomain.IntentCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.intents.Save(ctx, intent); err != nil {
		if errors.Is(err, payapp.ErrActiveIntentExists) {
			return paydomain.PaymentIntent{}, fmt.Errorf("%w: conflicting active intent for order %s", payapp.ErrIntentNotFound, evt.OrderHint)
		}
		return paydomain.PaymentIntent{}, err
	}
	r.log.Info("intent recorded from webhook hint", "intent_id", intent.ID, "order_id", intent.OrderID)
	return intent, nil
}

func conflictKind(err error) string {
	switch {
	case errors.Is(err, orderdomain.ErrInvalidTransition):
		return ConflictInvalidTransition
	case errors.Is(err, payapp.ErrDuplicateSuccess):
		return ConflictDuplicateSuccess
	case errors.Is(err, payapp.ErrStaleStatus):
		return ConflictStaleStatus
	}
	return ""
}
