package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/robokitlabs/orderflow/internal/order/domain"
	payapp "github.com/robokitlabs/orderflow/internal/payment/application"
	paydomain "github.com/robokitlabs/orderflow/internal/payment/domain"
)

// Service owns every order mutation. All state changes flow through
// OrderRepository.ApplyTransition; nothing writes order fields directly.
type Service struct {
	log       *slog.Logger
	orders    OrderRepository
	intents   payapp.IntentStore
	providers *payapp.Registry
	hooks     *Hooks
}

func NewService(log *slog.Logger, orders OrderRepository, intents payapp.IntentStore, providers *payapp.Registry) *Service {
	return &Service{
		log:       log,
		orders:    orders,
		intents:   intents,
		providers: providers,
		hooks:     NewHooks(),
	}
}

func (s *Service) Hooks() *Hooks { return s.hooks }

func (s *Service) CreateOrder(ctx context.Context, o domain.Order) error {
	payload, err := json.Marshal(domain.OrderCreated{
		OrderID:    o.ID,
		Number:     o.Number,
		Customer:   o.Customer,
		TotalCents: o.TotalCents,
		Currency:   o.Currency,
		Items:      o.Items,
	})
	if err != nil {
		return err
	}
	return s.orders.Create(ctx, o, Event{Type: "OrderCreated", Payload: payload})
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.orders.Get(ctx, id)
}

type CheckoutResult struct {
	Provider    paydomain.Provider
	IntentID    string
	ClientToken string
}

// StartCheckout creates or reuses the order's payment intent and moves the
// order to awaiting_payment. A retried request with the same idempotency key
// never produces a second intent: an active intent short-circuits before the
// provider is called, and the key is passed through verbatim otherwise.
func (s *Service) StartCheckout(ctx context.Context, orderID string, provider paydomain.Provider, idempotencyKey string) (CheckoutResult, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if !o.Payable() {
		return CheckoutResult{}, ErrOrderNotPayable
	}

	if cur, err := s.intents.FindActiveByOrder(ctx, orderID); err == nil {
		return CheckoutResult{Provider: cur.Provider, IntentID: cur.ID, ClientToken: cur.ClientToken}, nil
	} else if !errors.Is(err, payapp.ErrIntentNotFound) {
		return CheckoutResult{}, err
	}

	if provider == "" {
		provider = paydomain.ProviderCardgate
	}
	adapter, err := s.providers.Get(provider)
	if err != nil {
		return CheckoutResult{}, err
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	res, err := adapter.CreateIntent(ctx, payapp.CreateIntentParams{
		OrderID:        o.ID,
		AmountCents:    o.TotalCents,
		Currency:       o.Currency,
		Customer:       o.Customer,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	now := time.Now().UTC()
	intent := paydomain.PaymentIntent{
		ID:             res.IntentID,
		OrderID:        o.ID,
		Provider:       provider,
		AmountCents:    o.TotalCents,
		Currency:       o.Currency,
		Status:         res.Status,
		ClientToken:    res.ClientToken,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.intents.Save(ctx, intent); err != nil {
		if errors.Is(err, payapp.ErrActiveIntentExists) {
			if cur, lerr := s.intents.FindActiveByOrder(ctx, orderID); lerr == nil {
				return CheckoutResult{Provider: cur.Provider, IntentID: cur.ID, ClientToken: cur.ClientToken}, nil
			}
		}
		return CheckoutResult{}, err
	}

	var trigger domain.Trigger
	switch o.Status {
	case domain.StatusPending:
		trigger = domain.TriggerCheckoutStarted
	case domain.StatusPaymentFailed:
		trigger = domain.TriggerCheckoutRetried
	}
	if trigger != "" {
		if _, _, err := s.orders.ApplyTransition(ctx, o.ID, trigger, "intent:"+intent.ID, nil); err != nil {
			// A concurrent checkout may have moved the order already; the
			// intent is saved either way, so this is not fatal.
			if !errors.Is(err, domain.ErrInvalidTransition) {
				return CheckoutResult{}, err
			}
			s.log.Info("checkout transition skipped", "order_id", o.ID, "status", o.Status, "err", err)
		}
	}
	return CheckoutResult{Provider: provider, IntentID: intent.ID, ClientToken: intent.ClientToken}, nil
}

// Cancel moves a not-yet-paid order to cancelled and releases any held intent.
// Paid orders must go through a refund instead; that shows up here as
// ErrInvalidTransition.
func (s *Service) Cancel(ctx context.Context, orderID string) (domain.Order, error) {
	var intentID string
	if cur, err := s.intents.FindActiveByOrder(ctx, orderID); err == nil {
		intentID = cur.ID
	} else if !errors.Is(err, payapp.ErrIntentNotFound) {
		return domain.Order{}, err
	}

	payload, err := json.Marshal(domain.OrderCancelled{OrderID: orderID, IntentID: intentID})
	if err != nil {
		return domain.Order{}, err
	}
	o, _, err := s.orders.ApplyTransition(ctx, orderID, domain.TriggerCancelled, "cancel:"+orderID,
		[]Event{{Type: "OrderCancelled", Payload: payload}})
	if err != nil {
		return domain.Order{}, err
	}

	if intentID != "" {
		cur, err := s.intents.FindByID(ctx, intentID)
		if err == nil && cur.Active() {
			if err := s.intents.UpdateStatus(ctx, intentID, cur.Status, paydomain.IntentFailed); err != nil {
				s.log.Error("release of held intent failed", "order_id", orderID, "intent_id", intentID, "err", err)
			}
		}
	}
	return o, nil
}

// Capture confirms the order's active intent server-side. A capture timeout is
// ambiguous, so the provider is re-queried for the true intent status before
// the order's fate is decided.
func (s *Service) Capture(ctx context.Context, orderID string) (domain.Order, error) {
	intent, err := s.intents.FindActiveByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, payapp.ErrIntentNotFound) {
			return domain.Order{}, ErrOrderNotPayable
		}
		return domain.Order{}, err
	}
	adapter, err := s.providers.Get(intent.Provider)
	if err != nil {
		return domain.Order{}, err
	}

	status, err := adapter.ConfirmOrCapture(ctx, intent.ID)
	if errors.Is(err, payapp.ErrProviderUnavailable) {
		status, err = adapter.GetIntent(ctx, intent.ID)
	}
	if err != nil {
		return domain.Order{}, err
	}

	switch status {
	case paydomain.IntentSucceeded:
		return s.HandlePaymentSucceeded(ctx, intent, "capture:"+intent.ID)
	case paydomain.IntentFailed:
		return s.HandlePaymentFailed(ctx, intent, "capture:"+intent.ID, "capture declined")
	case paydomain.IntentRequiresAction:
		s.HandleRequiresAction(ctx, intent)
		return s.orders.Get(ctx, orderID)
	default:
		return s.orders.Get(ctx, orderID)
	}
}

// HandlePaymentSucceeded records the success on the intent and drives the
// awaiting_payment -> paid transition. causeEventID keys the transition's
// idempotency, so a redelivered cause applies nothing twice.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, intent paydomain.PaymentIntent, causeEventID string) (domain.Order, error) {
	if prev, err := s.intents.FindCapturedByOrder(ctx, intent.OrderID); err == nil && prev.ID != intent.ID {
		s.log.Error("duplicate payment success", "order_id", intent.OrderID,
			"intent_id", intent.ID, "prior_intent_id", prev.ID)
		return domain.Order{}, payapp.ErrDuplicateSuccess
	} else if err != nil && !errors.Is(err, payapp.ErrIntentNotFound) {
		return domain.Order{}, err
	}

	if intent.Status != paydomain.IntentSucceeded {
		if err := s.intents.UpdateStatus(ctx, intent.ID, intent.Status, paydomain.IntentSucceeded); err != nil {
			if !errors.Is(err, payapp.ErrStaleStatus) {
				return domain.Order{}, err
			}
			cur, ferr := s.intents.FindByID(ctx, intent.ID)
			if ferr != nil {
				return domain.Order{}, ferr
			}
			if cur.Status != paydomain.IntentSucceeded {
				return domain.Order{}, err
			}
		}
	}

	payload, err := json.Marshal(domain.OrderPaid{
		OrderID:     intent.OrderID,
		IntentID:    intent.ID,
		AmountCents: intent.AmountCents,
		Currency:    intent.Currency,
	})
	if err != nil {
		return domain.Order{}, err
	}
	o, applied, err := s.orders.ApplyTransition(ctx, intent.OrderID, domain.TriggerPaymentSucceeded, causeEventID,
		[]Event{{Type: "OrderPaid", Payload: payload}})
	if err != nil {
		return domain.Order{}, err
	}
	if applied {
		s.log.Info("order paid", "order_id", o.ID, "intent_id", intent.ID, "amount_cents", intent.AmountCents)
		s.hooks.firePaid(o)
	}
	return o, nil
}

// HandlePaymentFailed records the failure and drives awaiting_payment ->
// payment_failed, which the customer can re-enter via a new checkout.
func (s *Service) HandlePaymentFailed(ctx context.Context, intent paydomain.PaymentIntent, causeEventID, reason string) (domain.Order, error) {
	if intent.Status != paydomain.IntentFailed {
		if err := s.intents.UpdateStatus(ctx, intent.ID, intent.Status, paydomain.IntentFailed); err != nil && !errors.Is(err, payapp.ErrStaleStatus) {
			return domain.Order{}, err
		}
	}
	payload, err := json.Marshal(domain.OrderPaymentFailed{OrderID: intent.OrderID, IntentID: intent.ID, Reason: reason})
	if err != nil {
		return domain.Order{}, err
	}
	o, applied, err := s.orders.ApplyTransition(ctx, intent.OrderID, domain.TriggerPaymentFailed, causeEventID,
		[]Event{{Type: "OrderPaymentFailed", Payload: payload}})
	if err != nil {
		return domain.Order{}, err
	}
	if applied {
		s.log.Info("order payment failed", "order_id", o.ID, "intent_id", intent.ID, "reason", reason)
	}
	return o, nil
}

// HandleRequiresAction only advances the intent; the order stays in
// awaiting_payment until the customer completes the challenge.
func (s *Service) HandleRequiresAction(ctx context.Context, intent paydomain.PaymentIntent) {
	if intent.Status != paydomain.IntentCreated {
		return
	}
	if err := s.intents.UpdateStatus(ctx, intent.ID, intent.Status, paydomain.IntentRequiresAction); err != nil && !errors.Is(err, payapp.ErrStaleStatus) {
		s.log.Error("requires_action update failed", "intent_id", intent.ID, "err", err)
	}
}

// HandleRefundCompleted upserts the refund record, decides full vs partial
// from the running refunded total, and drives the matching transition. The
// provider refund id keys the idempotency, so the synchronous refund path and
// a later refund_completed webhook collapse into one applied transition.
func (s *Service) HandleRefundCompleted(ctx context.Context, intent paydomain.PaymentIntent, refundID string, amountCents int64, reason string) (domain.Order, error) {
	if err := s.intents.SaveRefund(ctx, paydomain.Refund{
		ID:          refundID,
		IntentID:    intent.ID,
		OrderID:     intent.OrderID,
		AmountCents: amountCents,
		Reason:      reason,
		Status:      paydomain.RefundSucceeded,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return domain.Order{}, err
	}

	refunded, err := s.intents.SumRefunded(ctx, intent.ID)
	if err != nil {
		return domain.Order{}, err
	}
	full := refunded >= intent.AmountCents

	target := paydomain.IntentPartiallyRefunded
	trigger := domain.TriggerPartialRefund
	if full {
		target = paydomain.IntentRefunded
		trigger = domain.TriggerRefundCompleted
	}
	if intent.Status != target {
		if err := s.intents.UpdateStatus(ctx, intent.ID, intent.Status, target); err != nil && !errors.Is(err, payapp.ErrStaleStatus) {
			return domain.Order{}, err
		}
	}

	payload, err := json.Marshal(domain.OrderRefunded{
		OrderID:     intent.OrderID,
		RefundID:    refundID,
		AmountCents: amountCents,
		Partial:     !full,
	})
	if err != nil {
		return domain.Order{}, err
	}
	o, applied, err := s.orders.ApplyTransition(ctx, intent.OrderID, trigger, "refund:"+refundID,
		[]Event{{Type: "OrderRefunded", Payload: payload}})
	if err != nil {
		return domain.Order{}, err
	}
	if applied {
		s.log.Info("order refunded", "order_id", o.ID, "refund_id", refundID,
			"amount_cents", amountCents, "partial", !full)
		s.hooks.fireRefunded(o)
	}
	return o, nil
}

type RefundOutcome struct {
	RefundID    string
	OrderStatus domain.Status
}

// RequestRefund validates the amount against what remains captured, issues the
// refund at the provider and, when the provider completes it synchronously,
// applies the transition immediately.
func (s *Service) RequestRefund(ctx context.Context, orderID string, amountCents int64, reason string) (RefundOutcome, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return RefundOutcome{}, err
	}
	if !o.Refundable() {
		return RefundOutcome{}, ErrOrderNotRefundable
	}
	intent, err := s.intents.FindCapturedByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, payapp.ErrIntentNotFound) {
			return RefundOutcome{}, ErrOrderNotRefundable
		}
		return RefundOutcome{}, err
	}

	refunded, err := s.intents.SumRefunded(ctx, intent.ID)
	if err != nil {
		return RefundOutcome{}, err
	}
	remaining := intent.AmountCents - refunded
	if remaining <= 0 {
		return RefundOutcome{}, payapp.ErrAlreadyRefunded
	}
	if amountCents == 0 {
		amountCents = remaining
	}
	if amountCents > remaining {
		return RefundOutcome{}, payapp.ErrAmountExceedsCaptured
	}

	adapter, err := s.providers.Get(intent.Provider)
	if err != nil {
		return RefundOutcome{}, err
	}
	res, err := adapter.Refund(ctx, intent.ID, amountCents, reason)
	if err != nil {
		return RefundOutcome{}, err
	}

	if res.Status == paydomain.RefundSucceeded {
		o, err = s.HandleRefundCompleted(ctx, intent, res.RefundID, amountCents, reason)
		if err != nil {
			return RefundOutcome{}, err
		}
		return RefundOutcome{RefundID: res.RefundID, OrderStatus: o.Status}, nil
	}

	if err := s.intents.SaveRefund(ctx, paydomain.Refund{
		ID:          res.RefundID,
		IntentID:    intent.ID,
		OrderID:     orderID,
		AmountCents: amountCents,
		Reason:      reason,
		Status:      res.Status,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return RefundOutcome{}, err
	}
	return RefundOutcome{RefundID: res.RefundID, OrderStatus: o.Status}, nil
}

// BeginFulfillment drives paid -> processing once fulfillment picks the order
// up. Safe to call repeatedly for the same order.
func (s *Service) BeginFulfillment(ctx context.Context, orderID string) (domain.Order, error) {
	o, _, err := s.orders.ApplyTransition(ctx, orderID, domain.TriggerFulfillmentStarted, "fulfillment-start:"+orderID, nil)
	return o, err
}

// CompleteFulfillment drives processing -> fulfilled and emits the completion
// notice.
func (s *Service) CompleteFulfillment(ctx context.Context, orderID string) (domain.Order, error) {
	payload, err := json.Marshal(domain.OrderFulfilled{OrderID: orderID})
	if err != nil {
		return domain.Order{}, err
	}
	o, applied, err := s.orders.ApplyTransition(ctx, orderID, domain.TriggerFulfillmentDone, "fulfillment-done:"+orderID,
		[]Event{{Type: "OrderFulfilled", Payload: payload}})
	if err != nil {
		return domain.Order{}, err
	}
	if applied {
		s.hooks.fireFulfilled(o)
	}
	return o, nil
}
