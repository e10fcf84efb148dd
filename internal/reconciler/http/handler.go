package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/robokitlabs/orderflow/internal/payment/application"
	"github.com/robokitlabs/orderflow/internal/payment/domain"
	"github.com/robokitlabs/orderflow/internal/reconciler"
)

const maxWebhookBody = 1 << 20

// Handler receives provider webhook deliveries. The response code is the
// contract with the provider: 401 tells it the signature failed, anything
// 2xx stops redelivery, 5xx asks for another try.
type Handler struct {
	log        *slog.Logger
	reconciler *reconciler.Reconciler
	tracer     trace.Tracer
}

func NewHandler(log *slog.Logger, rec *reconciler.Reconciler) *Handler {
	return &Handler{
		log:        log,
		reconciler: rec,
		tracer:     otel.Tracer("webhook-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/cardgate", h.cardgate)
	r.Post("/webhooks/walletpay", h.walletpay)

	return r
}

func (h *Handler) cardgate(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, domain.ProviderCardgate, r.Header.Get("Cardgate-Signature"))
}

func (h *Handler) walletpay(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, domain.ProviderWalletpay, r.Header.Get("Wallet-Transmission-Signature"))
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request, provider domain.Provider, signature string) {
	ctx, span := h.tracer.Start(r.Context(), "ReceiveWebhook")
	defer span.End()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	err = h.reconciler.Process(ctx, provider, payload, signature)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"received": "true"})
	case errors.Is(err, application.ErrInvalidSignature):
		http.Error(w, "invalid signature", http.StatusUnauthorized)
	default:
		h.log.Error("webhook processing failed", "provider", provider, "error", err)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
	}
}
