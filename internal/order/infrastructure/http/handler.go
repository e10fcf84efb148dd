package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/robokitlabs/orderflow/internal/order/application"
	"github.com/robokitlabs/orderflow/internal/order/domain"
	payapp "github.com/robokitlabs/orderflow/internal/payment/application"
	paydomain "github.com/robokitlabs/orderflow/internal/payment/domain"
)

type Handler struct {
	log      *slog.Logger
	service  *application.Service
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tracer:   otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/checkout", h.checkout)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/capture", h.capture)
	r.Post("/orders/{id}/refunds", h.refund)
	r.Post("/orders/{id}/fulfillment/complete", h.completeFulfillment)

	return r
}

type lineItemReq struct {
	SKU            string `json:"sku" validate:"required"`
	Quantity       int    `json:"quantity" validate:"required,gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"required,gt=0"`
}

type createOrderReq struct {
	Customer string        `json:"customer" validate:"required"`
	Currency string        `json:"currency" validate:"required,len=3"`
	Items    []lineItemReq `json:"items" validate:"required,min=1,dive"`
}

type orderResp struct {
	ID          string        `json:"id"`
	Number      string        `json:"number"`
	Customer    string        `json:"customer"`
	Items       []lineItemReq `json:"items"`
	TotalCents  int64         `json:"total_cents"`
	Currency    string        `json:"currency"`
	Status      domain.Status `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	PaidAt      *time.Time    `json:"paid_at,omitempty"`
	FulfilledAt *time.Time    `json:"fulfilled_at,omitempty"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty"`
}

func toOrderResp(o domain.Order) orderResp {
	items := make([]lineItemReq, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, lineItemReq{SKU: it.SKU, Quantity: it.Quantity, UnitPriceCents: it.UnitPriceCents})
	}
	return orderResp{
		ID:          o.ID,
		Number:      o.Number,
		Customer:    o.Customer,
		Items:       items,
		TotalCents:  o.TotalCents,
		Currency:    o.Currency,
		Status:      o.Status,
		CreatedAt:   o.CreatedAt,
		PaidAt:      o.PaidAt,
		FulfilledAt: o.FulfilledAt,
		CancelledAt: o.CancelledAt,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := make([]domain.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.LineItem{SKU: it.SKU, Quantity: it.Quantity, UnitPriceCents: it.UnitPriceCents})
	}
	o := domain.NewOrder(uuid.NewString(), req.Customer, req.Currency, items)

	if err := h.service.CreateOrder(ctx, o); err != nil {
		h.log.Error("create order failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "could not create order")
		return
	}
	h.writeJSON(w, http.StatusCreated, toOrderResp(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	o, err := h.service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.handleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResp(o))
}

type checkoutReq struct {
	Provider string `json:"provider" validate:"omitempty,oneof=cardgate walletpay"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "StartCheckout")
	defer span.End()

	var req checkoutReq
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res, err := h.service.StartCheckout(ctx, chi.URLParam(r, "id"),
		paydomain.Provider(req.Provider), r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.handleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"provider":     string(res.Provider),
		"intent_id":    res.IntentID,
		"client_token": res.ClientToken,
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	o, err := h.service.Cancel(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.handleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CaptureOrder")
	defer span.End()

	o, err := h.service.Capture(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.handleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResp(o))
}

type refundReq struct {
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	Reason      string `json:"reason"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RequestRefund")
	defer span.End()

	var req refundReq
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	out, err := h.service.RequestRefund(ctx, chi.URLParam(r, "id"), req.AmountCents, req.Reason)
	if err != nil {
		h.handleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"refund_id":    out.RefundID,
		"order_status": string(out.OrderStatus),
	})
}

func (h *Handler) completeFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CompleteFulfillment")
	defer span.End()

	o, err := h.service.CompleteFulfillment(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.handleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *Handler) handleErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, application.ErrOrderNotPayable),
		errors.Is(err, application.ErrOrderNotRefundable),
		errors.Is(err, payapp.ErrAlreadyRefunded),
		errors.Is(err, payapp.ErrDuplicateSuccess),
		errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payapp.ErrAmountExceedsCaptured):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, payapp.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payapp.ErrProviderUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "payment provider unavailable, retry later")
	default:
		h.log.Error("request failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}
