package application

import (
	"sync"

	"github.com/robokitlabs/orderflow/internal/order/domain"
)

// Hooks lets other layers (catalog, notification, UI) observe order lifecycle
// milestones in-process. Callbacks run synchronously after the transition has
// committed; they must not block.
type Hooks struct {
	mu        sync.RWMutex
	paid      []func(domain.Order)
	fulfilled []func(domain.Order)
	refunded  []func(domain.Order)
}

func NewHooks() *Hooks { return &Hooks{} }

func (h *Hooks) OnOrderPaid(fn func(domain.Order)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paid = append(h.paid, fn)
}

func (h *Hooks) OnOrderFulfilled(fn func(domain.Order)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fulfilled = append(h.fulfilled, fn)
}

func (h *Hooks) OnOrderRefunded(fn func(domain.Order)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refunded = append(h.refunded, fn)
}

func (h *Hooks) firePaid(o domain.Order) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.paid {
		fn(o)
	}
}

func (h *Hooks) fireFulfilled(o domain.Order) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.fulfilled {
		fn(o)
	}
}

func (h *Hooks) fireRefunded(o domain.Order) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.refunded {
		fn(o)
	}
}
