package application

import (
	"fmt"

	"github.com/robokitlabs/orderflow/internal/payment/domain"
)

// Registry resolves provider adapters by name.
type Registry struct {
	providers map[domain.Provider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[domain.Provider]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Get(name domain.Provider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidRequest, name)
	}
	return p, nil
}
