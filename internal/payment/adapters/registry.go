package adapters

import (
	"strings"
	"sync"

	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]paymentdomain.GatewayFactory
}

func NewRegistry(factories ...paymentdomain.GatewayFactory) *Registry {
	r := &Registry{factories: make(map[string]paymentdomain.GatewayFactory, len(factories))}
	for _, f := range factories {
		r.Register(f)
	}
	return r
}

func (r *Registry) Register(f paymentdomain.GatewayFactory) {
	if f == nil {
		return
	}
	r.mu.Lock()
	r.factories[normalize(f.Provider())] = f
	r.mu.Unlock()
}

func (r *Registry) ProviderExists(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalize(provider)]
	return ok
}

func (r *Registry) NewGateway(cfg paymentdomain.GatewayConfig) (paymentdomain.Gateway, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(cfg.Provider)]
	r.mu.RUnlock()
	if !ok {
		return nil, paymentdomain.ErrProviderNotFound
	}
	return f.NewGateway(cfg)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
