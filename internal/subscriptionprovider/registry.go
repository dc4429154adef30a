package subscriptionprovider

import (
	"strings"

	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	"github.com/smallbiznis/seatledger/internal/subscriptionprovider/memory"
	"github.com/smallbiznis/seatledger/internal/subscriptionprovider/stripe"
)

// Factory builds a Provider from process configuration.
type Factory func(cfg config.Config) (domain.Provider, error)

type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register(config.ProviderStripe, func(cfg config.Config) (domain.Provider, error) {
		return stripe.New(stripe.Config{
			SecretKey: cfg.Stripe.SecretKey,
			Currency:  cfg.Stripe.Currency,
		})
	})
	r.Register(config.ProviderMemory, func(config.Config) (domain.Provider, error) {
		return memory.New(), nil
	})
	return r
}

func (r *Registry) Register(name string, factory Factory) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || factory == nil {
		return
	}
	r.factories[name] = factory
}

func (r *Registry) New(name string, cfg config.Config) (domain.Provider, error) {
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory(cfg)
}
