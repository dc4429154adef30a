package subscriptionprovider

import (
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	"github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("subscriptionprovider",
	fx.Provide(NewRegistry),
	fx.Provide(provideProvider),
)

func provideProvider(cfg config.Config, registry *Registry, m *metrics.Metrics, log *zap.Logger) (domain.Provider, error) {
	p, err := registry.New(cfg.BillingProvider, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("subscription provider selected", zap.String("provider", p.Name()))
	return Instrument(p, m, log), nil
}
