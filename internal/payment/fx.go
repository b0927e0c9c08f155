package payment

import (
	"github.com/railzwaylabs/crmbilling/internal/config"
	"github.com/railzwaylabs/crmbilling/internal/payment/adapters"
	"github.com/railzwaylabs/crmbilling/internal/payment/adapters/razorpay"
	"github.com/railzwaylabs/crmbilling/internal/payment/adapters/sandbox"
	"github.com/railzwaylabs/crmbilling/internal/payment/domain"
	"github.com/railzwaylabs/crmbilling/internal/payment/reconcile"
	"github.com/railzwaylabs/crmbilling/internal/payment/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.NewTransactionRepository),
	fx.Provide(repository.NewEventRepository),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			razorpay.NewFactory(),
			sandbox.NewFactory(),
		)
	}),
	fx.Provide(NewGateway),
	fx.Provide(reconcile.New),
)

// NewGateway builds the configured gateway adapter.
func NewGateway(registry *adapters.Registry, cfg config.Config, log *zap.Logger) (domain.Gateway, error) {
	gw, err := registry.NewGateway(domain.GatewayConfig{
		Provider:      cfg.Gateway.Provider,
		BaseURL:       cfg.Gateway.BaseURL,
		KeyID:         cfg.Gateway.KeyID,
		KeySecret:     cfg.Gateway.KeySecret,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Timeout:       cfg.Gateway.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if gw.Provider() == sandbox.ProviderName && cfg.IsProduction() {
		log.Warn("sandbox payment gateway configured in production")
	}
	log.Info("payment gateway ready", zap.String("provider", gw.Provider()))
	return gw, nil
}
