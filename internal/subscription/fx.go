package subscription

import (
	"github.com/railzwaylabs/crmbilling/internal/subscription/repository"
	"github.com/railzwaylabs/crmbilling/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
