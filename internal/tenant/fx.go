package tenant

import (
	"github.com/railzwaylabs/crmbilling/internal/tenant/repository"
	"github.com/railzwaylabs/crmbilling/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
