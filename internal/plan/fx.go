package plan

import (
	"github.com/railzwaylabs/crmbilling/internal/plan/repository"
	"github.com/railzwaylabs/crmbilling/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
