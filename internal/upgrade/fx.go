package upgrade

import (
	"github.com/railzwaylabs/crmbilling/internal/upgrade/service"
	"go.uber.org/fx"
)

var Module = fx.Module("upgrade.service",
	fx.Provide(service.New),
)
