package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(lc fx.Lifecycle, conn *gorm.DB, cfg config.Config, genID *snowflake.Node, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return Run(ctx, conn, cfg.Plans, genID, log.Named("migration"))
			},
		})
	}),
)
