package observability

import (
	"context"
	"strings"

	"github.com/railzwaylabs/crmbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the root logger. Production uses the JSON encoder, every
// other environment gets the colored console encoder.
func NewLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "ts"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level := strings.TrimSpace(cfg.Observability.LogLevel); level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			zcfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	logger, err := zcfg.Build(zap.Fields(
		zap.String("service", serviceName(cfg)),
		zap.String("env", cfg.AppEnv),
	))
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})

	return logger, nil
}

func serviceName(cfg config.Config) string {
	if name := strings.TrimSpace(cfg.Observability.ServiceName); name != "" {
		return name
	}
	return cfg.AppName
}
