package geo

import (
	"github.com/smallbiznis/roadfuel/internal/clock"
	"github.com/smallbiznis/roadfuel/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("geo",
	fx.Provide(func(cfg config.Config, clk clock.Clock) Provider {
		return NewFileProvider(cfg.LocationFixPath, clk)
	}),
)
