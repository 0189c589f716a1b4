package gateway

import (
	"github.com/smallbiznis/roadfuel/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(func(cfg config.Config) Config {
		return Config{
			BaseURL:      cfg.APIBaseURL,
			Timeout:      cfg.APITimeout,
			TenantHeader: cfg.TenantHeader,
		}
	}),
	fx.Provide(
		New,
		func(c *Client) API { return c },
	),
)
