package session

import (
	"context"

	"github.com/smallbiznis/roadfuel/internal/gateway"
	"go.uber.org/fx"
)

var Module = fx.Module("session",
	fx.Provide(
		NewManager,
		func(m *Manager) gateway.Credentials { return m },
		func(m *Manager) gateway.Teardown { return m },
	),
	fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return m.Load(ctx)
			},
		})
	}),
)
