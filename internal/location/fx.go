package location

import (
	"context"

	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/session"
	"github.com/smallbiznis/roadfuel/internal/trip"
	"go.uber.org/fx"
)

var Module = fx.Module("location",
	fx.Provide(
		NewService,
		NewSampler,
		func(s *Sampler) trip.Tracker { return s },
		fx.Annotate(
			func(s *Service) offline.Coordinator { return s },
			fx.ResultTags(`group:"coordinators"`),
		),
	),
	fx.Invoke(stopOnTeardown),
	fx.Invoke(func(lc fx.Lifecycle, s *Sampler) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				s.Stop()
				return nil
			},
		})
	}),
)

// stopOnTeardown ends sampling when the session goes away, whether by
// logout or by a 401.
func stopOnTeardown(sessions *session.Manager, s *Sampler) {
	sessions.OnTeardown(func(_ context.Context, reason string) {
		s.Halt(reason)
	})
}
