package refuel

import (
	"github.com/smallbiznis/roadfuel/internal/offline"
	"go.uber.org/fx"
)

var Module = fx.Module("refuel",
	fx.Provide(
		NewService,
		fx.Annotate(
			func(s *Service) offline.Coordinator { return s },
			fx.ResultTags(`group:"coordinators"`),
		),
	),
)
