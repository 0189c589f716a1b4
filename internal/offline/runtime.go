package offline

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/roadfuel/internal/clock"
	"github.com/smallbiznis/roadfuel/internal/config"
	obsmetrics "github.com/smallbiznis/roadfuel/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PolicySource returns the retry policy in force right now.
type PolicySource interface {
	Get() config.SyncPolicy
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Clock       clock.Clock
	Log         *zap.Logger
	Policy      PolicySource
	GenID       *snowflake.Node
	SyncMetrics *obsmetrics.SyncMetrics `optional:"true"`
	Metrics     *obsmetrics.Metrics     `optional:"true"`
}

// Runtime bundles what every coordinator needs to queue and drain writes.
type Runtime struct {
	DB           *gorm.DB
	Clock        clock.Clock
	Log          *zap.Logger
	Policy       PolicySource
	GenID        *snowflake.Node
	SyncMetrics  *obsmetrics.SyncMetrics
	Metrics      *obsmetrics.Metrics
	Placeholders *PlaceholderGen
	IDMap        *IDMap
	DeadLetters  *DeadLetters
}

func NewRuntime(p Params) *Runtime {
	return &Runtime{
		DB:           p.DB,
		Clock:        p.Clock,
		Log:          p.Log.Named("offline"),
		Policy:       p.Policy,
		GenID:        p.GenID,
		SyncMetrics:  p.SyncMetrics,
		Metrics:      p.Metrics,
		Placeholders: NewPlaceholderGen(p.Clock),
		IDMap:        NewIDMap(p.DB, p.Clock),
		DeadLetters:  NewDeadLetters(p.DB),
	}
}

func provideDeadLetters(rt *Runtime) *DeadLetters { return rt.DeadLetters }

var Module = fx.Module("offline",
	fx.Provide(
		NewRuntime,
		provideDeadLetters,
		func(h *config.SyncPolicyHolder) PolicySource { return h },
	),
)
