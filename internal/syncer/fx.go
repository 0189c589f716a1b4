package syncer

import (
	"context"

	"github.com/smallbiznis/roadfuel/internal/connectivity"
	"go.uber.org/fx"
)

var Module = fx.Module("syncer",
	fx.Provide(
		NewOrchestrator,
		func(p *connectivity.Probe) Reachability { return p },
	),
	fx.Invoke(runOrchestrator),
)

func runOrchestrator(lc fx.Lifecycle, o *Orchestrator) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})
			go func() {
				defer close(done)
				_ = o.Run(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
