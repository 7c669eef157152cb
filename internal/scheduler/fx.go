package scheduler

import "go.uber.org/fx"

var Module = fx.Module("payment.poller",
	fx.Provide(NewPoller),
	fx.Invoke(register),
)
