package reputation

import "go.uber.org/fx"

var Module = fx.Module("reputation.ledger",
	fx.Provide(NewLedger),
)
