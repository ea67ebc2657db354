package rules

import "go.uber.org/fx"

var Module = fx.Module("rules",
	fx.Provide(NewEngine),
)
