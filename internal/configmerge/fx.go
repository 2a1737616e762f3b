package configmerge

import "go.uber.org/fx"

var Module = fx.Module("configmerge",
	fx.Provide(New),
)
