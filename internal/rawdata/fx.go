package rawdata

import (
	"github.com/digitraceslab/koota/internal/rawdata/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("rawdata.store",
	fx.Provide(repository.Provide),
)
