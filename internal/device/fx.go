package device

import (
	"github.com/digitraceslab/koota/internal/device/repository"
	"github.com/digitraceslab/koota/internal/device/service"
	"go.uber.org/fx"
)

var Module = fx.Module("device.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
