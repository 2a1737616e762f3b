package apikey

import (
	"github.com/digitraceslab/koota/internal/apikey/repository"
	"github.com/digitraceslab/koota/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
