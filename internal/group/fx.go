package group

import (
	"github.com/digitraceslab/koota/internal/group/repository"
	"github.com/digitraceslab/koota/internal/group/service"
	"go.uber.org/fx"
)

var Module = fx.Module("group.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
