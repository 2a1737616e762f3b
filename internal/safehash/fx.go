package safehash

import (
	"github.com/digitraceslab/koota/internal/config"
	"go.uber.org/fx"
)

func provideSecrets(cfg config.Config) (Secrets, error) {
	return LoadSecrets(cfg.SecretDir)
}

var Module = fx.Module("safehash",
	fx.Provide(provideSecrets),
)
