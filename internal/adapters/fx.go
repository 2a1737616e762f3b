// Package adapters wires the built-in device classes into the registry.
package adapters

import (
	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/digitraceslab/koota/internal/adapters/aware"
	"github.com/digitraceslab/koota/internal/adapters/bedsensor"
	"github.com/digitraceslab/koota/internal/adapters/oauthsvc"
	"github.com/digitraceslab/koota/internal/adapters/purple"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("adapters",
	fx.Provide(
		adapter.NewRegistry,
		aware.New,
		bedsensor.New,
		purple.New,
		oauthsvc.NewSet,
	),
	fx.Invoke(Register),
)

type RegisterParams struct {
	fx.In

	Log       *zap.Logger
	Registry  *adapter.Registry
	Aware     *aware.Adapter
	BedSensor *bedsensor.Adapter
	Purple    *purple.Adapter
	OAuth     []*oauthsvc.Adapter
}

// Register adds every built-in adapter to the registry. It runs before the
// server starts accepting requests, after which the registry is read only.
func Register(p RegisterParams) error {
	regs := []struct {
		a   adapter.Adapter
		reg adapter.Registration
	}{
		{p.Aware, aware.Registration},
		{p.Purple, purple.Registration},
		{p.BedSensor, bedsensor.Registration},
	}
	for _, svc := range p.OAuth {
		regs = append(regs, struct {
			a   adapter.Adapter
			reg adapter.Registration
		}{svc, svc.Registration()})
	}

	for _, r := range regs {
		if err := p.Registry.Register(r.a, r.reg); err != nil {
			return err
		}
		p.Log.Debug("adapter registered", zap.String("adapter", r.reg.Name), zap.String("model", r.reg.Model))
	}
	return nil
}
