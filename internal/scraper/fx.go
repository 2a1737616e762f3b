package scraper

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("scraper",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(startScraper),
)

func startScraper(lc fx.Lifecycle, cfg Config, s *Scraper) {
	if !cfg.Enabled {
		return
	}

	var cancel context.CancelFunc
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				s.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
