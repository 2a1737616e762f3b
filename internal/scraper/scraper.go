// Package scraper periodically pulls data for linked OAuth devices.
package scraper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/digitraceslab/koota/internal/clock"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	obslogger "github.com/digitraceslab/koota/internal/observability/logger"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidConfig = errors.New("invalid_scraper_config")

// backoffer is implemented by errors that ask the caller to pause a service.
type backoffer interface {
	Backoff() time.Duration
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Devices  devicedomain.Service
	Registry *adapter.Registry
	Config   Config `optional:"true"`
}

// Scraper runs at most one scrape per device at a time and pauses a service
// after it reports a rate limit.
type Scraper struct {
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	devices  devicedomain.Service
	registry *adapter.Registry

	mu       sync.Mutex
	inflight map[string]struct{}
	pausedTo map[string]time.Time
}

// Result summarizes one pass.
type Result struct {
	RunID   string
	Devices int
	Pages   int
	Skipped int
	Failed  int
}

func New(p Params) (*Scraper, error) {
	if p.Log == nil || p.Clock == nil || p.Devices == nil || p.Registry == nil {
		return nil, ErrInvalidConfig
	}
	return &Scraper{
		log:      p.Log.Named("scraper"),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		devices:  p.Devices,
		registry: p.Registry,
		inflight: map[string]struct{}{},
		pausedTo: map[string]time.Time{},
	}, nil
}

// RunOnce scrapes every linked device once.
func (s *Scraper) RunOnce(parent context.Context) (Result, error) {
	res := Result{RunID: ulid.Make().String()}
	ctx := obslogger.WithRequestID(parent, res.RunID)
	log := obslogger.WithContext(ctx, s.log)

	types := s.oauthTypes()
	if len(types) == 0 {
		return res, nil
	}
	linked, err := s.devices.LinkedOAuth(ctx, types)
	if err != nil {
		return res, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range linked {
		o := &linked[i]
		d, err := s.devices.Get(ctx, o.DeviceID)
		if err != nil {
			log.Warn("linked device lookup failed", zap.String("device_id", o.DeviceID), zap.Error(err))
			res.Failed++
			continue
		}
		entry, _ := s.registry.Lookup(d.Type)
		sc, ok := entry.Adapter.(adapter.Scraper)
		if !ok || s.paused(entry.Name) || !s.claim(d.ID) {
			res.Skipped++
			continue
		}

		g.Go(func() error {
			defer s.release(d.ID)
			dctx, cancel := context.WithTimeout(obslogger.WithDeviceID(gctx, d.PublicID), s.cfg.RunTimeout)
			defer cancel()

			pages, err := sc.Scrape(dctx, o)
			mu.Lock()
			res.Devices++
			res.Pages += pages
			if err != nil {
				res.Failed++
			}
			mu.Unlock()

			var b backoffer
			if errors.As(err, &b) && b.Backoff() > 0 {
				s.pause(entry.Name, b.Backoff())
				obslogger.WithContext(dctx, log).Warn("service paused",
					zap.String("service", entry.Name),
					zap.Duration("retry_after", b.Backoff()),
				)
			}
			// one device failing never stops the others
			return nil
		})
	}
	err = g.Wait()

	log.Info("scraper.run.finish",
		zap.Int("devices", res.Devices),
		zap.Int("pages", res.Pages),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, err
}

// RunForever scrapes on every tick until ctx is done.
func (s *Scraper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("scraper run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scraper) oauthTypes() []string {
	var types []string
	for _, e := range s.registry.Entries() {
		if e.Model != adapter.ModelOAuth {
			continue
		}
		types = append(types, e.Name)
		types = append(types, e.Aliases...)
	}
	return types
}

func (s *Scraper) claim(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[deviceID]; busy {
		return false
	}
	s.inflight[deviceID] = struct{}{}
	return true
}

func (s *Scraper) release(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, deviceID)
}

func (s *Scraper) pause(service string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until := s.clock.Now().Add(d)
	if until.After(s.pausedTo[service]) {
		s.pausedTo[service] = until
	}
}

func (s *Scraper) paused(service string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.pausedTo[service]
	if !ok {
		return false
	}
	if !s.clock.Now().Before(until) {
		delete(s.pausedTo, service)
		return false
	}
	return true
}
