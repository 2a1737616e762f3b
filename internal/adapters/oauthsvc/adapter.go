// Package oauthsvc implements devices whose data is pulled from a remote
// OAuth2 service on behalf of the subject.
package oauthsvc

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/digitraceslab/koota/internal/clock"
	"github.com/digitraceslab/koota/internal/config"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	"github.com/digitraceslab/koota/internal/observability/metrics"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// RefreshWindow is how long before expiry a token is renewed.
	RefreshWindow = 60 * time.Second
	// DefaultMaxPages bounds the pages fetched per endpoint and run.
	DefaultMaxPages = 50
)

// AttrCursor names the attribute holding the since_id of an endpoint.
func AttrCursor(endpoint string) string { return "since-" + endpoint }

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Settings config.Settings
	Devices  devicedomain.Service
	Store    rawdomain.Store
	Metrics  *metrics.Metrics `optional:"true"`
}

// Adapter serves one remote service.
type Adapter struct {
	name      string
	provider  config.OAuthProvider
	log       *zap.Logger
	clock     clock.Clock
	publicURL string
	devices   devicedomain.Service
	store     rawdomain.Store
	metrics   *metrics.Metrics
	client    *client
}

// NewSet builds an adapter for every enabled service, ordered by name.
func NewSet(p Params) []*Adapter {
	names := make([]string, 0, len(p.Settings.OAuth))
	for name, prov := range p.Settings.OAuth {
		if prov.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]*Adapter, 0, len(names))
	for _, name := range names {
		out = append(out, New(p, name, p.Settings.OAuth[name]))
	}
	return out
}

func New(p Params, name string, prov config.OAuthProvider) *Adapter {
	log := p.Log.Named("adapter.oauth").With(zap.String("service", name))
	return &Adapter{
		name:      name,
		provider:  prov,
		log:       log,
		clock:     p.Clock,
		publicURL: strings.TrimRight(p.Config.PublicURL, "/"),
		devices:   p.Devices,
		store:     p.Store,
		metrics:   p.Metrics,
		client:    newClient(name, prov, log),
	}
}

func (a *Adapter) Name() string { return a.name }

// Registration describes the adapter to the registry.
func (a *Adapter) Registration() adapter.Registration {
	title := strings.ToUpper(a.name[:1]) + a.name[1:]
	return adapter.Registration{
		Name:        a.name,
		Aliases:     []string{title, "koota.devices." + a.name + "." + title},
		Description: title + " account",
		Model:       adapter.ModelOAuth,
	}
}

// CreateHook labels new devices after the service.
func (a *Adapter) CreateHook(ctx context.Context, req *devicedomain.CreateRequest) error {
	if strings.TrimSpace(req.Label) == "" {
		req.Label = a.Registration().Description
	}
	return nil
}

func (a *Adapter) ScanOrder() string { return rawdomain.OrderReceived }

func (a *Adapter) redirectURI() string {
	return a.publicURL + "/" + a.name + "/done"
}

func (a *Adapter) maxPages() int {
	if a.provider.MaxPages > 0 {
		return a.provider.MaxPages
	}
	return DefaultMaxPages
}

// owns reports whether d is a device of this service.
func (a *Adapter) owns(d *devicedomain.Device) bool {
	if d.Type == a.name {
		return true
	}
	for _, alias := range a.Registration().Aliases {
		if d.Type == alias {
			return true
		}
	}
	return false
}
