// Package aware implements the AWARE framework tabular push protocol.
package aware

import (
	"context"
	"time"

	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/digitraceslab/koota/internal/clock"
	"github.com/digitraceslab/koota/internal/config"
	"github.com/digitraceslab/koota/internal/configmerge"
	"github.com/digitraceslab/koota/internal/converter"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	ingestdomain "github.com/digitraceslab/koota/internal/ingest/domain"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	Name = "aware"
	// TimestampKey is the row field tracked in last-ts-<table>.
	TimestampKey = "timestamp"
	// AttrDeviceUUID holds the id the AWARE client generated for itself.
	AttrDeviceUUID = "aware-device-id"
)

var Registration = adapter.Registration{
	Name:        Name,
	Aliases:     []string{"AwareDevice", "AWARE", "koota.devices.aware.AwareDevice"},
	Description: "AWARE framework (Android/iOS)",
	Default:     true,
	Model:       adapter.ModelDevice,
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Settings config.Settings
	Devices  devicedomain.Service
	Ingest   ingestdomain.Service
	Store    rawdomain.Store
	Merger   *configmerge.Merger
}

type Adapter struct {
	log        *zap.Logger
	clock      clock.Clock
	publicURL  string
	devices    devicedomain.Service
	ingest     ingestdomain.Service
	store      rawdomain.Store
	merger     *configmerge.Merger
	publicApps map[string]bool
}

func New(p Params) *Adapter {
	apps := make(map[string]bool, len(p.Settings.PublicApps))
	for _, name := range p.Settings.PublicApps {
		apps[name] = true
	}
	return &Adapter{
		log:        p.Log.Named("adapter.aware"),
		clock:      p.Clock,
		publicURL:  p.Config.PublicURL,
		devices:    p.Devices,
		ingest:     p.Ingest,
		store:      p.Store,
		merger:     p.Merger,
		publicApps: apps,
	}
}

// Defaults is the base configuration every AWARE device starts from.
func Defaults() map[string]any {
	return map[string]any{
		"status_battery":           true,
		"status_screen":            true,
		"status_locations_gps":     true,
		"status_locations_network": true,
		"frequency_gps":            180,
		"frequency_network":        300,
		"status_calls":             true,
		"status_messages":          true,
		"status_wifi":              true,
		"frequency_wifi":           300,
		"status_bluetooth":         true,
		"frequency_bluetooth":      300,
		"status_applications":      false,
		"status_esm":               false,
		"status_webservice":        true,
		"frequency_webservice":     30,
		"webservice_wifi_only":     false,
		"webservice_silent":        true,
	}
}

// EndpointURL is the study URL the client posts to.
func (a *Adapter) EndpointURL(secretID string) string {
	return a.publicURL + "/aware/v1/" + secretID
}

func (a *Adapter) RenderConfig(ctx context.Context, d *devicedomain.Device, now time.Time) (any, error) {
	res, err := a.merger.Merge(ctx, configmerge.Input{
		Device:      d,
		Adapter:     Name,
		Defaults:    Defaults(),
		EndpointURL: a.EndpointURL(d.ID),
		Now:         now,
	})
	if err != nil {
		return nil, err
	}
	return res.Sections(), nil
}

func (a *Adapter) ScanOrder() string { return rawdomain.OrderReceived }

func (a *Adapter) Converters() []converter.Descriptor {
	return a.converters()
}
