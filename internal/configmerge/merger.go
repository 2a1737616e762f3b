package configmerge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/digitraceslab/koota/internal/clock"
	"github.com/digitraceslab/koota/internal/config"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	groupdomain "github.com/digitraceslab/koota/internal/group/domain"
	"github.com/digitraceslab/koota/internal/safehash"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Layer names in merge order.
const (
	LayerDefaults = "defaults"
	LayerSettings = "settings"
	LayerDevice   = "device"
	layerGroup    = "group:"
)

var ErrMissingDevice = errors.New("missing_device")

// Input describes one merge.
type Input struct {
	Device   *devicedomain.Device
	Adapter  string
	Defaults map[string]any
	// EndpointURL is the upload URL the device should use. Empty omits it.
	EndpointURL string
	// Now defaults to the merger clock.
	Now time.Time
}

// Result is a merged and expanded configuration.
type Result struct {
	Values    map[string]any
	Layers    []Layer
	Schedules []Schedule
}

// Sections renders the result as the device-facing section list.
func (r *Result) Sections() []map[string]any {
	return Sections(r.Values, r.Schedules)
}

type Merger struct {
	log      *zap.Logger
	groups   groupdomain.Service
	settings config.Settings
	secrets  safehash.Secrets
	loc      *time.Location
	clock    clock.Clock
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Groups   groupdomain.Service
	Settings config.Settings
	Secrets  safehash.Secrets
	Config   config.Config
	Clock    clock.Clock
}

func New(p Params) *Merger {
	return &Merger{
		log:      p.Log.Named("configmerge"),
		groups:   p.Groups,
		settings: p.Settings,
		secrets:  p.Secrets,
		loc:      p.Config.Location(),
		clock:    p.Clock,
	}
}

// Merge layers defaults, process settings, the owner's active group overlays
// and the device overlay, then applies derived fields and expands schedules.
// Groups merge in ascending priority so the highest priority wins.
func (m *Merger) Merge(ctx context.Context, in Input) (*Result, error) {
	if in.Device == nil {
		return nil, ErrMissingDevice
	}
	now := in.Now
	if now.IsZero() {
		now = m.clock.Now()
	}

	layers := []Layer{
		{Name: LayerDefaults, Values: in.Defaults},
		{Name: LayerSettings, Values: m.settings.DeviceOverrides(in.Adapter)},
	}

	if in.Device.Owner != "" && m.groups != nil {
		groups, err := m.groups.ActiveGroups(ctx, in.Device.Owner, now)
		if err != nil {
			return nil, fmt.Errorf("load groups: %w", err)
		}
		for _, g := range groups {
			values, err := Decode(g.Config)
			if err != nil {
				m.log.Warn("skipping unreadable group overlay",
					zap.String("group", g.Slug), zap.Error(err))
				continue
			}
			layers = append(layers, Layer{Name: layerGroup + g.Slug, Values: values})
		}
	}

	overlay, err := Decode(in.Device.Config)
	if err != nil {
		return nil, fmt.Errorf("device overlay: %w", err)
	}
	layers = append(layers, Layer{Name: LayerDevice, Values: overlay})

	values := MergeLayers(layers...)
	m.applyDerived(values, in)

	schedules, err := CollectSchedules(values)
	if err != nil {
		return nil, err
	}
	schedules, err = ExpandSchedules(schedules, in.Device.ID+":", now, m.loc)
	if err != nil {
		return nil, err
	}
	if len(schedules) > 0 {
		values[KeyStatusESM] = true
	}

	return &Result{Values: values, Layers: layers, Schedules: schedules}, nil
}

func (m *Merger) applyDerived(values map[string]any, in Input) {
	d := in.Device
	if in.EndpointURL != "" {
		values[KeyWebserviceServer] = in.EndpointURL
	}
	values[KeyStudyStart] = d.CreatedAt.UnixMilli()
	values[KeyDeviceLabel] = d.PublicID
	values[KeyMQTTUsername] = d.PublicID
	values[KeyMQTTPassword] = DevicePassword(d.ID, d.PublicID, m.secrets.DeviceKey)
}
