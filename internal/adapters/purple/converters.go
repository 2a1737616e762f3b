package purple

import (
	"context"
	"sort"

	"github.com/digitraceslab/koota/internal/converter"
)

// Probe names as reported in the PROBE field.
const (
	probePrefix   = "edu.northwestern.cbits.purple_robot_manager.probes."
	ProbeBattery  = probePrefix + "builtin.BatteryProbe"
	ProbeLocation = probePrefix + "builtin.LocationProbe"
	ProbeWifi     = probePrefix + "builtin.WifiAccessPointsProbe"
	ProbeScreen   = probePrefix + "builtin.ScreenProbe"

	probeKey = "PROBE"
	timeKey  = "TIMESTAMP"
)

func extract(p converter.Packet) ([]converter.Record, error) {
	return converter.JSONRecords(p.Data)
}

func (a *Adapter) Converters() []converter.Descriptor {
	return []converter.Descriptor{
		converter.RawDescriptor,
		{Name: "data_size", Description: "Bytes per upload.", New: converter.NewPacketSize},
		{Name: "probes", Description: "Data points per probe.", New: newProbes},
		probe("battery", "Battery level.", ProbeBattery, "LEVEL", "PLUGGED", "STATUS", "TEMPERATURE"),
		probe("location", "Location fixes.", ProbeLocation, "LATITUDE", "LONGITUDE", "ACCURACY", "PROVIDER"),
		probe("screen", "Screen state.", ProbeScreen, "SCREEN_ACTIVE"),
		{Name: "wifi", Description: "Current network, hashed.", New: newWifi},
		{Name: "timestamps", Description: "Every data point time.", New: newTimestamps},
		{Name: "gaps", Description: "Periods without data (option min_gap seconds).", New: newGaps},
	}
}

func probe(name, desc, probe string, keys ...string) converter.Descriptor {
	return converter.Descriptor{
		Name:        name,
		Description: desc,
		New: func(p converter.Params) converter.Converter {
			return projection(probe, extract, p.TimeFn, keys...)
		},
	}
}

func projection(probe string, ex converter.Extractor, timeFn converter.TimeFunc, keys ...string) *converter.Projection {
	fields := make([]converter.Field, len(keys))
	for i, k := range keys {
		fields[i] = converter.Field{Name: k, Key: k}
	}
	return &converter.Projection{
		Extract:  ex,
		ProbeKey: probeKey,
		Probe:    probe,
		TimeKey:  timeKey,
		Fields:   fields,
		TimeFn:   timeFn,
	}
}

func newWifi(p converter.Params) converter.Converter {
	hashing := func(pk converter.Packet) ([]converter.Record, error) {
		recs, err := extract(pk)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			for _, k := range []string{"CURRENT_SSID", "CURRENT_BSSID"} {
				if v, ok := rec[k]; ok && v != nil {
					rec[k] = p.Hasher.Hash(converter.String(v))
				}
			}
		}
		return recs, nil
	}
	return projection(ProbeWifi, hashing, p.TimeFn, "CURRENT_SSID", "CURRENT_BSSID", "CURRENT_RSSI")
}

func newTimestamps(p converter.Params) converter.Converter {
	return &converter.Timestamps{Extract: converter.RecordTimestamps(extract, timeKey, 1), TimeFn: p.TimeFn}
}

func newGaps(p converter.Params) converter.Converter {
	return &converter.Gaps{
		Extract: converter.RecordTimestamps(extract, timeKey, 1),
		MinGap:  converter.OptionFloat(p.Options, "min_gap", 3600),
		TimeFn:  p.TimeFn,
	}
}

// probes counts data points per probe over the whole input.
type probes struct {
	counts  map[string]int
	flushed bool
}

func newProbes(converter.Params) converter.Converter {
	return &probes{counts: map[string]int{}}
}

func (c *probes) Header() []string { return []string{"probe", "count"} }

func (c *probes) Transform(ctx context.Context, in converter.Source, emit func(converter.Row) error) error {
	for in.Next() {
		recs, err := extract(in.Packet())
		if err != nil {
			return err
		}
		for _, rec := range recs {
			c.counts[converter.String(rec[probeKey])]++
		}
	}
	if c.flushed {
		return nil
	}
	c.flushed = true
	names := make([]string, 0, len(c.counts))
	for n := range c.counts {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := emit(converter.Row{n, c.counts[n]}); err != nil {
			return err
		}
	}
	return nil
}
