package aware

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/digitraceslab/koota/internal/converter"
	"github.com/goccy/go-json"
)

const countDays = 7

func (a *Adapter) converters() []converter.Descriptor {
	return []converter.Descriptor{
		converter.RawDescriptor,
		converter.PacketSizeDescriptor,
		{Name: "table", Description: "All rows of one table (option table=<name>).", New: newTableDump},
		projection("battery", "Battery level and charging state.", "battery",
			"battery_level", "battery_scale", "battery_status", "battery_plugged", "battery_temperature"),
		projection("screen", "Screen on, off, locked and unlocked events.", "screen", "screen_status"),
		projection("locations", "Location fixes.", "locations",
			"double_latitude", "double_longitude", "double_altitude", "accuracy", "provider"),
		projection("esm", "Experience sampling answers.", "esms",
			"esm_type", "esm_title", "esm_status", "esm_user_answer", "esm_trigger"),
		hashedProjection("calls", "Calls with hashed phone numbers.", "calls",
			[]string{"trace"}, "call_type", "call_duration", "trace"),
		hashedProjection("messages", "Messages with hashed phone numbers.", "messages",
			[]string{"trace"}, "message_type", "trace"),
		hashedProjection("wifi", "Visible networks with hashed SSID and BSSID.", "wifi",
			[]string{"ssid", "bssid"}, "ssid", "bssid", "rssi", "frequency", "security"),
		hashedProjection("bluetooth", "Nearby bluetooth devices, hashed.", "bluetooth",
			[]string{"bt_address", "bt_name"}, "bt_address", "bt_name", "bt_rssi"),
		{Name: "applications", Description: "Foreground applications, hashed unless public.", New: a.newApplications},
		{Name: "timestamps", Description: "Every row timestamp, for gap analysis.", New: newTimestamps},
		{Name: "gaps", Description: "Periods without data (option min_gap seconds).", New: newGaps},
		{Name: "location_day_features", Description: "Daily mobility features.", New: newLocationDay},
		{Name: "screen_day", Description: "Daily screen usage.", New: newScreenDay},
		{Name: "battery_day", Description: "Daily battery summary.", New: newBatteryDay},
		{Name: "counts", Description: "Rows per table over the last seven days.", New: newCounts},
	}
}

func projection(name, desc, table string, keys ...string) converter.Descriptor {
	return converter.Descriptor{
		Name:        name,
		Description: desc,
		New: func(p converter.Params) converter.Converter {
			return &converter.Projection{
				Extract:   tableRows(table),
				TimeKey:   TimestampKey,
				TimeScale: 1000,
				Fields:    fields(keys),
				TimeFn:    p.TimeFn,
			}
		},
	}
}

func hashedProjection(name, desc, table string, secret []string, keys ...string) converter.Descriptor {
	return converter.Descriptor{
		Name:        name,
		Description: desc,
		New: func(p converter.Params) converter.Converter {
			return &converter.Projection{
				Extract:   hashed(tableRows(table), p.Hasher.Hash, nil, secret...),
				TimeKey:   TimestampKey,
				TimeScale: 1000,
				Fields:    fields(keys),
				TimeFn:    p.TimeFn,
			}
		},
	}
}

func fields(keys []string) []converter.Field {
	out := make([]converter.Field, len(keys))
	for i, k := range keys {
		out[i] = converter.Field{Name: k, Key: k}
	}
	return out
}

func (a *Adapter) newApplications(p converter.Params) converter.Converter {
	public := func(rec converter.Record) bool {
		return a.publicApps[converter.String(rec["package_name"])]
	}
	return &converter.Projection{
		Extract:   hashed(tableRows("applications_foreground"), p.Hasher.Hash, public, "package_name", "application_name"),
		TimeKey:   TimestampKey,
		TimeScale: 1000,
		Fields:    fields([]string{"package_name", "application_name", "is_system_app"}),
		TimeFn:    p.TimeFn,
	}
}

// tableDump emits every row of one table as JSON.
type tableDump struct {
	table  string
	timeFn converter.TimeFunc
}

func newTableDump(p converter.Params) converter.Converter {
	return &tableDump{table: p.Options["table"], timeFn: p.TimeFn}
}

func (c *tableDump) Header() []string { return []string{"time", "table", "data"} }

func (c *tableDump) Transform(ctx context.Context, in converter.Source, emit func(converter.Row) error) error {
	if c.table == "" {
		return fmt.Errorf("option table is required")
	}
	extract := tableRows(c.table)
	for in.Next() {
		p := in.Packet()
		recs, err := extract(p)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			ts, ok := recordTime(rec)
			if !ok {
				ts = p.Unix()
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := emit(converter.Row{c.timeFn(ts), c.table, string(raw)}); err != nil {
				return err
			}
		}
	}
	return nil
}

func allTimestamps(p converter.Packet) ([]float64, error) {
	_, recs, err := DecodeEnvelope(p.Data)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(recs))
	for _, rec := range recs {
		if ts, ok := recordTime(rec); ok {
			out = append(out, ts)
		}
	}
	return out, nil
}

func newTimestamps(p converter.Params) converter.Converter {
	return &converter.Timestamps{Extract: allTimestamps, TimeFn: p.TimeFn}
}

func newGaps(p converter.Params) converter.Converter {
	return &converter.Gaps{
		Extract: allTimestamps,
		MinGap:  converter.OptionFloat(p.Options, "min_gap", 3600),
		TimeFn:  p.TimeFn,
	}
}

func newLocationDay(p converter.Params) converter.Converter {
	extract := tableRows("locations")
	return converter.NewLocationDaily(func(pk converter.Packet) ([]float64, []converter.LatLon, error) {
		recs, err := extract(pk)
		if err != nil {
			return nil, nil, err
		}
		ts := make([]float64, 0, len(recs))
		pts := make([]converter.LatLon, 0, len(recs))
		for _, rec := range recs {
			t, ok := recordTime(rec)
			lat, ok1 := converter.Float(rec["double_latitude"])
			lon, ok2 := converter.Float(rec["double_longitude"])
			if !ok || !ok1 || !ok2 {
				continue
			}
			ts = append(ts, t)
			pts = append(pts, converter.LatLon{Lat: lat, Lon: lon})
		}
		return ts, pts, nil
	}, p.Location)
}

// Screen states reported by the client.
const (
	screenOff      = 0
	screenOn       = 1
	screenLocked   = 2
	screenUnlocked = 3
)

func newScreenDay(p converter.Params) converter.Converter {
	return &converter.Daily{
		Extract:  timedRows("screen"),
		Columns:  []string{"screen_on_count", "unlock_count", "screen_on_seconds"},
		Location: p.Location,
		Aggregate: func(_ converter.Day, recs []converter.TimedRecord) (converter.Row, error) {
			var ons, unlocks int
			var onSeconds float64
			onSince := -1.0
			for _, r := range recs {
				status, ok := converter.Float(r.Rec["screen_status"])
				if !ok {
					continue
				}
				switch int(status) {
				case screenOn:
					ons++
					if onSince < 0 {
						onSince = r.TS
					}
				case screenUnlocked:
					unlocks++
				case screenOff:
					if onSince >= 0 {
						onSeconds += r.TS - onSince
						onSince = -1
					}
				}
			}
			return converter.Row{ons, unlocks, math.Round(onSeconds)}, nil
		},
	}
}

func newBatteryDay(p converter.Params) converter.Converter {
	return &converter.Daily{
		Extract:  timedRows("battery"),
		Columns:  []string{"battery_min", "battery_max", "battery_mean", "samples"},
		Location: p.Location,
		Aggregate: func(_ converter.Day, recs []converter.TimedRecord) (converter.Row, error) {
			lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
			n := 0
			for _, r := range recs {
				level, ok := converter.Float(r.Rec["battery_level"])
				if !ok {
					continue
				}
				lo, hi, sum = math.Min(lo, level), math.Max(hi, level), sum+level
				n++
			}
			if n == 0 {
				return converter.Row{nil, nil, nil, 0}, nil
			}
			return converter.Row{lo, hi, math.Round(sum/float64(n)*100) / 100, n}, nil
		},
	}
}

// counts tallies rows per table and day over the seven days ending with
// the request day. The header names the days, so it changes daily.
type counts struct {
	days    []time.Time
	loc     *time.Location
	tables  map[string][]int
	flushed bool
}

func newCounts(p converter.Params) converter.Converter {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	local := now.In(p.Location)
	days := make([]time.Time, countDays)
	for i := range days {
		days[i] = time.Date(local.Year(), local.Month(), local.Day()-(countDays-1-i), 0, 0, 0, 0, p.Location)
	}
	return &counts{days: days, loc: p.Location, tables: map[string][]int{}}
}

func (c *counts) Header() []string {
	h := []string{"table"}
	for _, d := range c.days {
		h = append(h, d.Format("2006-01-02"))
	}
	return append(h, "total")
}

// QueryFilter skips packets received before the first counted day.
func (c *counts) QueryFilter(r converter.Range) converter.Range {
	start := c.days[0].UTC()
	if r.Start == nil || r.Start.Before(start) {
		r.Start = &start
	}
	return r
}

func (c *counts) Transform(ctx context.Context, in converter.Source, emit func(converter.Row) error) error {
	for in.Next() {
		table, recs, err := DecodeEnvelope(in.Packet().Data)
		if err != nil {
			return err
		}
		row, ok := c.tables[table]
		if !ok {
			row = make([]int, countDays)
			c.tables[table] = row
		}
		for _, rec := range recs {
			ts, ok := recordTime(rec)
			if !ok {
				continue
			}
			if i := c.dayIndex(converter.FromUnix(ts)); i >= 0 {
				row[i]++
			}
		}
	}
	if c.flushed {
		return nil
	}
	c.flushed = true

	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out := converter.Row{name}
		total := 0
		for _, n := range c.tables[name] {
			out = append(out, n)
			total += n
		}
		if err := emit(append(out, total)); err != nil {
			return err
		}
	}
	return nil
}

func (c *counts) dayIndex(t time.Time) int {
	local := t.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	for i, d := range c.days {
		if d.Equal(day) {
			return i
		}
	}
	return -1
}
