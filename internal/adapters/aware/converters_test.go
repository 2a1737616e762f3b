package aware

import (
	"context"
	"testing"
	"time"

	"github.com/digitraceslab/koota/internal/converter"
	ingestdomain "github.com/digitraceslab/koota/internal/ingest/domain"
	"github.com/digitraceslab/koota/internal/safehash"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func envelope(t *testing.T, table string, rows ...map[string]any) converter.Packet {
	t.Helper()
	data, err := json.Marshal(rows)
	require.NoError(t, err)
	raw, err := json.Marshal(ingestdomain.Envelope{Table: table, Data: string(data), Timestamp: 1, Version: 1})
	require.NoError(t, err)
	return converter.Packet{TS: time.Unix(1714550400, 0), Data: raw}
}

func testAdapter() *Adapter {
	return &Adapter{publicApps: map[string]bool{"com.whatsapp": true}}
}

func run(t *testing.T, name string, params converter.Params, packets ...converter.Packet) ([]string, []converter.Row, *converter.Errors) {
	t.Helper()
	d, ok := converter.Find(testAdapter().Converters(), name)
	require.True(t, ok, name)
	c := d.Build(params)
	rows, errs, err := converter.NewRunner(zap.NewNop()).Collect(context.Background(), name, c, converter.NewSliceSource(packets))
	require.NoError(t, err)
	return c.Header(), rows, errs
}

func TestBatteryProjectionSkipsOtherTables(t *testing.T) {
	header, rows, errs := run(t, "battery", converter.Params{},
		envelope(t, "battery", map[string]any{"timestamp": 1714550400000.0, "battery_level": 80.0}),
		envelope(t, "screen", map[string]any{"timestamp": 1714550401000.0, "screen_status": 1.0}),
		converter.Packet{TS: time.Unix(1714550402, 0), Data: []byte("{broken")},
		envelope(t, "battery", map[string]any{"timestamp": 1714550500000.0, "battery_level": 79.0}),
	)
	assert.Equal(t, "time", header[0])
	assert.Equal(t, "battery_level", header[1])
	require.Len(t, rows, 2)
	assert.Equal(t, 1714550400.0, rows[0][0])
	assert.Equal(t, 80.0, rows[0][1])
	assert.Equal(t, 1, errs.Total)
}

func TestWifiIsHashed(t *testing.T) {
	h := safehash.NewHasher("salt")
	_, rows, _ := run(t, "wifi", converter.Params{Hasher: h},
		envelope(t, "wifi", map[string]any{"timestamp": 1000.0, "ssid": "home", "bssid": "aa:bb", "rssi": -50.0}),
	)
	require.Len(t, rows, 1)
	assert.Equal(t, h.Hash("home"), rows[0][1])
	assert.Equal(t, h.Hash("aa:bb"), rows[0][2])
	assert.Equal(t, -50.0, rows[0][3])
}

func TestApplicationsKeepPublicPackages(t *testing.T) {
	h := safehash.NewHasher("salt")
	_, rows, _ := run(t, "applications", converter.Params{Hasher: h},
		envelope(t, "applications_foreground",
			map[string]any{"timestamp": 1000.0, "package_name": "com.whatsapp", "application_name": "WhatsApp"},
			map[string]any{"timestamp": 2000.0, "package_name": "org.private", "application_name": "Private"},
		),
	)
	require.Len(t, rows, 2)
	assert.Equal(t, "com.whatsapp", rows[0][1])
	assert.Equal(t, "WhatsApp", rows[0][2])
	assert.Equal(t, h.Hash("org.private"), rows[1][1])
	assert.Equal(t, h.Hash("Private"), rows[1][2])
}

func TestTableDumpNeedsTable(t *testing.T) {
	pkt := envelope(t, "battery", map[string]any{"timestamp": 1000.0, "battery_level": 1.0})
	_, rows, _ := run(t, "table", converter.Params{Options: map[string]string{"table": "battery"}}, pkt)
	require.Len(t, rows, 1)
	assert.Equal(t, "battery", rows[0][1])
	assert.JSONEq(t, `{"timestamp":1000,"battery_level":1}`, rows[0][2].(string))

	_, rows, errs := run(t, "table", converter.Params{}, pkt)
	assert.Empty(t, rows)
	assert.Equal(t, 1, errs.Total)
}

func TestGapsAcrossTables(t *testing.T) {
	base := 1714550400000.0
	_, rows, _ := run(t, "gaps", converter.Params{},
		envelope(t, "battery", map[string]any{"timestamp": base}, map[string]any{"timestamp": base + 7200_000}),
		envelope(t, "screen", map[string]any{"timestamp": base + 600_000}),
	)
	require.Len(t, rows, 1)
	assert.Equal(t, (base+600_000)/1000, rows[0][0])
	assert.Equal(t, (base+7200_000)/1000, rows[0][1])
}

func TestScreenDay(t *testing.T) {
	day := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ms := func(t time.Time) float64 { return float64(t.UnixMilli()) }
	_, rows, _ := run(t, "screen_day", converter.Params{},
		envelope(t, "screen",
			map[string]any{"timestamp": ms(day), "screen_status": 1.0},
			map[string]any{"timestamp": ms(day.Add(10 * time.Second)), "screen_status": 3.0},
			map[string]any{"timestamp": ms(day.Add(60 * time.Second)), "screen_status": 0.0},
			map[string]any{"timestamp": ms(day.Add(time.Hour)), "screen_status": 1.0},
			map[string]any{"timestamp": ms(day.Add(time.Hour + 30*time.Second)), "screen_status": 0.0},
		),
	)
	require.Len(t, rows, 1)
	assert.Equal(t, converter.Row{"2024-05-01", 2, 1, 90.0}, rows[0])
}

func TestBatteryDay(t *testing.T) {
	day := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, rows, _ := run(t, "battery_day", converter.Params{},
		envelope(t, "battery",
			map[string]any{"timestamp": float64(day.UnixMilli()), "battery_level": 40.0},
			map[string]any{"timestamp": float64(day.Add(time.Hour).UnixMilli()), "battery_level": 60.0},
		),
	)
	require.Len(t, rows, 1)
	assert.Equal(t, converter.Row{"2024-05-01", 40.0, 60.0, 50.0, 2}, rows[0])
}

func TestCountsRollingHeader(t *testing.T) {
	now := time.Date(2024, 5, 7, 15, 0, 0, 0, time.UTC)
	ms := func(d int) float64 { return float64(time.Date(2024, 5, d, 9, 0, 0, 0, time.UTC).UnixMilli()) }

	header, rows, _ := run(t, "counts", converter.Params{Now: now},
		envelope(t, "screen", map[string]any{"timestamp": ms(1)}, map[string]any{"timestamp": ms(7)}),
		envelope(t, "battery", map[string]any{"timestamp": ms(7)}, map[string]any{"timestamp": float64(time.Date(2024, 4, 20, 9, 0, 0, 0, time.UTC).UnixMilli())}),
	)
	assert.Equal(t, []string{"table",
		"2024-05-01", "2024-05-02", "2024-05-03", "2024-05-04", "2024-05-05", "2024-05-06", "2024-05-07",
		"total"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, converter.Row{"battery", 0, 0, 0, 0, 0, 0, 1, 1}, rows[0])
	assert.Equal(t, converter.Row{"screen", 1, 0, 0, 0, 0, 0, 1, 2}, rows[1])

	c, _ := converter.Find(testAdapter().Converters(), "counts")
	rf, ok := c.Build(converter.Params{Now: now}).(converter.RangeFilter)
	require.True(t, ok)
	r := rf.QueryFilter(converter.Range{})
	require.NotNil(t, r.Start)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), *r.Start)
}
