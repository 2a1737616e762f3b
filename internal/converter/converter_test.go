package converter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packets(ts0 time.Time, payloads ...string) *SliceSource {
	items := make([]Packet, len(payloads))
	for i, p := range payloads {
		items[i] = Packet{TS: ts0.Add(time.Duration(i) * time.Second), Data: []byte(p)}
	}
	return NewSliceSource(items)
}

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRawPreservesPackets(t *testing.T) {
	r := NewRunner(nil)
	c := RawDescriptor.Build(Params{})

	rows, errs, err := r.Collect(context.Background(), "raw", c, packets(base, "a", "b", "a"))
	require.NoError(t, err)
	assert.True(t, errs.Empty())
	require.Len(t, rows, 3)
	assert.Equal(t, Row{UnixSeconds(base), "a"}, rows[0])
	assert.Equal(t, "a", rows[2][1])
}

func TestRunSkipsFailingPacketAndResumes(t *testing.T) {
	var hooked int
	r := NewRunner(nil, WithErrorHook(func(string) { hooked++ }))
	c := JSONPrettyDescriptor.Build(Params{})

	rows, errs, err := r.Collect(context.Background(), "json_pretty", c,
		packets(base, `{"a":1}`, `{bad`, `{bad`, `[2]`))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "[\n  2\n]", rows[1][1])

	assert.Equal(t, 2, errs.Total)
	assert.Len(t, errs.List, 2)
	assert.Len(t, errs.Counts, 1)
	assert.Equal(t, 2, hooked)
	assert.Equal(t, base.Add(time.Second), errs.List[0].TS)
}

func TestRunBoundsRetainedErrors(t *testing.T) {
	payloads := make([]string, MaxRetainedErrors+20)
	for i := range payloads {
		payloads[i] = "x"
	}
	_, errs, err := NewRunner(nil).Collect(context.Background(), "json_pretty",
		JSONPrettyDescriptor.Build(Params{}), packets(base, payloads...))
	require.NoError(t, err)
	assert.Len(t, errs.List, MaxRetainedErrors)
	assert.Equal(t, MaxRetainedErrors+20, errs.Total)
	assert.Equal(t, []string{errs.List[0].Message}, errs.Messages())
}

type failingConverter struct{ calls int }

func (f *failingConverter) Header() []string { return nil }

func (f *failingConverter) Transform(context.Context, Source, func(Row) error) error {
	f.calls++
	return errors.New("broken")
}

func TestRunStopsWhenNothingConsumed(t *testing.T) {
	f := &failingConverter{}
	_, errs, err := NewRunner(nil).Collect(context.Background(), "f", f, packets(base, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, 1, errs.Total)
}

func TestRunReturnsEmitError(t *testing.T) {
	stop := errors.New("client gone")
	_, err := NewRunner(nil).Run(context.Background(), "raw", RawDescriptor.Build(Params{}),
		packets(base, "a", "b"), func(Row) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestGapsFiltersInvalidAndSorts(t *testing.T) {
	extract := func(p Packet) ([]float64, error) {
		var out []float64
		for _, f := range strings.Fields(string(p.Data)) {
			v, ok := Float(f)
			if !ok {
				return nil, errors.New("bad number")
			}
			out = append(out, v)
		}
		return out, nil
	}
	c := &Gaps{Extract: extract, MinGap: 3600, TimeFn: NumericTime}

	rows, errs, err := NewRunner(nil).Collect(context.Background(), "gaps", c,
		packets(base, "1700010000 1700000000", "5", "1700003600 1700003601", "oops", "1700020000"))
	require.NoError(t, err)
	assert.Equal(t, 1, errs.Total)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{1700003601.0, 1700010000.0, 6399.0}, rows[0])
	assert.Equal(t, Row{1700010000.0, 1700020000.0, 10000.0}, rows[1])
}

func TestProjectionMatchesProbe(t *testing.T) {
	c := &Projection{
		Extract:   func(p Packet) ([]Record, error) { return JSONRecords(p.Data) },
		ProbeKey:  "probe",
		Probe:     "battery",
		TimeKey:   "ts",
		TimeScale: 1000,
		Fields:    []Field{{Name: "level", Key: "level"}},
		TimeFn:    NumericTime,
	}
	assert.Equal(t, []string{"time", "level"}, c.Header())

	rows, _, err := NewRunner(nil).Collect(context.Background(), "p", c,
		packets(base, `[{"probe":"battery","ts":2000,"level":50},{"probe":"wifi","ts":1}]`, `{"probe":"battery","level":7}`))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{2.0, 50.0}, rows[0])
	assert.Equal(t, Row{UnixSeconds(base.Add(time.Second)), 7.0}, rows[1])
}

func countDaily() *Daily {
	return &Daily{
		Columns: []string{"n"},
		Extract: func(p Packet) ([]TimedRecord, error) {
			v, ok := Float(string(p.Data))
			if !ok {
				return nil, errors.New("bad ts")
			}
			return []TimedRecord{{TS: v}}, nil
		},
		Aggregate: func(day Day, recs []TimedRecord) (Row, error) {
			return Row{len(recs)}, nil
		},
	}
}

func TestDailyBucketsWithMidnightOffset(t *testing.T) {
	c := countDaily()
	day := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, Day{2024, 6, 1}, c.DayOf(UnixSeconds(day.Add(3*time.Hour))))
	assert.Equal(t, Day{2024, 6, 2}, c.DayOf(UnixSeconds(day.Add(4*time.Hour))))
}

func dayTS(day, hour int) string {
	return String(UnixSeconds(time.Date(2024, 6, day, hour, 0, 0, 0, time.UTC)))
}

func TestDailyEmitsInDayOrder(t *testing.T) {
	c := countDaily()

	rows, _, err := NewRunner(nil).Collect(context.Background(), "daily", c,
		packets(base, dayTS(2, 12), dayTS(1, 12), dayTS(2, 13), dayTS(1, 13), dayTS(3, 5), dayTS(3, 14)))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Row{"2024-06-01", 2}, rows[0])
	assert.Equal(t, Row{"2024-06-02", 2}, rows[1])
	assert.Equal(t, Row{"2024-06-03", 2}, rows[2])
}

func TestDailyFlushesStaleDayBeforeEnd(t *testing.T) {
	c := countDaily()
	src := packets(base, dayTS(1, 12), dayTS(4, 12), dayTS(4, 13))

	var pulledAtFirstEmit int
	var emitted []Row
	err := c.Transform(context.Background(), src, func(r Row) error {
		if len(emitted) == 0 {
			pulledAtFirstEmit = src.pos
		}
		emitted = append(emitted, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pulledAtFirstEmit)
	assert.Equal(t, []Row{{"2024-06-01", 1}, {"2024-06-04", 2}}, emitted)
}

func TestDailyKeepsFlushingAfterFailedDays(t *testing.T) {
	c := countDaily()
	c.Aggregate = func(day Day, recs []TimedRecord) (Row, error) {
		if day.Day < 3 {
			return nil, errors.New("bad day")
		}
		return Row{len(recs)}, nil
	}

	rows, errs, err := NewRunner(nil).Collect(context.Background(), "daily", c,
		packets(base, dayTS(1, 12), dayTS(2, 12), dayTS(3, 5), dayTS(3, 14)))
	require.NoError(t, err)
	assert.Equal(t, 2, errs.Total)
	assert.Equal(t, 2, errs.Counts["bad day"])
	assert.Equal(t, []Row{{"2024-06-03", 2}}, rows)
	assert.False(t, c.Pending())
}

func TestDailyQueryFilterAlignsToDays(t *testing.T) {
	c := countDaily()
	start := time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 3, 2, 0, 0, 0, time.UTC)

	r := c.QueryFilter(Range{Start: &start, End: &end})
	assert.Equal(t, time.Date(2024, 6, 2, 4, 0, 0, 0, time.UTC), *r.Start)
	assert.Equal(t, time.Date(2024, 6, 3, 4, 0, 0, 0, time.UTC), *r.End)

	exact := time.Date(2024, 6, 3, 4, 0, 0, 0, time.UTC)
	r = c.QueryFilter(Range{End: &exact})
	assert.Equal(t, exact, *r.End)
}

func TestLocationFeatures(t *testing.T) {
	home := LatLon{Lat: 60.1699, Lon: 24.9384}
	work := LatLon{Lat: 60.1841, Lon: 24.8301}
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	var ts []float64
	var pts []LatLon
	add := func(h, m int, p LatLon) {
		ts = append(ts, UnixSeconds(day.Add(time.Duration(h)*time.Hour+time.Duration(m)*time.Minute)))
		pts = append(pts, p)
	}
	for m := 0; m < 60; m += 10 {
		add(6, m, home)
	}
	for m := 0; m < 60; m += 10 {
		add(14, m, work)
	}

	f := ComputeLocationFeatures(ts, pts)
	assert.Equal(t, 12, f.Points)
	assert.Equal(t, 12, f.Bins)
	assert.Equal(t, 2, f.Clusters)
	assert.InDelta(t, Haversine(home, work), f.TotalDistance, 1)
	assert.InDelta(t, 0.6931, f.Entropy, 1e-3)
	assert.InDelta(t, 1.0, f.NormalizedEntropy, 1e-9)
	assert.Zero(t, f.TransitionTime)
	assert.Greater(t, f.StationaryVar, 0.0)
}

func TestLocationSingleCluster(t *testing.T) {
	p := LatLon{Lat: 60.17, Lon: 24.94}
	f := ComputeLocationFeatures([]float64{1e9, 1e9 + 60, 1e9 + 700}, []LatLon{p, p, p})
	assert.Equal(t, 2, f.Bins)
	assert.Equal(t, 1, f.Clusters)
	assert.Zero(t, f.Entropy)
	assert.Zero(t, f.NormalizedEntropy)
	assert.Zero(t, f.StationaryVar)
}

func TestHaversine(t *testing.T) {
	d := Haversine(LatLon{0, 0}, LatLon{0, 1})
	assert.InDelta(t, 111195, d, 5)
}

func TestWriters(t *testing.T) {
	errs := newErrors()
	errs.add("bad", base)

	var csvBuf bytes.Buffer
	w, err := NewWriter("csv", &csvBuf)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader([]string{"time", "data"}))
	require.NoError(t, w.WriteRow(Row{1.5, "a,b"}))
	require.NoError(t, w.Close(errs))
	assert.Equal(t, "time,data\n1.5,\"a,b\"\n", csvBuf.String())

	var jsonBuf bytes.Buffer
	w, err = NewWriter("json", &jsonBuf)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader([]string{"time"}))
	require.NoError(t, w.WriteRow(Row{1}))
	require.NoError(t, w.WriteRow(Row{2}))
	require.NoError(t, w.Close(errs))
	assert.True(t, strings.HasPrefix(jsonBuf.String(), `{"header":["time"],"rows":[[1],[2]],"errors":{`))
	assert.Contains(t, jsonBuf.String(), `"total":1`)

	var lines bytes.Buffer
	w, err = NewWriter("jsonl", &lines)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader([]string{"time"}))
	require.NoError(t, w.WriteRow(Row{1}))
	require.NoError(t, w.Close(nil))
	assert.Equal(t, 3, strings.Count(lines.String(), "\n"))

	_, err = NewWriter("xml", &lines)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
