package configmerge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var esmWindow = RandomIntervals{N: 24, Start: [2]int{10, 0}, End: [2]int{22, 0}, Min: 15}

func TestExpandRandomRespectsWindowAndGap(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	times := ExpandRandom(esmWindow, "device:esm", now, time.UTC)
	require.Len(t, times, 72)

	for day := 0; day < 3; day++ {
		chunk := times[day*24 : (day+1)*24]
		date := now.AddDate(0, 0, day)
		lo := time.Date(date.Year(), date.Month(), date.Day(), 10, 0, 0, 0, time.UTC)
		hi := time.Date(date.Year(), date.Month(), date.Day(), 22, 0, 0, 0, time.UTC)
		for i, ts := range chunk {
			assert.False(t, ts.Before(lo), "entry %d of day %d before window", i, day)
			assert.False(t, ts.After(hi), "entry %d of day %d after window", i, day)
			if i > 0 {
				assert.GreaterOrEqual(t, ts.Sub(chunk[i-1]), 15*time.Minute)
			}
		}
	}
}

func TestExpandRandomIsReproducible(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	a := ExpandRandom(esmWindow, "device:esm", now, time.UTC)
	b := ExpandRandom(esmWindow, "device:esm", now.Add(30*time.Minute), time.UTC)
	assert.Equal(t, a, b)

	other := ExpandRandom(esmWindow, "other:esm", now, time.UTC)
	assert.NotEqual(t, a, other)

	// Day two of today's expansion is day one of tomorrow's.
	next := ExpandRandom(esmWindow, "device:esm", now.AddDate(0, 0, 1), time.UTC)
	assert.Equal(t, a[24:48], next[:24])
}

func TestExpandRandomHonorsMaxGap(t *testing.T) {
	spec := RandomIntervals{N: 4, Start: [2]int{8, 0}, End: [2]int{20, 0}, Min: 60, Max: 240}
	times := ExpandRandom(spec, "device:max", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), time.UTC)
	require.Len(t, times, 12)
	for day := 0; day < 3; day++ {
		chunk := times[day*4 : (day+1)*4]
		for i := 1; i < len(chunk); i++ {
			gap := chunk[i].Sub(chunk[i-1])
			assert.GreaterOrEqual(t, gap, time.Hour)
			assert.LessOrEqual(t, gap, 4*time.Hour)
		}
	}
}

func TestExpandSchedulesPrunesPastAndFarFuture(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	items := []Schedule{{
		ID: "esm",
		Trigger: map[string]any{
			"random_intervals": map[string]any{
				"N": 24.0, "start": []any{10.0, 0.0}, "end": []any{22.0, 0.0}, "min": 15.0,
			},
		},
		Rest: map[string]any{"action": map[string]any{"type": "broadcast"}},
	}, {
		ID:      "fixed",
		Trigger: map[string]any{"interval": 3600.0},
	}}

	out, err := ExpandSchedules(items, "device:", now, time.UTC)
	require.NoError(t, err)

	// Day three starts after now+48h, so only two days survive.
	require.Len(t, out, 49)
	for _, s := range out[:48] {
		ms, ok := s.Trigger["timer"].(int64)
		require.True(t, ok)
		ts := time.UnixMilli(ms)
		assert.False(t, ts.Before(now))
		assert.False(t, ts.After(now.Add(48*time.Hour)))
		_, kept := s.Trigger["random_intervals"]
		assert.False(t, kept)
		assert.Contains(t, s.ID, "esm_2024030")
	}
	assert.Equal(t, "fixed", out[48].ID)

	later, err := ExpandSchedules(items, "device:", now.Add(6*time.Hour), time.UTC)
	require.NoError(t, err)
	assert.Less(t, len(later), len(out)+24)
}

func TestCollectSchedulesValidates(t *testing.T) {
	values := map[string]any{
		"schedule_b": map[string]any{"trigger": map[string]any{"interval": 60.0}},
		"schedule_a": map[string]any{"trigger": map[string]any{"timer": 1.0}, "package": "com.aware"},
		"other":      "x",
	}
	out, err := CollectSchedules(values)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "com.aware", out[0].Rest["package"])
	assert.Equal(t, map[string]any{"other": "x"}, values)

	_, err = CollectSchedules(map[string]any{"schedule_x": map[string]any{"action": "none"}})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = CollectSchedules(map[string]any{"schedule_x": "bad"})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "5", Stringify(5.0))
	assert.Equal(t, "0.25", Stringify(0.25))
	assert.Equal(t, "abc", Stringify("abc"))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, `[1,2]`, Stringify([]any{1.0, 2.0}))
}
