package configmerge

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/digitraceslab/koota/internal/converter"
)

const (
	schedulePrefix = "schedule_"
	expandDays     = 3
	lookahead      = 48 * time.Hour
	maxRejections  = 1000
)

var ErrInvalidSchedule = errors.New("invalid_schedule")

// Schedule is one entry of the schedulers section.
type Schedule struct {
	ID      string
	Trigger map[string]any
	// Rest holds every other key of the entry, e.g. action or package.
	Rest map[string]any
}

// Document renders the entry the way devices expect it.
func (s Schedule) Document() map[string]any {
	out := make(map[string]any, len(s.Rest)+2)
	for k, v := range s.Rest {
		out[k] = clone(v)
	}
	out["schedule_id"] = s.ID
	out["trigger"] = clone(s.Trigger)
	return out
}

// RandomIntervals is the random_intervals trigger.
type RandomIntervals struct {
	N     int
	Start [2]int
	End   [2]int
	// Min and Max are gaps in minutes; zero disables them.
	Min float64
	Max float64
}

// CollectSchedules removes schedule_<id> keys from values and returns them
// sorted by id.
func CollectSchedules(values map[string]any) ([]Schedule, error) {
	var out []Schedule
	for k, v := range values {
		if !strings.HasPrefix(k, schedulePrefix) {
			continue
		}
		delete(values, k)
		entry, ok := v.(map[string]any)
		if !ok {
			if v == nil {
				continue
			}
			return nil, fmt.Errorf("%w: %s is not a mapping", ErrInvalidSchedule, k)
		}
		s := Schedule{ID: strings.TrimPrefix(k, schedulePrefix), Rest: map[string]any{}}
		for ek, ev := range entry {
			if ek == "trigger" {
				trig, ok := ev.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%w: %s trigger is not a mapping", ErrInvalidSchedule, k)
				}
				s.Trigger = trig
				continue
			}
			if ek == "schedule_id" {
				continue
			}
			s.Rest[ek] = ev
		}
		if s.Trigger == nil {
			return nil, fmt.Errorf("%w: %s has no trigger", ErrInvalidSchedule, k)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ExpandSchedules replaces random_intervals entries with one timer entry per
// sampled time. Samples before now or more than 48h after now are dropped.
func ExpandSchedules(items []Schedule, seed string, now time.Time, loc *time.Location) ([]Schedule, error) {
	var out []Schedule
	for _, s := range items {
		raw, ok := s.Trigger["random_intervals"]
		if !ok {
			out = append(out, s)
			continue
		}
		ri, err := parseRandomIntervals(raw)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
		}
		for _, ts := range ExpandRandom(ri, seed+s.ID, now, loc) {
			if ts.Before(now) || ts.After(now.Add(lookahead)) {
				continue
			}
			trig := make(map[string]any, len(s.Trigger))
			for k, v := range s.Trigger {
				if k != "random_intervals" {
					trig[k] = clone(v)
				}
			}
			trig["timer"] = ts.UnixMilli()
			out = append(out, Schedule{
				ID:      fmt.Sprintf("%s_%s", s.ID, ts.In(loc).Format("20060102_150405")),
				Trigger: trig,
				Rest:    s.Rest,
			})
		}
	}
	return out, nil
}

// ExpandRandom samples ri for the three days starting with now's date.
// Each day draws from its own generator seeded by seed and the date, so the
// result is reproducible.
func ExpandRandom(ri RandomIntervals, seed string, now time.Time, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	var out []time.Time
	for d := 0; d < expandDays; d++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+d, 0, 0, 0, 0, loc)
		out = append(out, sampleDay(ri, seed, day)...)
	}
	return out
}

func sampleDay(ri RandomIntervals, seed string, day time.Time) []time.Time {
	loc := day.Location()
	start := time.Date(day.Year(), day.Month(), day.Day(), ri.Start[0], ri.Start[1], 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), ri.End[0], ri.End[1], 0, 0, loc)
	window := end.Sub(start).Seconds()
	if ri.N <= 0 || window <= 0 {
		return nil
	}

	minGap := ri.Min * 60
	maxGap := ri.Max * 60
	slack := window - float64(ri.N-1)*minGap
	if slack < 0 {
		// The window cannot hold N points minGap apart; spread them evenly.
		minGap = window / float64(max(ri.N-1, 1))
		slack = 0
	}

	sum := sha256.Sum256([]byte(seed + day.Format("2006-01-02")))
	rng := rand.New(rand.NewPCG(binary.BigEndian.Uint64(sum[:8]), binary.BigEndian.Uint64(sum[8:16])))

	var offsets []float64
	for attempt := 0; attempt < maxRejections; attempt++ {
		offsets = draw(rng, ri.N, slack, minGap)
		if maxGap <= 0 || gapsWithin(offsets, maxGap) {
			break
		}
	}

	out := make([]time.Time, len(offsets))
	for i, off := range offsets {
		out[i] = start.Add(time.Duration(off * float64(time.Second))).Truncate(time.Second)
	}
	return out
}

// draw places n sorted uniform points in [0, slack] and shifts the i-th by
// i*minGap, which yields uniform spacing subject to the minimum gap.
func draw(rng *rand.Rand, n int, slack, minGap float64) []float64 {
	pts := make([]float64, n)
	for i := range pts {
		pts[i] = rng.Float64() * slack
	}
	sort.Float64s(pts)
	for i := range pts {
		pts[i] += float64(i) * minGap
	}
	return pts
}

func gapsWithin(pts []float64, maxGap float64) bool {
	for i := 1; i < len(pts); i++ {
		if pts[i]-pts[i-1] > maxGap {
			return false
		}
	}
	return true
}

func parseRandomIntervals(raw any) (RandomIntervals, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return RandomIntervals{}, fmt.Errorf("%w: random_intervals is not a mapping", ErrInvalidSchedule)
	}
	var ri RandomIntervals
	n, ok := converter.Float(m["N"])
	if !ok || n < 1 {
		return RandomIntervals{}, fmt.Errorf("%w: random_intervals needs N >= 1", ErrInvalidSchedule)
	}
	ri.N = int(n)
	var err error
	if ri.Start, err = hourMinute(m["start"]); err != nil {
		return RandomIntervals{}, err
	}
	if ri.End, err = hourMinute(m["end"]); err != nil {
		return RandomIntervals{}, err
	}
	ri.Min, _ = converter.Float(m["min"])
	ri.Max, _ = converter.Float(m["max"])
	return ri, nil
}

func hourMinute(v any) ([2]int, error) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 || len(list) > 2 {
		return [2]int{}, fmt.Errorf("%w: expected [hour, minute]", ErrInvalidSchedule)
	}
	var out [2]int
	for i, x := range list {
		f, ok := converter.Float(x)
		if !ok {
			return [2]int{}, fmt.Errorf("%w: expected [hour, minute]", ErrInvalidSchedule)
		}
		out[i] = int(f)
	}
	if out[0] < 0 || out[0] > 24 || out[1] < 0 || out[1] > 59 {
		return [2]int{}, fmt.Errorf("%w: hour or minute out of range", ErrInvalidSchedule)
	}
	return out, nil
}
