package converter

import (
	"context"
	"sort"
	"time"
)

const (
	DefaultMidnightOffset = 4 * time.Hour
	DefaultLookahead      = 48 * time.Hour
)

// TimedRecord is a data point with its time in unix seconds.
type TimedRecord struct {
	TS  float64
	Rec Record
}

// Day identifies a day bucket.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Day) String() string {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

func (d Day) before(o Day) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

type bucket struct {
	day   Day
	start float64
	recs  []TimedRecord
}

// Daily groups data points into days that start MidnightOffset after local
// midnight and emits one aggregated row per day. A day is emitted once a data
// point more than Lookahead past its start arrives; the rest are flushed in
// day order at the end of input.
type Daily struct {
	Extract        func(p Packet) ([]TimedRecord, error)
	Aggregate      func(day Day, recs []TimedRecord) (Row, error)
	Columns        []string
	Location       *time.Location
	MidnightOffset time.Duration
	Lookahead      time.Duration

	buckets map[Day]*bucket
}

func (c *Daily) init() {
	if c.buckets == nil {
		c.buckets = make(map[Day]*bucket)
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.MidnightOffset == 0 {
		c.MidnightOffset = DefaultMidnightOffset
	}
	if c.Lookahead == 0 {
		c.Lookahead = DefaultLookahead
	}
}

func (c *Daily) Header() []string {
	return append([]string{"day"}, c.Columns...)
}

// DayOf returns the bucket of a unix time.
func (c *Daily) DayOf(unix float64) Day {
	c.init()
	t := FromUnix(unix).Add(-c.MidnightOffset).In(c.Location)
	return Day{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (c *Daily) dayStart(d Day) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, c.Location).Add(c.MidnightOffset).UTC()
}

// QueryFilter widens r to whole days.
func (c *Daily) QueryFilter(r Range) Range {
	c.init()
	out := r
	if r.Start != nil {
		s := c.dayStart(c.DayOf(UnixSeconds(*r.Start)))
		out.Start = &s
	}
	if r.End != nil {
		d := c.DayOf(UnixSeconds(*r.End))
		e := c.dayStart(d)
		if e.Before(*r.End) {
			e = c.dayStart(Day{Year: d.Year, Month: d.Month, Day: d.Day + 1})
		}
		out.End = &e
	}
	return out
}

func (c *Daily) Transform(ctx context.Context, in Source, emit func(Row) error) error {
	c.init()
	for in.Next() {
		recs, err := c.Extract(in.Packet())
		if err != nil {
			return err
		}
		for _, r := range recs {
			d := c.DayOf(r.TS)
			b, ok := c.buckets[d]
			if !ok {
				b = &bucket{day: d, start: UnixSeconds(c.dayStart(d))}
				c.buckets[d] = b
			}
			b.recs = append(b.recs, r)
			if err := c.emitComplete(r.TS, emit); err != nil {
				return err
			}
		}
	}
	return c.flush(emit)
}

// Pending reports whether days are still buffered.
func (c *Daily) Pending() bool { return len(c.buckets) > 0 }

func (c *Daily) emitComplete(now float64, emit func(Row) error) error {
	limit := c.Lookahead.Seconds()
	for {
		oldest := c.oldest()
		if oldest == nil || now-oldest.start <= limit {
			return nil
		}
		if err := c.emitBucket(oldest, emit); err != nil {
			return err
		}
	}
}

func (c *Daily) flush(emit func(Row) error) error {
	days := make([]*bucket, 0, len(c.buckets))
	for _, b := range c.buckets {
		days = append(days, b)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].day.before(days[j].day) })
	for _, b := range days {
		if err := c.emitBucket(b, emit); err != nil {
			return err
		}
	}
	return nil
}

// emitBucket removes b before aggregating so a failing day is skipped on
// the next Transform call.
func (c *Daily) emitBucket(b *bucket, emit func(Row) error) error {
	delete(c.buckets, b.day)
	sort.SliceStable(b.recs, func(i, j int) bool { return b.recs[i].TS < b.recs[j].TS })
	row, err := c.Aggregate(b.day, b.recs)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	return emit(append(Row{b.day.String()}, row...))
}

func (c *Daily) oldest() *bucket {
	var out *bucket
	for _, b := range c.buckets {
		if out == nil || b.day.before(out.day) {
			out = b
		}
	}
	return out
}
