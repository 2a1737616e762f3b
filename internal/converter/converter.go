// Package converter turns stored packets into rows.
//
// A converter pulls packets from a Source and pushes rows to an emit
// callback. Run re-invokes Transform on the same Source after a failure, so
// converters must keep any cross-packet state on the receiver rather than in
// locals of Transform.
package converter

import (
	"context"
	"time"

	"github.com/digitraceslab/koota/internal/safehash"
)

// Packet is one stored payload.
type Packet struct {
	TS   time.Time
	Data []byte
}

// Unix returns the packet time as fractional unix seconds.
func (p Packet) Unix() float64 { return UnixSeconds(p.TS) }

// Row is one output tuple, positionally matching Header.
type Row []any

// Source is a pull iterator over packets. It is materialized once per run.
type Source interface {
	Next() bool
	Packet() Packet
	Err() error
}

// TimeFunc renders a unix timestamp in the caller's preferred form.
type TimeFunc func(unix float64) any

// Range is a [Start, End) restriction converters may push down to storage.
type Range struct {
	Start *time.Time
	End   *time.Time
}

type Converter interface {
	Header() []string
	Transform(ctx context.Context, in Source, emit func(Row) error) error
}

// RangeFilter is implemented by converters that widen or narrow the range
// requested by the caller before packets are read, e.g. to include look-ahead.
type RangeFilter interface {
	QueryFilter(r Range) Range
}

// Params carries request-scoped settings into a converter factory.
type Params struct {
	Hasher   safehash.Hasher
	Location *time.Location
	TimeFn   TimeFunc
	Now      time.Time
	Options  map[string]string
}

func (p Params) withDefaults() Params {
	if p.Location == nil {
		p.Location = time.UTC
	}
	if p.TimeFn == nil {
		p.TimeFn = NumericTime
	}
	return p
}

// Descriptor names a converter an adapter exposes.
type Descriptor struct {
	Name        string
	Description string
	New         func(Params) Converter
}

// Build instantiates the converter with defaults applied to p.
func (d Descriptor) Build(p Params) Converter {
	return d.New(p.withDefaults())
}

// Find returns the descriptor called name.
func Find(list []Descriptor, name string) (Descriptor, bool) {
	for _, d := range list {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

func NumericTime(unix float64) any { return unix }

// FormattedTime renders timestamps in loc with layout.
func FormattedTime(loc *time.Location, layout string) TimeFunc {
	if loc == nil {
		loc = time.UTC
	}
	return func(unix float64) any {
		return FromUnix(unix).In(loc).Format(layout)
	}
}

func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func FromUnix(unix float64) time.Time {
	sec := int64(unix)
	nsec := int64((unix - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// SliceSource iterates over an in-memory packet list.
type SliceSource struct {
	items []Packet
	pos   int
	cur   Packet
}

func NewSliceSource(items []Packet) *SliceSource {
	return &SliceSource{items: items}
}

func (s *SliceSource) Next() bool {
	if s.pos >= len(s.items) {
		return false
	}
	s.cur = s.items[s.pos]
	s.pos++
	return true
}

func (s *SliceSource) Packet() Packet { return s.cur }

func (s *SliceSource) Err() error { return nil }
