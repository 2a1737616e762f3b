package converter

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

// Record is one decoded data point of a packet.
type Record map[string]any

// Extractor decodes a packet into data points.
type Extractor func(p Packet) ([]Record, error)

// JSONRecords decodes a payload holding a JSON object or array of objects.
func JSONRecords(data []byte) ([]Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if data[0] == '{' {
		var one Record
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		return []Record{one}, nil
	}
	var many []Record
	if err := json.Unmarshal(data, &many); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return many, nil
}

// Float reads a numeric field that may arrive as a number or a string.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// String renders a scalar field for hashing or output.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// Field maps a source key to an output column.
type Field struct {
	Name string
	Key  string
}

// Projection emits one row per data point whose ProbeKey equals Probe.
// With an empty Probe every data point matches.
type Projection struct {
	Extract  Extractor
	ProbeKey string
	Probe    string
	// TimeKey selects the data point time; empty uses the packet time.
	TimeKey string
	// TimeScale divides TimeKey values into seconds (1000 for milliseconds).
	TimeScale float64
	Fields    []Field
	TimeFn    TimeFunc
}

func (c *Projection) Header() []string {
	h := make([]string, 0, len(c.Fields)+1)
	h = append(h, "time")
	for _, f := range c.Fields {
		h = append(h, f.Name)
	}
	return h
}

func (c *Projection) Transform(ctx context.Context, in Source, emit func(Row) error) error {
	for in.Next() {
		p := in.Packet()
		recs, err := c.Extract(p)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if c.Probe != "" && String(rec[c.ProbeKey]) != c.Probe {
				continue
			}
			row := make(Row, 0, len(c.Fields)+1)
			row = append(row, c.TimeFn(recordTime(rec, p, c.TimeKey, c.TimeScale)))
			for _, f := range c.Fields {
				row = append(row, rec[f.Key])
			}
			if err := emit(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func recordTime(rec Record, p Packet, key string, scale float64) float64 {
	if key == "" {
		return p.Unix()
	}
	ts, ok := Float(rec[key])
	if !ok {
		return p.Unix()
	}
	if scale > 0 {
		ts /= scale
	}
	return ts
}

// TimestampExtractor pulls data point times in seconds from a packet.
type TimestampExtractor func(p Packet) ([]float64, error)

// RecordTimestamps builds a TimestampExtractor reading key from every record.
func RecordTimestamps(extract Extractor, key string, scale float64) TimestampExtractor {
	return func(p Packet) ([]float64, error) {
		recs, err := extract(p)
		if err != nil {
			return nil, err
		}
		out := make([]float64, 0, len(recs))
		for _, rec := range recs {
			if ts, ok := Float(rec[key]); ok {
				if scale > 0 {
					ts /= scale
				}
				out = append(out, ts)
			}
		}
		return out, nil
	}
}

// Timestamps emits every data point time, for gap analysis.
type Timestamps struct {
	Extract TimestampExtractor
	TimeFn  TimeFunc
}

func (c *Timestamps) Header() []string { return []string{"time"} }

func (c *Timestamps) Transform(ctx context.Context, in Source, emit func(Row) error) error {
	for in.Next() {
		ts, err := c.Extract(in.Packet())
		if err != nil {
			return err
		}
		for _, t := range ts {
			if err := emit(Row{c.TimeFn(t)}); err != nil {
				return err
			}
		}
	}
	return nil
}

// MinValidTimestamp drops clearly broken clocks (before March 1973).
const MinValidTimestamp = 1e8

// Gaps emits one row per pair of adjacent data point times more than MinGap
// seconds apart.
type Gaps struct {
	Extract TimestampExtractor
	MinGap  float64
	TimeFn  TimeFunc

	times   []float64
	flushed bool
}

func (c *Gaps) Header() []string { return []string{"start", "end", "duration"} }

func (c *Gaps) Transform(ctx context.Context, in Source, emit func(Row) error) error {
	for in.Next() {
		ts, err := c.Extract(in.Packet())
		if err != nil {
			return err
		}
		for _, t := range ts {
			if t >= MinValidTimestamp {
				c.times = append(c.times, t)
			}
		}
	}
	if c.flushed {
		return nil
	}
	c.flushed = true
	sort.Float64s(c.times)
	for i := 1; i < len(c.times); i++ {
		prev, cur := c.times[i-1], c.times[i]
		if cur-prev > c.MinGap {
			if err := emit(Row{c.TimeFn(prev), c.TimeFn(cur), cur - prev}); err != nil {
				return err
			}
		}
	}
	return nil
}

// OptionFloat reads a numeric converter option.
func OptionFloat(opts map[string]string, key string, def float64) float64 {
	if v, ok := opts[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
