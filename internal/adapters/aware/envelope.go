package aware

import (
	"errors"
	"fmt"

	"github.com/digitraceslab/koota/internal/converter"
	ingestdomain "github.com/digitraceslab/koota/internal/ingest/domain"
	"github.com/goccy/go-json"
)

// DecodeEnvelope returns the table and rows of a stored chunk.
func DecodeEnvelope(data []byte) (string, []converter.Record, error) {
	var env ingestdomain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Version > ingestdomain.EnvelopeVersion {
		return "", nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if env.Table == "" {
		return "", nil, fmt.Errorf("envelope without table")
	}
	var rows []converter.Record
	if err := json.Unmarshal([]byte(env.Data), &rows); err != nil {
		return "", nil, fmt.Errorf("invalid rows in %s: %w", env.Table, err)
	}
	return env.Table, rows, nil
}

// tableRows extracts the rows of table, or of every table when table is
// empty. Chunks of other tables yield nothing.
func tableRows(table string) converter.Extractor {
	return func(p converter.Packet) ([]converter.Record, error) {
		name, rows, err := DecodeEnvelope(p.Data)
		if err != nil {
			return nil, err
		}
		if table != "" && name != table {
			return nil, nil
		}
		return rows, nil
	}
}

// hashed replaces the named string fields with salted digests. keep may
// exempt a record from hashing.
func hashed(extract converter.Extractor, hash func(string) string, keep func(converter.Record) bool, keys ...string) converter.Extractor {
	return func(p converter.Packet) ([]converter.Record, error) {
		recs, err := extract(p)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if keep != nil && keep(rec) {
				continue
			}
			for _, k := range keys {
				v, ok := rec[k]
				if !ok || v == nil {
					continue
				}
				rec[k] = hash(converter.String(v))
			}
		}
		return recs, nil
	}
}

// recordTime reads the millisecond timestamp of a row in seconds.
func recordTime(rec converter.Record) (float64, bool) {
	ts, ok := converter.Float(rec[TimestampKey])
	if !ok {
		return 0, false
	}
	return ts / 1000, true
}

func timedRows(table string) func(p converter.Packet) ([]converter.TimedRecord, error) {
	extract := tableRows(table)
	return func(p converter.Packet) ([]converter.TimedRecord, error) {
		recs, err := extract(p)
		if err != nil {
			return nil, err
		}
		out := make([]converter.TimedRecord, 0, len(recs))
		for _, rec := range recs {
			if ts, ok := recordTime(rec); ok {
				out = append(out, converter.TimedRecord{TS: ts, Rec: rec})
			}
		}
		return out, nil
	}
}

var errInvalidRows = errors.New("data is not a JSON array of rows")
