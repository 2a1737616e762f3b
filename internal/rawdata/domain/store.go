package domain

import (
	"context"
	"errors"
	"time"
)

// Order columns accepted by Scan.
const (
	OrderReceived = "received_at"
	OrderData     = "data_at"
)

type AppendRequest struct {
	DeviceID   string
	Payload    []byte
	ReceivedAt time.Time
	// DataAt defaults to ReceivedAt.
	DataAt *time.Time
	IP     string
}

// TimeRange restricts a query to [Start, End). Nil bounds are open.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// Intersect narrows r by o.
func (r TimeRange) Intersect(o TimeRange) TimeRange {
	out := r
	if o.Start != nil && (out.Start == nil || o.Start.After(*out.Start)) {
		out.Start = o.Start
	}
	if o.End != nil && (out.End == nil || o.End.Before(*out.End)) {
		out.End = o.End
	}
	return out
}

type ScanOptions struct {
	Range   TimeRange
	Reverse bool
	// OrderBy is OrderReceived (default) or OrderData. Range applies to the
	// same column.
	OrderBy   string
	BatchSize int
}

// Cursor is a pull iterator over scanned records.
type Cursor interface {
	Next(ctx context.Context) bool
	Record() Record
	Err() error
}

// Writer is the part of the store usable inside a unit of work.
type Writer interface {
	Append(ctx context.Context, req AppendRequest) (int64, error)
	AttrGet(ctx context.Context, deviceID, name string) (string, bool, error)
	AttrSet(ctx context.Context, deviceID, name, value string) error
	AttrDelete(ctx context.Context, deviceID, name string) error
	// AttrSetMax stores value only when it is greater than the stored
	// numeric value and returns the resulting value.
	AttrSetMax(ctx context.Context, deviceID, name string, value float64) (float64, error)
}

type Store interface {
	Writer
	Count(ctx context.Context, deviceID string, r TimeRange) (int64, error)
	Scan(ctx context.Context, deviceID string, opts ScanOptions) Cursor
	Attrs(ctx context.Context, deviceID string) (map[string]string, error)
	// Transaction runs fn in one unit of work; nothing fn wrote is durable if
	// it returns an error.
	Transaction(ctx context.Context, fn func(w Writer) error) error
	// Reassign moves a packet to another device or receive time.
	Reassign(ctx context.Context, id int64, deviceID string, receivedAt *time.Time) error
}

var (
	ErrEmptyDevice   = errors.New("empty_device_id")
	ErrPacketMissing = errors.New("packet_not_found")
	ErrUnknownCodec  = errors.New("unknown_payload_codec")
	ErrInvalidOrder  = errors.New("invalid_scan_order")
)
