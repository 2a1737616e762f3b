package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxChunkRows bounds the rows stored in one table packet.
const MaxChunkRows = 1000

// EnvelopeVersion is bumped whenever Envelope changes shape.
const EnvelopeVersion = 1

// Envelope wraps a chunk of table rows in storage.
type Envelope struct {
	Table     string `json:"table"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
	Version   int    `json:"version"`
}

type Request struct {
	DeviceID string
	Adapter  string
	Payload  []byte
	// SHA256 is the client-declared digest; empty skips the check.
	SHA256 string
	Nonce  string
	RowID  string
	IP     string
	DataAt *time.Time
}

// Receipt is returned for every stored upload.
type Receipt struct {
	OK         bool   `json:"ok"`
	DataSHA256 string `json:"data_sha256"`
	Bytes      int    `json:"bytes"`
	RowID      string `json:"rowid,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	PacketID   int64  `json:"-"`
}

type TableRequest struct {
	DeviceID string
	Adapter  string
	Table    string
	Body     []byte
	Rows     []map[string]any
	// TimestampKey names the row field tracked in last-ts-<table>.
	TimestampKey string
	IP           string
}

type TableReceipt struct {
	DataSHA256 string
	Rows       int
	Packets    int
	// LastTS is the table's last-ts value after the write.
	LastTS float64
}

type Service interface {
	Ingest(ctx context.Context, req Request) (*Receipt, error)
	IngestTable(ctx context.Context, req TableRequest) (*TableReceipt, error)
	LastTS(ctx context.Context, deviceID, table string) (float64, bool, error)
}

var (
	ErrInvalidDeviceID = errors.New("invalid_device_id")
	ErrMissingDeviceID = errors.New("missing_device_id")
	ErrUnknownDevice   = errors.New("unknown_device_id")
	ErrDigestMismatch  = errors.New("sha256_mismatch")
	ErrInvalidTable    = errors.New("invalid_table")
)

// RateLimitedError is returned when a device uploads too fast.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// StoreError marks a persistence failure; nothing of the request was kept.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return "store failure: " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }
