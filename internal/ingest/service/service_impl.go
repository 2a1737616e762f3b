package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/digitraceslab/koota/internal/checkdigit"
	"github.com/digitraceslab/koota/internal/clock"
	"github.com/digitraceslab/koota/internal/converter"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	ingestdomain "github.com/digitraceslab/koota/internal/ingest/domain"
	obsmetrics "github.com/digitraceslab/koota/internal/observability/metrics"
	"github.com/digitraceslab/koota/internal/ratelimit"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var tableName = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Store    rawdomain.Store
	Devices  devicedomain.Service
	Registry *adapter.Registry
	Guard    *ratelimit.IngestGuard
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	store    rawdomain.Store
	devices  devicedomain.Service
	registry *adapter.Registry
	guard    *ratelimit.IngestGuard
	metrics  *obsmetrics.Metrics
	tracer   trace.Tracer
}

// adapterFor returns the adapter that handled the request, or the one of
// the device's stored type when the request names none.
func (s *Service) adapterFor(name, deviceType string) adapter.Entry {
	if name != "" {
		if e, ok := s.registry.Get(name); ok {
			return e
		}
	}
	e, _ := s.registry.Lookup(deviceType)
	return e
}

func New(p Params) ingestdomain.Service {
	guard := p.Guard
	if guard == nil {
		guard = ratelimit.NewLocalGuard()
	}
	return &Service{
		log:      p.Log.Named("ingest.service"),
		clock:    p.Clock,
		store:    p.Store,
		devices:  p.Devices,
		registry: p.Registry,
		guard:    guard,
		metrics:  p.Metrics,
		tracer:   otel.Tracer("koota/ingest"),
	}
}

func (s *Service) Ingest(ctx context.Context, req ingestdomain.Request) (*ingestdomain.Receipt, error) {
	start := s.clock.Now()
	d, err := s.device(ctx, req.DeviceID)
	if err != nil {
		s.metrics.IngestPacket(req.Adapter, obsmetrics.ResultRejected, 0)
		return nil, err
	}
	adapterName := req.Adapter
	entry := s.adapterFor(req.Adapter, d.Type)
	if adapterName == "" {
		adapterName = entry.Name
	}

	if err := s.allow(ctx, d.ID, adapterName); err != nil {
		return nil, err
	}

	digest := Digest(req.Payload)
	if declared := strings.TrimSpace(req.SHA256); declared != "" && !strings.EqualFold(declared, digest) {
		s.metrics.IngestPacket(adapterName, obsmetrics.ResultRejected, 0)
		return nil, ingestdomain.ErrDigestMismatch
	}

	payload := req.Payload
	if pp, ok := entry.Adapter.(adapter.PostProcessor); ok {
		payload, err = pp.PostProcess(ctx, d, payload)
		if err != nil {
			s.metrics.IngestPacket(adapterName, obsmetrics.ResultError, 0)
			return nil, err
		}
	}

	ctx, span := s.tracer.Start(ctx, "ingest.append", trace.WithAttributes(
		attribute.String("adapter", adapterName),
		attribute.Int("bytes", len(payload)),
	))
	defer span.End()

	now := s.clock.Now().UTC()
	id, err := s.store.Append(ctx, rawdomain.AppendRequest{
		DeviceID:   d.ID,
		Payload:    payload,
		ReceivedAt: now,
		DataAt:     req.DataAt,
		IP:         req.IP,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		s.metrics.IngestPacket(adapterName, obsmetrics.ResultError, 0)
		return nil, &ingestdomain.StoreError{Err: err}
	}
	s.markData(ctx, d, now)

	s.metrics.IngestPacket(adapterName, obsmetrics.ResultOK, len(req.Payload))
	s.metrics.ObserveIngest(adapterName, s.clock.Now().Sub(start))
	s.log.Debug("packet stored",
		zap.String("device", d.PublicID),
		zap.String("adapter", adapterName),
		zap.Int("bytes", len(req.Payload)),
	)

	return &ingestdomain.Receipt{
		OK:         true,
		DataSHA256: digest,
		Bytes:      len(req.Payload),
		RowID:      req.RowID,
		Nonce:      req.Nonce,
		PacketID:   id,
	}, nil
}

// IngestTable stores rows for a logical table as envelopes of at most
// MaxChunkRows rows. All chunks and the last-ts attribute are written in one
// unit of work while the (device, table) lock is held.
func (s *Service) IngestTable(ctx context.Context, req ingestdomain.TableRequest) (*ingestdomain.TableReceipt, error) {
	start := s.clock.Now()
	if !tableName.MatchString(req.Table) {
		return nil, ingestdomain.ErrInvalidTable
	}
	d, err := s.device(ctx, req.DeviceID)
	if err != nil {
		s.metrics.IngestPacket(req.Adapter, obsmetrics.ResultRejected, 0)
		return nil, err
	}
	if err := s.allow(ctx, d.ID, req.Adapter); err != nil {
		return nil, err
	}

	tsKey := req.TimestampKey
	if tsKey == "" {
		tsKey = "timestamp"
	}
	maxTS, haveTS := maxTimestamp(req.Rows, tsKey)

	unlock, err := s.guard.LockTable(ctx, d.ID, req.Table)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx, span := s.tracer.Start(ctx, "ingest.table", trace.WithAttributes(
		attribute.String("adapter", req.Adapter),
		attribute.String("table", req.Table),
		attribute.Int("rows", len(req.Rows)),
	))
	defer span.End()

	now := s.clock.Now().UTC()
	receipt := &ingestdomain.TableReceipt{
		DataSHA256: Digest(req.Body),
		Rows:       len(req.Rows),
	}
	attr := rawdomain.AttrLastTS(req.Table)

	err = s.store.Transaction(ctx, func(w rawdomain.Writer) error {
		for lo := 0; lo < len(req.Rows); lo += ingestdomain.MaxChunkRows {
			hi := min(lo+ingestdomain.MaxChunkRows, len(req.Rows))
			payload, err := encodeEnvelope(req.Table, req.Rows[lo:hi], now)
			if err != nil {
				return err
			}
			if _, err := w.Append(ctx, rawdomain.AppendRequest{
				DeviceID:   d.ID,
				Payload:    payload,
				ReceivedAt: now,
				IP:         req.IP,
			}); err != nil {
				return err
			}
			receipt.Packets++
		}
		if haveTS {
			last, err := w.AttrSetMax(ctx, d.ID, attr, maxTS)
			if err != nil {
				return err
			}
			receipt.LastTS = last
			return nil
		}
		last, ok, err := w.AttrGet(ctx, d.ID, attr)
		if err != nil || !ok {
			return err
		}
		receipt.LastTS, _ = strconv.ParseFloat(last, 64)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "table write failed")
		s.metrics.IngestPacket(req.Adapter, obsmetrics.ResultError, 0)
		return nil, &ingestdomain.StoreError{Err: err}
	}
	if receipt.Packets > 0 {
		s.markData(ctx, d, now)
	}

	s.metrics.IngestPacket(req.Adapter, obsmetrics.ResultOK, len(req.Body))
	s.metrics.IngestChunks(req.Adapter, req.Table, receipt.Packets)
	s.metrics.ObserveIngest(req.Adapter, s.clock.Now().Sub(start))
	s.log.Debug("table rows stored",
		zap.String("device", d.PublicID),
		zap.String("table", req.Table),
		zap.Int("rows", receipt.Rows),
		zap.Int("packets", receipt.Packets),
	)
	return receipt, nil
}

func (s *Service) LastTS(ctx context.Context, deviceID, table string) (float64, bool, error) {
	v, ok, err := s.store.AttrGet(ctx, deviceID, rawdomain.AttrLastTS(table))
	if err != nil || !ok {
		return 0, false, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt %s attribute: %w", rawdomain.AttrLastTS(table), err)
	}
	return f, true, nil
}

func (s *Service) device(ctx context.Context, id string) (*devicedomain.Device, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return nil, ingestdomain.ErrMissingDeviceID
	}
	if !checkdigit.Valid(id) {
		return nil, ingestdomain.ErrInvalidDeviceID
	}
	d, err := s.devices.Get(ctx, id)
	switch {
	case errors.Is(err, devicedomain.ErrNotFound):
		return nil, ingestdomain.ErrUnknownDevice
	case errors.Is(err, devicedomain.ErrInvalidDeviceID):
		return nil, ingestdomain.ErrInvalidDeviceID
	case err != nil:
		return nil, &ingestdomain.StoreError{Err: err}
	}
	return d, nil
}

func (s *Service) allow(ctx context.Context, deviceID, adapterName string) error {
	ok, wait := s.guard.AllowDevice(ctx, deviceID)
	if ok {
		return nil
	}
	s.metrics.IngestPacket(adapterName, obsmetrics.ResultRateLimited, 0)
	return &ingestdomain.RateLimitedError{RetryAfter: wait}
}

func (s *Service) markData(ctx context.Context, d *devicedomain.Device, at time.Time) {
	if d.HasData() {
		return
	}
	if err := s.devices.MarkData(ctx, d.ID, at); err != nil {
		s.log.Warn("mark first data", zap.String("device", d.PublicID), zap.Error(err))
	}
}

// Digest is the hex SHA-256 of a payload.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func encodeEnvelope(table string, rows []map[string]any, now time.Time) ([]byte, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return json.Marshal(ingestdomain.Envelope{
		Table:     table,
		Data:      string(data),
		Timestamp: now.Unix(),
		Version:   ingestdomain.EnvelopeVersion,
	})
}

func maxTimestamp(rows []map[string]any, key string) (float64, bool) {
	var best float64
	found := false
	for _, r := range rows {
		ts, ok := converter.Float(r[key])
		if !ok {
			continue
		}
		if !found || ts > best {
			best, found = ts, true
		}
	}
	return best, found
}
