package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/digitraceslab/koota/internal/clock"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"github.com/golang/snappy"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	codecSnappy = "snappy"

	// CompressThreshold is the payload size from which snappy is tried.
	CompressThreshold = 4 << 10
	defaultBatchSize  = 200
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Clock clock.Clock
	GenID *snowflake.Node
}

type store struct {
	db    *gorm.DB
	clock clock.Clock
	genID *snowflake.Node
}

func Provide(p Params) rawdomain.Store {
	return &store{db: p.DB, clock: p.Clock, genID: p.GenID}
}

func (s *store) withDB(db *gorm.DB) *store {
	return &store{db: db, clock: s.clock, genID: s.genID}
}

func (s *store) Transaction(ctx context.Context, fn func(w rawdomain.Writer) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.withDB(tx))
	})
}

func (s *store) Append(ctx context.Context, req rawdomain.AppendRequest) (int64, error) {
	if req.DeviceID == "" {
		return 0, rawdomain.ErrEmptyDevice
	}
	received := req.ReceivedAt
	if received.IsZero() {
		received = s.clock.Now()
	}
	received = received.UTC()
	dataAt := received
	if req.DataAt != nil && !req.DataAt.IsZero() {
		dataAt = req.DataAt.UTC()
	}

	data, codec := encodePayload(req.Payload)
	p := &rawdomain.Packet{
		ID:         s.genID.Generate().Int64(),
		DeviceID:   req.DeviceID,
		ReceivedAt: received,
		DataAt:     dataAt,
		IP:         req.IP,
		Length:     len(req.Payload),
		Codec:      codec,
		Data:       data,
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return 0, fmt.Errorf("append packet: %w", err)
	}
	return p.ID, nil
}

func (s *store) Count(ctx context.Context, deviceID string, r rawdomain.TimeRange) (int64, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(&rawdomain.Packet{}).Where("device_id = ?", deviceID)
	q = applyRange(q, rawdomain.OrderReceived, r)
	err := q.Count(&n).Error
	return n, err
}

func (s *store) Reassign(ctx context.Context, id int64, deviceID string, receivedAt *time.Time) error {
	fields := map[string]any{}
	if deviceID != "" {
		fields["device_id"] = deviceID
	}
	if receivedAt != nil {
		fields["received_at"] = receivedAt.UTC()
	}
	if len(fields) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&rawdomain.Packet{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return rawdomain.ErrPacketMissing
	}
	return nil
}

func (s *store) AttrGet(ctx context.Context, deviceID, name string) (string, bool, error) {
	var a rawdomain.Attribute
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND name = ?", deviceID, name).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return a.Value, true, nil
}

func (s *store) AttrSet(ctx context.Context, deviceID, name, value string) error {
	if deviceID == "" {
		return rawdomain.ErrEmptyDevice
	}
	a := rawdomain.Attribute{
		DeviceID:  deviceID,
		Name:      name,
		Value:     value,
		UpdatedAt: s.clock.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&a).Error
}

func (s *store) AttrDelete(ctx context.Context, deviceID, name string) error {
	return s.db.WithContext(ctx).
		Where("device_id = ? AND name = ?", deviceID, name).
		Delete(&rawdomain.Attribute{}).Error
}

func (s *store) AttrSetMax(ctx context.Context, deviceID, name string, value float64) (float64, error) {
	current, ok, err := s.AttrGet(ctx, deviceID, name)
	if err != nil {
		return 0, err
	}
	if ok {
		if prev, perr := strconv.ParseFloat(current, 64); perr == nil && prev >= value {
			return prev, nil
		}
	}
	if err := s.AttrSet(ctx, deviceID, name, FormatNumber(value)); err != nil {
		return 0, err
	}
	return value, nil
}

func (s *store) Attrs(ctx context.Context, deviceID string) (map[string]string, error) {
	var items []rawdomain.Attribute
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("name ASC").Find(&items).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(items))
	for _, a := range items {
		out[a.Name] = a.Value
	}
	return out, nil
}

// FormatNumber renders integral values without an exponent or fraction.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e18 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func applyRange(q *gorm.DB, column string, r rawdomain.TimeRange) *gorm.DB {
	if r.Start != nil {
		q = q.Where(column+" >= ?", r.Start.UTC())
	}
	if r.End != nil {
		q = q.Where(column+" < ?", r.End.UTC())
	}
	return q
}

func encodePayload(payload []byte) ([]byte, string) {
	if payload == nil {
		return []byte{}, ""
	}
	if len(payload) < CompressThreshold {
		return payload, ""
	}
	enc := snappy.Encode(nil, payload)
	if len(enc) >= len(payload) {
		return payload, ""
	}
	return enc, codecSnappy
}

func decodePayload(p *rawdomain.Packet) ([]byte, error) {
	switch p.Codec {
	case "":
		return p.Data, nil
	case codecSnappy:
		return snappy.Decode(nil, p.Data)
	default:
		return nil, fmt.Errorf("%w: %s", rawdomain.ErrUnknownCodec, p.Codec)
	}
}
