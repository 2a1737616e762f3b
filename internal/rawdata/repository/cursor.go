package repository

import (
	"context"
	"database/sql"

	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"gorm.io/gorm"
)

// cursor pages through a device's packets by (order column, id). Each batch
// is a separate query so no connection is held between Next calls. Packets
// with an id above the snapshot taken on the first fetch are not returned.
type cursor struct {
	db       *gorm.DB
	deviceID string
	opts     rawdomain.ScanOptions

	started bool
	maxID   int64
	buf     []rawdomain.Packet
	pos     int
	done    bool
	lastKey *rawdomain.Packet
	cur     rawdomain.Record
	err     error
}

func (s *store) Scan(ctx context.Context, deviceID string, opts rawdomain.ScanOptions) rawdomain.Cursor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	c := &cursor{db: s.db, deviceID: deviceID, opts: opts}
	switch opts.OrderBy {
	case "":
		c.opts.OrderBy = rawdomain.OrderReceived
	case rawdomain.OrderReceived, rawdomain.OrderData:
	default:
		c.err = rawdomain.ErrInvalidOrder
	}
	return c
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.pos >= len(c.buf) {
		if c.done {
			return false
		}
		if err := c.fetch(ctx); err != nil {
			c.err = err
			return false
		}
		if len(c.buf) == 0 {
			return false
		}
	}
	p := &c.buf[c.pos]
	c.pos++
	payload, err := decodePayload(p)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = rawdomain.Record{
		ID:         p.ID,
		DeviceID:   p.DeviceID,
		ReceivedAt: p.ReceivedAt,
		DataAt:     p.DataAt,
		Payload:    payload,
	}
	return true
}

func (c *cursor) Record() rawdomain.Record { return c.cur }

func (c *cursor) Err() error { return c.err }

func (c *cursor) fetch(ctx context.Context) error {
	if !c.started {
		c.started = true
		var maxID sql.NullInt64
		row := c.db.WithContext(ctx).
			Model(&rawdomain.Packet{}).
			Where("device_id = ?", c.deviceID).
			Select("MAX(id)").
			Row()
		if err := row.Scan(&maxID); err != nil {
			return err
		}
		if !maxID.Valid {
			c.done = true
			c.buf = nil
			return nil
		}
		c.maxID = maxID.Int64
	}

	col := c.opts.OrderBy
	q := c.db.WithContext(ctx).
		Where("device_id = ? AND id <= ?", c.deviceID, c.maxID)
	q = applyRange(q, col, c.opts.Range)

	if c.lastKey != nil {
		key := orderValue(c.lastKey, col)
		if c.opts.Reverse {
			q = q.Where("("+col+" < ? OR ("+col+" = ? AND id < ?))", key, key, c.lastKey.ID)
		} else {
			q = q.Where("("+col+" > ? OR ("+col+" = ? AND id > ?))", key, key, c.lastKey.ID)
		}
	}
	dir := " ASC"
	if c.opts.Reverse {
		dir = " DESC"
	}
	var batch []rawdomain.Packet
	err := q.Order(col + dir).Order("id" + dir).Limit(c.opts.BatchSize).Find(&batch).Error
	if err != nil {
		return err
	}
	c.buf = batch
	c.pos = 0
	if len(batch) < c.opts.BatchSize {
		c.done = true
	}
	if len(batch) > 0 {
		last := batch[len(batch)-1]
		c.lastKey = &last
	}
	return nil
}

func orderValue(p *rawdomain.Packet, col string) any {
	if col == rawdomain.OrderData {
		return p.DataAt.UTC()
	}
	return p.ReceivedAt.UTC()
}
