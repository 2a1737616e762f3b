package repository

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/digitraceslab/koota/internal/clock"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"github.com/digitraceslab/koota/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) rawdomain.Store {
	t.Helper()

	conn := dbtest.Open(t, &rawdomain.Packet{}, &rawdomain.Attribute{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return Provide(Params{DB: conn, Clock: clock.NewFakeClock(t0), GenID: node})
}

func appendAt(t *testing.T, s rawdomain.Store, device, payload string, at time.Time) int64 {
	t.Helper()
	id, err := s.Append(context.Background(), rawdomain.AppendRequest{
		DeviceID:   device,
		Payload:    []byte(payload),
		ReceivedAt: at,
	})
	require.NoError(t, err)
	return id
}

func drain(t *testing.T, c rawdomain.Cursor) []string {
	t.Helper()
	var out []string
	for c.Next(context.Background()) {
		out = append(out, string(c.Record().Payload))
	}
	require.NoError(t, c.Err())
	return out
}

func TestScanOrderAndBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendAt(t, s, "dev1", "b", t0.Add(2*time.Minute))
	appendAt(t, s, "dev1", "a", t0.Add(time.Minute))
	appendAt(t, s, "dev1", "c", t0.Add(3*time.Minute))
	appendAt(t, s, "dev1", "c2", t0.Add(3*time.Minute))
	appendAt(t, s, "dev2", "other", t0)

	fwd := drain(t, s.Scan(ctx, "dev1", rawdomain.ScanOptions{BatchSize: 2}))
	assert.Equal(t, []string{"a", "b", "c", "c2"}, fwd)

	rev := drain(t, s.Scan(ctx, "dev1", rawdomain.ScanOptions{BatchSize: 3, Reverse: true}))
	assert.Equal(t, []string{"c2", "c", "b", "a"}, rev)

	n, err := s.Count(ctx, "dev1", rawdomain.TimeRange{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestScanRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, p := range []string{"a", "b", "c", "d"} {
		appendAt(t, s, "dev1", p, t0.Add(time.Duration(i)*time.Hour))
	}
	start := t0.Add(time.Hour)
	end := t0.Add(3 * time.Hour)
	got := drain(t, s.Scan(ctx, "dev1", rawdomain.ScanOptions{
		Range: rawdomain.TimeRange{Start: &start, End: &end},
	}))
	assert.Equal(t, []string{"b", "c"}, got)

	n, err := s.Count(ctx, "dev1", rawdomain.TimeRange{Start: &start})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestScanOrderByDataAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	late := t0.Add(-time.Hour)
	_, err := s.Append(ctx, rawdomain.AppendRequest{DeviceID: "dev1", Payload: []byte("new"), ReceivedAt: t0})
	require.NoError(t, err)
	_, err = s.Append(ctx, rawdomain.AppendRequest{DeviceID: "dev1", Payload: []byte("old"), ReceivedAt: t0.Add(time.Minute), DataAt: &late})
	require.NoError(t, err)

	got := drain(t, s.Scan(ctx, "dev1", rawdomain.ScanOptions{OrderBy: rawdomain.OrderData}))
	assert.Equal(t, []string{"old", "new"}, got)

	c := s.Scan(ctx, "dev1", rawdomain.ScanOptions{OrderBy: "ip"})
	assert.False(t, c.Next(ctx))
	assert.ErrorIs(t, c.Err(), rawdomain.ErrInvalidOrder)
}

func TestScanSnapshotExcludesLaterAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendAt(t, s, "dev1", "a", t0)
	appendAt(t, s, "dev1", "b", t0.Add(time.Second))
	appendAt(t, s, "dev1", "c", t0.Add(2*time.Second))

	c := s.Scan(ctx, "dev1", rawdomain.ScanOptions{BatchSize: 2})
	require.True(t, c.Next(ctx))
	assert.Equal(t, "a", string(c.Record().Payload))

	appendAt(t, s, "dev1", "late", t0.Add(3*time.Second))

	rest := drain(t, c)
	assert.Equal(t, []string{"b", "c"}, rest)
}

func TestScanEmpty(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, drain(t, s.Scan(context.Background(), "nobody", rawdomain.ScanOptions{})))
}

func TestLargePayloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte(`{"timestamp":1,"value":2},`), 1000)
	_, err := s.Append(ctx, rawdomain.AppendRequest{DeviceID: "dev1", Payload: payload, ReceivedAt: t0})
	require.NoError(t, err)

	c := s.Scan(ctx, "dev1", rawdomain.ScanOptions{})
	require.True(t, c.Next(ctx))
	assert.Equal(t, payload, c.Record().Payload)
	assert.False(t, c.Next(ctx))
	require.NoError(t, c.Err())
}

func TestAttributes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.AttrGet(ctx, "dev1", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AttrSet(ctx, "dev1", "k", "v1"))
	require.NoError(t, s.AttrSet(ctx, "dev1", "k", "v2"))
	v, ok, err := s.AttrGet(ctx, "dev1", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	all, err := s.Attrs(ctx, "dev1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v2"}, all)

	require.NoError(t, s.AttrDelete(ctx, "dev1", "k"))
	_, ok, err = s.AttrGet(ctx, "dev1", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAttrSetMaxIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	name := rawdomain.AttrLastTS("battery")

	got, err := s.AttrSetMax(ctx, "dev1", name, 3000)
	require.NoError(t, err)
	assert.Equal(t, 3000.0, got)

	got, err = s.AttrSetMax(ctx, "dev1", name, 1000)
	require.NoError(t, err)
	assert.Equal(t, 3000.0, got)

	v, _, err := s.AttrGet(ctx, "dev1", name)
	require.NoError(t, err)
	assert.Equal(t, "3000", v)

	_, err = s.AttrSetMax(ctx, "dev1", name, 3000.5)
	require.NoError(t, err)
	v, _, _ = s.AttrGet(ctx, "dev1", name)
	assert.Equal(t, "3000.5", v)
}

func TestTransactionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(w rawdomain.Writer) error {
		if _, err := w.Append(ctx, rawdomain.AppendRequest{DeviceID: "dev1", Payload: []byte("x"), ReceivedAt: t0}); err != nil {
			return err
		}
		if err := w.AttrSet(ctx, "dev1", "k", "v"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := s.Count(ctx, "dev1", rawdomain.TimeRange{})
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok, err := s.AttrGet(ctx, "dev1", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReassign(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := appendAt(t, s, "dev1", "x", t0)
	require.NoError(t, s.Reassign(ctx, id, "dev2", nil))

	assert.Empty(t, drain(t, s.Scan(ctx, "dev1", rawdomain.ScanOptions{})))
	assert.Equal(t, []string{"x"}, drain(t, s.Scan(ctx, "dev2", rawdomain.ScanOptions{})))
	assert.ErrorIs(t, s.Reassign(ctx, 42, "dev3", nil), rawdomain.ErrPacketMissing)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "1700000000000", FormatNumber(1700000000000))
	assert.Equal(t, "1.5", FormatNumber(1.5))
}
