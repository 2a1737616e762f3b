package service

import (
	"context"
	"testing"
	"time"

	"github.com/digitraceslab/koota/internal/checkdigit"
	"github.com/digitraceslab/koota/internal/clock"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	"github.com/digitraceslab/koota/internal/device/repository"
	"github.com/digitraceslab/koota/pkg/db/dbtest"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (devicedomain.Service, *clock.FakeClock) {
	t.Helper()

	conn := dbtest.Open(t, &devicedomain.Device{}, &devicedomain.OAuthDevice{})
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Clock: clk,
		Repo:  repository.Provide(),
	}), clk
}

func TestCreateAssignsValidID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, devicedomain.CreateRequest{Type: "generic", Owner: "alice"})
	require.NoError(t, err)

	assert.Len(t, d.ID, checkdigit.IDLength)
	assert.True(t, checkdigit.Valid(d.ID))
	assert.Equal(t, d.ID[:6], d.PublicID)

	got, err := svc.GetByPublicID(ctx, d.PublicID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
}

func TestCreateRejectsBadFixedID(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), devicedomain.CreateRequest{
		ID:    "abc123abc123ab",
		Type:  "generic",
		Owner: "alice",
	})
	assert.ErrorIs(t, err, devicedomain.ErrInvalidDeviceID)
}

func TestCreateRequiresOwnerAndType(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, devicedomain.CreateRequest{Owner: "alice"})
	assert.ErrorIs(t, err, devicedomain.ErrInvalidType)

	_, err = svc.Create(ctx, devicedomain.CreateRequest{Type: "generic"})
	assert.ErrorIs(t, err, devicedomain.ErrInvalidOwner)
}

func TestGetValidatesCheckdigit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "abc123abc123ab")
	assert.ErrorIs(t, err, devicedomain.ErrInvalidDeviceID)

	id, err := checkdigit.Append("0123456789ab")
	require.NoError(t, err)
	_, err = svc.Get(ctx, id)
	assert.ErrorIs(t, err, devicedomain.ErrNotFound)
}

func TestChangeTypeLockedAfterFirstData(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, devicedomain.CreateRequest{Type: "generic", Owner: "alice"})
	require.NoError(t, err)

	require.NoError(t, svc.ChangeType(ctx, d.ID, "aware"))

	require.NoError(t, svc.MarkData(ctx, d.ID, clk.Now()))
	assert.ErrorIs(t, svc.ChangeType(ctx, d.ID, "purple"), devicedomain.ErrTypeLocked)
	assert.NoError(t, svc.ChangeType(ctx, d.ID, "aware"))

	first, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	require.NoError(t, svc.MarkData(ctx, d.ID, clk.Now()))
	again, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, first.FirstDataAt.Equal(*again.FirstDataAt))
}

func TestOAuthRecordLifecycle(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, devicedomain.CreateRequest{Type: "twitter", Owner: "alice"})
	require.NoError(t, err)

	o, err := svc.OAuth(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, devicedomain.StateUnlinked, o.State)

	o.State = devicedomain.StateRequested
	o.RequestKey = "state-1"
	require.NoError(t, svc.SaveOAuth(ctx, o))

	found, err := svc.OAuthByRequestKey(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, d.ID, found.DeviceID)

	now := clk.Now()
	found.State = devicedomain.StateLinked
	found.TsLinked = &now
	require.NoError(t, svc.SaveOAuth(ctx, found))

	linked, err := svc.LinkedOAuth(ctx, []string{"twitter"})
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, d.ID, linked[0].DeviceID)

	none, err := svc.LinkedOAuth(ctx, []string{"instagram"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.OAuthByRequestKey(ctx, "state-1")
	assert.ErrorIs(t, err, devicedomain.ErrNotFound)
}

func TestNeedsRefreshWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	refresh := now.Add(45 * time.Second)
	o := devicedomain.OAuthDevice{TsRefresh: &refresh}

	assert.True(t, o.NeedsRefresh(now, 60*time.Second))
	assert.False(t, o.NeedsRefresh(now.Add(-time.Minute), 60*time.Second))
	assert.False(t, (&devicedomain.OAuthDevice{}).NeedsRefresh(now, time.Minute))
}

func TestCreateKeepsPublicIDsUnique(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := checkdigit.Append("abcdef000001")
	require.NoError(t, err)
	second, err := checkdigit.Append("abcdef000002")
	require.NoError(t, err)
	unrelated, err := checkdigit.Append("abcdee000001")
	require.NoError(t, err)

	d, err := svc.Create(ctx, devicedomain.CreateRequest{ID: first, Type: "generic", Owner: "alice"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, devicedomain.CreateRequest{ID: second, Type: "generic", Owner: "bob"})
	assert.ErrorIs(t, err, devicedomain.ErrIDTaken)
	_, err = svc.Create(ctx, devicedomain.CreateRequest{ID: first, Type: "generic", Owner: "bob"})
	assert.ErrorIs(t, err, devicedomain.ErrIDTaken)

	impl := svc.(*Service)
	taken, err := impl.idTaken(ctx, second)
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = impl.idTaken(ctx, unrelated)
	require.NoError(t, err)
	assert.False(t, taken)

	got, err := svc.GetByPublicID(ctx, "abcdef")
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
}

func TestSetOverlayReplacesConfig(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, devicedomain.CreateRequest{
		Type:   "generic",
		Owner:  "alice",
		Config: map[string]any{"old": true},
	})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	require.NoError(t, svc.SetOverlay(ctx, d.ID, map[string]any{
		"status_esm": true,
		"sensors":    map[string]any{"frequency": 60},
	}))

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	var overlay map[string]any
	require.NoError(t, json.Unmarshal(got.Config, &overlay))
	assert.Equal(t, map[string]any{
		"status_esm": true,
		"sensors":    map[string]any{"frequency": float64(60)},
	}, overlay)
	assert.True(t, got.UpdatedAt.After(d.UpdatedAt))

	missing, err := checkdigit.Append("0123456789ab")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.SetOverlay(ctx, missing, map[string]any{"a": 1}), devicedomain.ErrNotFound)
}

func TestArchiveMarksDevice(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, devicedomain.CreateRequest{Type: "generic", Owner: "alice"})
	require.NoError(t, err)
	assert.False(t, d.Archived)

	clk.Advance(time.Hour)
	require.NoError(t, svc.Archive(ctx, d.ID))

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.True(t, got.UpdatedAt.Equal(clk.Now()))

	missing, err := checkdigit.Append("0123456789ab")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Archive(ctx, missing), devicedomain.ErrNotFound)
}
