package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/digitraceslab/koota/internal/apikey/domain"
	"github.com/digitraceslab/koota/internal/apikey/repository"
	"github.com/digitraceslab/koota/internal/clock"
	"github.com/digitraceslab/koota/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (apikeydomain.Service, *clock.FakeClock) {
	t.Helper()
	conn := dbtest.Open(t, &apikeydomain.APIKey{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	return New(Params{DB: conn, Log: zap.NewNop(), Clock: clk, GenID: node, Repo: repository.Provide()}), clk
}

func TestCreateAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	secret, err := svc.Create(ctx, "alice", apikeydomain.CreateRequest{Name: "laptop"})
	require.NoError(t, err)
	assert.Contains(t, secret.APIKey, "koota_")

	owner, err := svc.Authenticate(ctx, secret.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	_, err = svc.Authenticate(ctx, secret.APIKey+"x")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
	_, err = svc.Authenticate(ctx, "nope")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)

	keys, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)

	_, err = svc.Create(ctx, "alice", apikeydomain.CreateRequest{})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidName)
	_, err = svc.Create(ctx, " ", apikeydomain.CreateRequest{Name: "x"})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidOwner)
}

func TestRotateKeepsOldKeyForGracePeriod(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	old, err := svc.Create(ctx, "alice", apikeydomain.CreateRequest{Name: "laptop"})
	require.NoError(t, err)
	next, err := svc.Rotate(ctx, "alice", old.KeyID)
	require.NoError(t, err)
	assert.NotEqual(t, old.KeyID, next.KeyID)

	_, err = svc.Authenticate(ctx, old.APIKey)
	require.NoError(t, err)

	clk.Advance(apiKeyRotationGracePeriod + time.Second)
	_, err = svc.Authenticate(ctx, old.APIKey)
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
	_, err = svc.Authenticate(ctx, next.APIKey)
	assert.NoError(t, err)

	_, err = svc.Rotate(ctx, "bob", next.KeyID)
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)
}

func TestRevoke(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	key, err := svc.Create(ctx, "alice", apikeydomain.CreateRequest{Name: "laptop"})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Revoke(ctx, "bob", key.KeyID), apikeydomain.ErrNotFound)
	require.NoError(t, svc.Revoke(ctx, "alice", key.KeyID))

	_, err = svc.Authenticate(ctx, key.APIKey)
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}
