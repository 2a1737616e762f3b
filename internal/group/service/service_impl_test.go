package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/digitraceslab/koota/internal/clock"
	groupdomain "github.com/digitraceslab/koota/internal/group/domain"
	"github.com/digitraceslab/koota/internal/group/repository"
	"github.com/digitraceslab/koota/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (groupdomain.Service, *clock.FakeClock) {
	t.Helper()

	conn := dbtest.Open(t, &groupdomain.StudyGroup{}, &groupdomain.Subject{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))
	return New(Params{DB: conn, Log: zap.NewNop(), Clock: clk, GenID: node, Repo: repository.Provide()}), clk
}

func TestCreateDerivesSlugAndSalt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	g, err := svc.Create(ctx, groupdomain.CreateRequest{Name: "Sleep Study 2024"})
	require.NoError(t, err)
	assert.Equal(t, "sleep-study-2024", g.Slug)
	assert.Len(t, g.Salt, 32)

	other, err := svc.Create(ctx, groupdomain.CreateRequest{Name: "Another"})
	require.NoError(t, err)
	assert.NotEqual(t, g.Salt, other.Salt)

	_, err = svc.Create(ctx, groupdomain.CreateRequest{Name: "Sleep study 2024"})
	assert.ErrorIs(t, err, groupdomain.ErrSlugTaken)

	_, err = svc.Create(ctx, groupdomain.CreateRequest{Name: "  "})
	assert.ErrorIs(t, err, groupdomain.ErrInvalidName)
}

func TestJoinLeaveAndActiveGroups(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	end := clk.Now().Add(48 * time.Hour)
	high, err := svc.Create(ctx, groupdomain.CreateRequest{Name: "High", Priority: 10, TsEnd: &end})
	require.NoError(t, err)
	low, err := svc.Create(ctx, groupdomain.CreateRequest{Name: "Low", Priority: 1, InviteCode: "secret"})
	require.NoError(t, err)

	require.NoError(t, svc.Join(ctx, high.Slug, "alice", ""))
	assert.ErrorIs(t, svc.Join(ctx, low.Slug, "alice", "wrong"), groupdomain.ErrInvalidInvite)
	joined, err := svc.JoinByInvite(ctx, "secret", "alice")
	require.NoError(t, err)
	assert.Equal(t, low.Slug, joined.Slug)
	assert.ErrorIs(t, svc.Join(ctx, high.Slug, "alice", ""), groupdomain.ErrAlreadyMember)

	groups, err := svc.ActiveGroups(ctx, "alice", clk.Now())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "low", groups[0].Slug)
	assert.Equal(t, "high", groups[1].Slug)

	groups, err = svc.ActiveGroups(ctx, "alice", clk.Now().Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, groups, 1)

	require.NoError(t, svc.Leave(ctx, low.Slug, "alice"))
	assert.ErrorIs(t, svc.Leave(ctx, low.Slug, "alice"), groupdomain.ErrNotMember)

	ok, err := svc.IsSubject(ctx, low.Slug, "alice", clk.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.IsSubject(ctx, high.Slug, "alice", clk.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.Join(ctx, low.Slug, "alice", "secret"))
}
