package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/digitraceslab/koota/internal/clock"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	groupdomain "github.com/digitraceslab/koota/internal/group/domain"
	grouprepo "github.com/digitraceslab/koota/internal/group/repository"
	groupservice "github.com/digitraceslab/koota/internal/group/service"
	"github.com/digitraceslab/koota/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (Service, groupdomain.Service, *clock.FakeClock) {
	t.Helper()
	conn := dbtest.Open(t, &groupdomain.StudyGroup{}, &groupdomain.Subject{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	groups := groupservice.New(groupservice.Params{DB: conn, Log: zap.NewNop(), Clock: clk, GenID: node, Repo: grouprepo.Provide()})

	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Clock: clk, Enforcer: enforcer, Groups: groups}), groups, clk
}

func TestOwnerCanRead(t *testing.T) {
	svc, _, _ := newTestService(t)
	d := &devicedomain.Device{ID: "x", Owner: "alice"}

	assert.NoError(t, svc.CanReadDevice(context.Background(), "alice", d, ""))
	assert.ErrorIs(t, svc.CanReadDevice(context.Background(), "", d, ""), adapter.ErrLoginRequired)
	assert.ErrorIs(t, svc.CanReadDevice(context.Background(), "bob", d, ""), adapter.ErrNoDevicePermission)
}

func TestResearcherReadsSubjectsOfGrantedGroup(t *testing.T) {
	svc, groups, clk := newTestService(t)
	ctx := context.Background()

	study, err := groups.Create(ctx, groupdomain.CreateRequest{Name: "Sleep"})
	require.NoError(t, err)
	other, err := groups.Create(ctx, groupdomain.CreateRequest{Name: "Other"})
	require.NoError(t, err)
	require.NoError(t, groups.Join(ctx, study.Slug, "alice", ""))
	d := &devicedomain.Device{ID: "x", Owner: "alice"}

	assert.ErrorIs(t, svc.CanReadDevice(ctx, "bob", d, study.Slug), adapter.ErrNoGroupPermission)

	require.NoError(t, svc.Grant(ctx, "bob", study.Slug, RoleResearcher))
	assert.NoError(t, svc.CanReadDevice(ctx, "bob", d, study.Slug))
	assert.NoError(t, svc.CanReadDevice(ctx, "bob", d, ""))

	// alice is not a subject of the other group
	require.NoError(t, svc.Grant(ctx, "carol", other.Slug, RoleAdmin))
	assert.ErrorIs(t, svc.CanReadDevice(ctx, "carol", d, other.Slug), adapter.ErrNoGroupPermission)
	assert.ErrorIs(t, svc.CanReadDevice(ctx, "carol", d, ""), adapter.ErrNoDevicePermission)

	require.NoError(t, groups.Leave(ctx, study.Slug, "alice"))
	clk.Advance(time.Minute)
	assert.ErrorIs(t, svc.CanReadDevice(ctx, "bob", d, study.Slug), adapter.ErrNoGroupPermission)

	require.NoError(t, svc.Revoke(ctx, "bob", study.Slug, RoleResearcher))
	assert.ErrorIs(t, svc.Authorize(ctx, "bob", study.Slug, ObjectData, ActionDataRead), ErrForbidden)
}

func TestGrantValidation(t *testing.T) {
	svc, groups, _ := newTestService(t)
	ctx := context.Background()
	g, err := groups.Create(ctx, groupdomain.CreateRequest{Name: "Sleep"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Grant(ctx, "", g.Slug, RoleResearcher), ErrInvalidActor)
	assert.ErrorIs(t, svc.Grant(ctx, "bob", g.Slug, "owner"), ErrInvalidRole)
	assert.ErrorIs(t, svc.Grant(ctx, "bob", "missing", RoleResearcher), groupdomain.ErrNotFound)

	require.NoError(t, svc.Grant(ctx, "bob", g.Slug, RoleAdmin))
	require.NoError(t, svc.Grant(ctx, "bob", g.Slug, RoleAdmin))
	assert.NoError(t, svc.Authorize(ctx, "bob", g.Slug, ObjectGroup, ActionGroupManage))
	assert.ErrorIs(t, svc.Authorize(ctx, "bob", "elsewhere", ObjectGroup, ActionGroupManage), ErrForbidden)
}
