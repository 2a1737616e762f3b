package authorization

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/digitraceslab/koota/internal/clock"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	groupdomain "github.com/digitraceslab/koota/internal/group/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Enforcer *casbin.SyncedEnforcer
	Groups   groupdomain.Service
}

type ServiceImpl struct {
	log      *zap.Logger
	clock    clock.Clock
	enforcer *casbin.SyncedEnforcer
	groups   groupdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		clock:    p.Clock,
		enforcer: p.Enforcer,
		groups:   p.Groups,
	}
}

func subjectOf(user string) string { return "user:" + user }
func domainOf(slug string) string  { return "group:" + slug }
func roleName(role string) string  { return "role:" + strings.ToLower(role) }

func (s *ServiceImpl) Grant(ctx context.Context, user, groupSlug, role string) error {
	sub, dom, r, err := grantArgs(user, groupSlug, role)
	if err != nil {
		return err
	}
	if _, err := s.groups.Get(ctx, groupSlug); err != nil {
		return err
	}
	has, err := s.enforcer.HasGroupingPolicy(sub, r, dom)
	if err != nil || has {
		return err
	}
	if _, err := s.enforcer.AddGroupingPolicy(sub, r, dom); err != nil {
		return err
	}
	s.log.Info("role granted", zap.String("user", user), zap.String("group", groupSlug), zap.String("role", role))
	return nil
}

func (s *ServiceImpl) Revoke(ctx context.Context, user, groupSlug, role string) error {
	sub, dom, r, err := grantArgs(user, groupSlug, role)
	if err != nil {
		return err
	}
	if _, err := s.enforcer.RemoveGroupingPolicy(sub, r, dom); err != nil {
		return err
	}
	s.log.Info("role revoked", zap.String("user", user), zap.String("group", groupSlug), zap.String("role", role))
	return nil
}

func grantArgs(user, groupSlug, role string) (string, string, string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", "", "", ErrInvalidActor
	}
	groupSlug = strings.TrimSpace(groupSlug)
	if groupSlug == "" {
		return "", "", "", ErrInvalidGroup
	}
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleResearcher, RoleAdmin:
	default:
		return "", "", "", ErrInvalidRole
	}
	return subjectOf(user), domainOf(groupSlug), roleName(role), nil
}

func (s *ServiceImpl) Authorize(ctx context.Context, user, groupSlug, object, action string) error {
	user = strings.TrimSpace(user)
	if user == "" {
		return ErrInvalidActor
	}
	groupSlug = strings.TrimSpace(groupSlug)
	if groupSlug == "" {
		return ErrInvalidGroup
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subjectOf(user), domainOf(groupSlug), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("user", user),
			zap.String("group", groupSlug),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) CanReadDevice(ctx context.Context, user string, d *devicedomain.Device, groupSlug string) error {
	user = strings.TrimSpace(user)
	if user == "" {
		return adapter.ErrLoginRequired
	}
	if groupSlug == "" && user == d.Owner {
		return nil
	}

	now := s.clock.Now()
	if groupSlug != "" {
		subject, err := s.groups.IsSubject(ctx, groupSlug, d.Owner, now)
		if errors.Is(err, groupdomain.ErrNotFound) {
			return adapter.ErrNoGroupPermission
		}
		if err != nil {
			return err
		}
		if !subject {
			return adapter.ErrNoGroupPermission
		}
		return s.readInGroup(ctx, user, groupSlug)
	}

	groups, err := s.groups.ActiveGroups(ctx, d.Owner, now)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := s.readInGroup(ctx, user, g.Slug); err == nil {
			return nil
		} else if !errors.Is(err, adapter.ErrNoGroupPermission) {
			return err
		}
	}
	return adapter.ErrNoDevicePermission
}

func (s *ServiceImpl) readInGroup(ctx context.Context, user, slug string) error {
	err := s.Authorize(ctx, user, slug, ObjectData, ActionDataRead)
	if errors.Is(err, ErrForbidden) {
		return adapter.ErrNoGroupPermission
	}
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{roleName(RoleResearcher), "*", ObjectData, ActionDataRead},

		{roleName(RoleAdmin), "*", ObjectData, ActionDataRead},
		{roleName(RoleAdmin), "*", ObjectGroup, ActionGroupManage},
	}
	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
