package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/digitraceslab/koota/internal/clock"
	groupdomain "github.com/digitraceslab/koota/internal/group/domain"
	"github.com/digitraceslab/koota/pkg/db"
	"github.com/goccy/go-json"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const saltBytes = 16

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	GenID *snowflake.Node
	Repo  groupdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	genID *snowflake.Node
	repo  groupdomain.Repository
}

func New(p Params) groupdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("group.service"),
		clock: p.Clock,
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req groupdomain.CreateRequest) (*groupdomain.StudyGroup, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, groupdomain.ErrInvalidName
	}
	groupSlug := slug.Make(strings.TrimSpace(req.Slug))
	if groupSlug == "" {
		groupSlug = slug.Make(name)
	}
	if groupSlug == "" {
		return nil, groupdomain.ErrInvalidName
	}

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	var config datatypes.JSON
	if len(req.Config) > 0 {
		raw, err := json.Marshal(req.Config)
		if err != nil {
			return nil, fmt.Errorf("encode group config: %w", err)
		}
		config = raw
	}

	now := s.clock.Now().UTC()
	g := &groupdomain.StudyGroup{
		ID:           s.genID.Generate(),
		Slug:         groupSlug,
		Name:         name,
		Salt:         salt,
		Priority:     req.Priority,
		InviteCode:   strings.TrimSpace(req.InviteCode),
		Config:       config,
		TsStart:      req.TsStart,
		TsEnd:        req.TsEnd,
		Nonanonymous: req.Nonanonymous,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, s.db, g); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, groupdomain.ErrSlugTaken
		}
		return nil, err
	}
	s.log.Info("study group created", zap.String("group", g.Slug), zap.Int("priority", g.Priority))
	return g, nil
}

func (s *Service) Get(ctx context.Context, groupSlug string) (*groupdomain.StudyGroup, error) {
	g, err := s.repo.FindBySlug(ctx, s.db, groupSlug)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, groupdomain.ErrNotFound
	}
	return g, nil
}

func (s *Service) Join(ctx context.Context, groupSlug, user, inviteCode string) error {
	g, err := s.Get(ctx, groupSlug)
	if err != nil {
		return err
	}
	if g.InviteCode != "" && inviteCode != g.InviteCode {
		return groupdomain.ErrInvalidInvite
	}
	return s.join(ctx, g, user)
}

func (s *Service) JoinByInvite(ctx context.Context, inviteCode, user string) (*groupdomain.StudyGroup, error) {
	inviteCode = strings.TrimSpace(inviteCode)
	if inviteCode == "" {
		return nil, groupdomain.ErrInvalidInvite
	}
	g, err := s.repo.FindByInvite(ctx, s.db, inviteCode)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, groupdomain.ErrInvalidInvite
	}
	if err := s.join(ctx, g, user); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) join(ctx context.Context, g *groupdomain.StudyGroup, user string) error {
	if g.Locked {
		return groupdomain.ErrLocked
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.ActiveSubject(ctx, tx, g.ID, user)
		if err != nil {
			return err
		}
		if existing != nil {
			return groupdomain.ErrAlreadyMember
		}
		return s.repo.InsertSubject(ctx, tx, &groupdomain.Subject{
			ID:      s.genID.Generate(),
			GroupID: g.ID,
			User:    user,
			Active:  true,
			TsStart: s.clock.Now().UTC(),
		})
	})
}

func (s *Service) Leave(ctx context.Context, groupSlug, user string) error {
	g, err := s.Get(ctx, groupSlug)
	if err != nil {
		return err
	}
	if g.Locked {
		return groupdomain.ErrLocked
	}
	sub, err := s.repo.ActiveSubject(ctx, s.db, g.ID, user)
	if err != nil {
		return err
	}
	if sub == nil {
		return groupdomain.ErrNotMember
	}
	return s.repo.CloseSubject(ctx, s.db, sub.ID, s.clock.Now().UTC())
}

func (s *Service) ActiveGroups(ctx context.Context, user string, t time.Time) ([]groupdomain.StudyGroup, error) {
	items, err := s.repo.GroupsOfUser(ctx, s.db, user)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, g := range items {
		if g.ActiveAt(t) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Service) IsSubject(ctx context.Context, groupSlug, user string, t time.Time) (bool, error) {
	groups, err := s.ActiveGroups(ctx, user, t)
	if err != nil {
		return false, err
	}
	for _, g := range groups {
		if g.Slug == groupSlug {
			return true, nil
		}
	}
	return false, nil
}

func newSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
