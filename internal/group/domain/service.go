package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, g *StudyGroup) error
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*StudyGroup, error)
	FindByInvite(ctx context.Context, db *gorm.DB, code string) (*StudyGroup, error)
	InsertSubject(ctx context.Context, db *gorm.DB, s *Subject) error
	ActiveSubject(ctx context.Context, db *gorm.DB, groupID snowflake.ID, user string) (*Subject, error)
	CloseSubject(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	GroupsOfUser(ctx context.Context, db *gorm.DB, user string) ([]StudyGroup, error)
}

type CreateRequest struct {
	Name         string         `json:"name"`
	Slug         string         `json:"slug"`
	Priority     int            `json:"priority"`
	InviteCode   string         `json:"invite_code"`
	Config       map[string]any `json:"config"`
	TsStart      *time.Time     `json:"ts_start"`
	TsEnd        *time.Time     `json:"ts_end"`
	Nonanonymous bool           `json:"nonanonymous"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*StudyGroup, error)
	Get(ctx context.Context, slug string) (*StudyGroup, error)
	Join(ctx context.Context, slug, user, inviteCode string) error
	JoinByInvite(ctx context.Context, inviteCode, user string) (*StudyGroup, error)
	Leave(ctx context.Context, slug, user string) error
	// ActiveGroups returns the groups user is an active subject of at t,
	// ordered by ascending priority then slug.
	ActiveGroups(ctx context.Context, user string, t time.Time) ([]StudyGroup, error)
	IsSubject(ctx context.Context, slug, user string, t time.Time) (bool, error)
}

var (
	ErrInvalidName   = errors.New("invalid_group_name")
	ErrNotFound      = errors.New("group_not_found")
	ErrLocked        = errors.New("group_locked")
	ErrInvalidInvite = errors.New("invalid_invite_code")
	ErrAlreadyMember = errors.New("already_member")
	ErrNotMember     = errors.New("not_member")
	ErrSlugTaken     = errors.New("group_slug_taken")
)
