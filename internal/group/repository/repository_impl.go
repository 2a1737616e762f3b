package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	groupdomain "github.com/digitraceslab/koota/internal/group/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() groupdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, g *groupdomain.StudyGroup) error {
	return db.WithContext(ctx).Create(g).Error
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*groupdomain.StudyGroup, error) {
	return first(db.WithContext(ctx).Where("slug = ?", slug))
}

func (r *repo) FindByInvite(ctx context.Context, db *gorm.DB, code string) (*groupdomain.StudyGroup, error) {
	return first(db.WithContext(ctx).Where("invite_code = ?", code))
}

func (r *repo) InsertSubject(ctx context.Context, db *gorm.DB, s *groupdomain.Subject) error {
	return db.WithContext(ctx).Create(s).Error
}

func (r *repo) ActiveSubject(ctx context.Context, db *gorm.DB, groupID snowflake.ID, user string) (*groupdomain.Subject, error) {
	var s groupdomain.Subject
	err := db.WithContext(ctx).
		Where("group_id = ? AND user_name = ? AND active = ?", groupID, user, true).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repo) CloseSubject(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&groupdomain.Subject{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": false, "ts_end": at}).Error
}

func (r *repo) GroupsOfUser(ctx context.Context, db *gorm.DB, user string) ([]groupdomain.StudyGroup, error) {
	var items []groupdomain.StudyGroup
	err := db.WithContext(ctx).
		Model(&groupdomain.StudyGroup{}).
		Joins("JOIN group_subjects ON group_subjects.group_id = study_groups.id").
		Where("group_subjects.user_name = ? AND group_subjects.active = ?", user, true).
		Order("study_groups.priority ASC").
		Order("study_groups.slug ASC").
		Find(&items).Error
	return items, err
}

func first(q *gorm.DB) (*groupdomain.StudyGroup, error) {
	var g groupdomain.StudyGroup
	err := q.First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}
