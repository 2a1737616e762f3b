package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// StudyGroup is a cohort of subjects sharing a configuration overlay and a
// hashing salt.
type StudyGroup struct {
	ID           snowflake.ID   `gorm:"primaryKey"`
	Slug         string         `gorm:"type:varchar(64);not null;uniqueIndex"`
	Name         string         `gorm:"type:varchar(128);not null"`
	Salt         string         `gorm:"type:varchar(64);not null"`
	Priority     int            `gorm:"not null;default:0"`
	InviteCode   string         `gorm:"column:invite_code;type:varchar(64)"`
	Config       datatypes.JSON `gorm:"type:text"`
	TsStart      *time.Time     `gorm:"column:ts_start"`
	TsEnd        *time.Time     `gorm:"column:ts_end"`
	Nonanonymous bool           `gorm:"not null;default:false"`
	Locked       bool           `gorm:"not null;default:false"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time      `gorm:"not null"`
}

func (StudyGroup) TableName() string { return "study_groups" }

// ActiveAt reports whether t falls in the group's active window.
func (g *StudyGroup) ActiveAt(t time.Time) bool {
	if g.TsStart != nil && t.Before(*g.TsStart) {
		return false
	}
	if g.TsEnd != nil && !t.Before(*g.TsEnd) {
		return false
	}
	return true
}

// Subject records one membership period of a user in a group.
type Subject struct {
	ID      snowflake.ID `gorm:"primaryKey"`
	GroupID snowflake.ID `gorm:"column:group_id;not null;index:idx_group_subjects_user,priority:2"`
	User    string       `gorm:"column:user_name;type:varchar(150);not null;index:idx_group_subjects_user,priority:1"`
	Active  bool         `gorm:"not null;default:true"`
	TsStart time.Time    `gorm:"column:ts_start;not null"`
	TsEnd   *time.Time   `gorm:"column:ts_end"`
}

func (Subject) TableName() string { return "group_subjects" }
