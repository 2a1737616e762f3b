package repository

import (
	"context"
	"errors"
	"time"

	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() devicedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, d *devicedomain.Device) error {
	return db.WithContext(ctx).Create(d).Error
}

func (r *repo) Exists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&devicedomain.Device{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *repo) Taken(ctx context.Context, db *gorm.DB, id, publicID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&devicedomain.Device{}).
		Where("id = ? OR public_id = ?", id, publicID).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*devicedomain.Device, error) {
	var d devicedomain.Device
	err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repo) FindByPublicID(ctx context.Context, db *gorm.DB, publicID string) (*devicedomain.Device, error) {
	var items []devicedomain.Device
	err := db.WithContext(ctx).Where("public_id = ?", publicID).Limit(2).Find(&items).Error
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		return nil, nil
	case 1:
		return &items[0], nil
	default:
		return nil, devicedomain.ErrAmbiguous
	}
}

func (r *repo) ListByOwner(ctx context.Context, db *gorm.DB, owner string) ([]devicedomain.Device, error) {
	var items []devicedomain.Device
	err := db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&devicedomain.Device{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return devicedomain.ErrNotFound
	}
	return nil
}

func (r *repo) MarkFirstData(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&devicedomain.Device{}).
		Where("id = ? AND first_data_at IS NULL", id).
		Update("first_data_at", at).Error
}

func (r *repo) FindOAuth(ctx context.Context, db *gorm.DB, deviceID string) (*devicedomain.OAuthDevice, error) {
	var o devicedomain.OAuthDevice
	err := db.WithContext(ctx).Where("device_id = ?", deviceID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repo) FindOAuthByRequestKey(ctx context.Context, db *gorm.DB, key string) (*devicedomain.OAuthDevice, error) {
	var o devicedomain.OAuthDevice
	err := db.WithContext(ctx).
		Where("request_key = ? AND state = ?", key, devicedomain.StateRequested).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repo) SaveOAuth(ctx context.Context, db *gorm.DB, o *devicedomain.OAuthDevice) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		UpdateAll: true,
	}).Create(o).Error
}

func (r *repo) ListOAuthByState(ctx context.Context, db *gorm.DB, types []string, state string) ([]devicedomain.OAuthDevice, error) {
	var items []devicedomain.OAuthDevice
	q := db.WithContext(ctx).
		Model(&devicedomain.OAuthDevice{}).
		Joins("JOIN devices ON devices.id = oauth_devices.device_id").
		Where("oauth_devices.state = ? AND devices.archived = ?", state, false)
	if len(types) > 0 {
		q = q.Where("devices.type IN ?", types)
	}
	err := q.Order("oauth_devices.device_id ASC").Find(&items).Error
	return items, err
}
