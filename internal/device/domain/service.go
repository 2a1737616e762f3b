package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, d *Device) error
	Exists(ctx context.Context, db *gorm.DB, id string) (bool, error)
	// Taken reports whether id or its public id is held by any device.
	Taken(ctx context.Context, db *gorm.DB, id, publicID string) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Device, error)
	FindByPublicID(ctx context.Context, db *gorm.DB, publicID string) (*Device, error)
	ListByOwner(ctx context.Context, db *gorm.DB, owner string) ([]Device, error)
	Update(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error
	MarkFirstData(ctx context.Context, db *gorm.DB, id string, at time.Time) error

	FindOAuth(ctx context.Context, db *gorm.DB, deviceID string) (*OAuthDevice, error)
	FindOAuthByRequestKey(ctx context.Context, db *gorm.DB, key string) (*OAuthDevice, error)
	SaveOAuth(ctx context.Context, db *gorm.DB, o *OAuthDevice) error
	ListOAuthByState(ctx context.Context, db *gorm.DB, types []string, state string) ([]OAuthDevice, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Device, error)
	Get(ctx context.Context, id string) (*Device, error)
	GetByPublicID(ctx context.Context, publicID string) (*Device, error)
	ListByOwner(ctx context.Context, owner string) ([]Device, error)
	ChangeType(ctx context.Context, id, deviceType string) error
	SetOverlay(ctx context.Context, id string, overlay map[string]any) error
	Archive(ctx context.Context, id string) error
	MarkData(ctx context.Context, id string, at time.Time) error

	OAuth(ctx context.Context, id string) (*OAuthDevice, error)
	OAuthByRequestKey(ctx context.Context, key string) (*OAuthDevice, error)
	SaveOAuth(ctx context.Context, o *OAuthDevice) error
	LinkedOAuth(ctx context.Context, types []string) ([]OAuthDevice, error)
}

// CreateRequest is handed to the adapter create hook before insertion. A hook
// may set ID, Label or Config; an empty ID is filled with a fresh id.
type CreateRequest struct {
	ID      string         `json:"-"`
	Type    string         `json:"type"`
	Owner   string         `json:"-"`
	Label   string         `json:"label"`
	Comment string         `json:"comment"`
	Config  map[string]any `json:"config"`
}

// Response is the public view of a device; it never carries the secret id.
type Response struct {
	PublicID  string     `json:"public_id"`
	Type      string     `json:"type"`
	Label     string     `json:"label"`
	Archived  bool       `json:"archived"`
	HasData   bool       `json:"has_data"`
	CreatedAt time.Time  `json:"created_at"`
	FirstData *time.Time `json:"first_data_at,omitempty"`
}

func ToResponse(d *Device) Response {
	return Response{
		PublicID:  d.PublicID,
		Type:      d.Type,
		Label:     d.Label,
		Archived:  d.Archived,
		HasData:   d.HasData(),
		CreatedAt: d.CreatedAt,
		FirstData: d.FirstDataAt,
	}
}

var (
	ErrInvalidDeviceID = errors.New("invalid_device_id")
	ErrInvalidType     = errors.New("invalid_device_type")
	ErrInvalidOwner    = errors.New("invalid_owner")
	ErrNotFound        = errors.New("device_not_found")
	ErrTypeLocked      = errors.New("device_type_locked")
	ErrAmbiguous       = errors.New("device_public_id_ambiguous")
	ErrIDTaken         = errors.New("device_id_taken")
)
