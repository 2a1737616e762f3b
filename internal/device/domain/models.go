package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Device is a data source owned by a subject. ID is the secret id; the
// public id is its first six hex digits.
type Device struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)"`
	PublicID    string         `gorm:"column:public_id;type:varchar(16);not null;uniqueIndex"`
	Type        string         `gorm:"type:varchar(128);not null"`
	Owner       string         `gorm:"type:varchar(150);not null;index"`
	Label       string         `gorm:"type:varchar(64)"`
	Comment     string         `gorm:"type:text"`
	Config      datatypes.JSON `gorm:"type:text"`
	Archived    bool           `gorm:"not null;default:false"`
	FirstDataAt *time.Time     `gorm:"column:first_data_at"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

func (Device) TableName() string { return "devices" }

// HasData reports whether a packet was ever stored for the device.
func (d *Device) HasData() bool { return d.FirstDataAt != nil }

// OAuth link states.
const (
	StateUnlinked  = "unlinked"
	StateRequested = "requested"
	StateLinked    = "linked"
	StateExpired   = "expired"
	StateInvalid   = "invalid"
)

// OAuthDevice holds the token state of a device whose data is fetched from a
// remote service.
type OAuthDevice struct {
	DeviceID       string     `gorm:"primaryKey;column:device_id;type:varchar(64)"`
	State          string     `gorm:"type:varchar(16);not null;default:'unlinked';index"`
	RequestKey     string     `gorm:"column:request_key;type:varchar(256);index"`
	RequestSecret  string     `gorm:"column:request_secret;type:text"`
	ResourceKey    string     `gorm:"column:resource_key;type:text"`
	ResourceSecret string     `gorm:"column:resource_secret;type:text"`
	RefreshToken   string     `gorm:"column:refresh_token;type:text"`
	TsLinked       *time.Time `gorm:"column:ts_linked"`
	TsLastFetch    *time.Time `gorm:"column:ts_last_fetch"`
	TsRefresh      *time.Time `gorm:"column:ts_refresh"`
	Error          string     `gorm:"type:text"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

func (OAuthDevice) TableName() string { return "oauth_devices" }

// NeedsRefresh reports whether the access token expires within window of now.
func (o *OAuthDevice) NeedsRefresh(now time.Time, window time.Duration) bool {
	if o.TsRefresh == nil {
		return false
	}
	return !now.Add(window).Before(*o.TsRefresh)
}
