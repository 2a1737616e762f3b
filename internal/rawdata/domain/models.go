package domain

import "time"

// Packet is one stored payload. Payloads are opaque; Codec records a
// transparent storage encoding.
type Packet struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false"`
	DeviceID   string    `gorm:"column:device_id;type:varchar(64);not null;index:idx_raw_packets_device_received,priority:1;index:idx_raw_packets_device_data,priority:1"`
	ReceivedAt time.Time `gorm:"column:received_at;not null;index:idx_raw_packets_device_received,priority:2"`
	DataAt     time.Time `gorm:"column:data_at;not null;index:idx_raw_packets_device_data,priority:2"`
	IP         string    `gorm:"column:ip;type:varchar(64)"`
	Length     int       `gorm:"not null"`
	Codec      string    `gorm:"type:varchar(16)"`
	Data       []byte    `gorm:"not null"`
}

func (Packet) TableName() string { return "raw_packets" }

// Attribute is one entry of a device's attribute bag.
type Attribute struct {
	DeviceID  string    `gorm:"primaryKey;column:device_id;type:varchar(64)"`
	Name      string    `gorm:"primaryKey;type:varchar(128)"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Attribute) TableName() string { return "device_attributes" }

// Record is a decoded packet as seen by readers.
type Record struct {
	ID         int64
	DeviceID   string
	ReceivedAt time.Time
	DataAt     time.Time
	Payload    []byte
}

// AttrLastTS names the attribute holding the newest row timestamp of a table.
func AttrLastTS(table string) string { return "last-ts-" + table }
