package model

import "time"

// Status values mirrored into the store for a device.
const (
	StatusOn  = "ON"
	StatusOff = "OFF"
)

// Bin is the durable document for one monitored bin, addressed by Location/DeviceID.
// The liveness tracker only ever writes the status columns; the rest belongs to
// the sensor ingestion path and the admin tools.
type Bin struct {
	ID                   int64    `gorm:"primaryKey"`
	Location             string   `gorm:"size:128;not null;uniqueIndex:idx_bins_location_device"`
	DeviceID             string   `gorm:"size:128;not null;uniqueIndex:idx_bins_location_device"`
	BinType              string   `gorm:"size:64"`
	Distance             *float64 // latest ultrasonic reading, cm
	FillLevel            *int     // percent
	MicroProcessorStatus string   `gorm:"size:8"`
	SensorStatus         string   `gorm:"size:8"`
	LastUpdated          string   `gorm:"size:64"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
