package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Bins []BinSubscription `gorm:"foreignKey:Endpoint;references:Endpoint"`
}

// BinSubscription maps a push subscription to one bin by its <location>/<deviceId>
// path, so alerts work whichever backend holds the bin documents.
type BinSubscription struct {
	Endpoint string `gorm:"primaryKey"`
	BinPath  string `gorm:"primaryKey;size:257;index"`
}
