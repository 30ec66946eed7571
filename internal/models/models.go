package models

import (
	"time"

	"gorm.io/gorm"
)

// Instance is a registered publisher, identified by its normalized public key.
type Instance struct {
	gorm.Model
	PublicKey string `gorm:"uniqueIndex"`
	Name      string
	Metadata  string // last instance-metadata payload, raw JSON
	LastSeen  *time.Time
}

// UsageReport is one api_usage_map report stored by the hub.
type UsageReport struct {
	gorm.Model
	InstanceID uint   `gorm:"index"`
	Usage      string // UsageStatsTable JSON
	FromTs     string
	ToTs       string
}
