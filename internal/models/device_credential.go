package models

import (
	"gorm.io/gorm"
)

// DeviceCredential binds a tracking device to a (tenant, vehicle, driver)
// identity. The device authenticates with its secret to mint a producer
// token; only the bcrypt hash of the secret is stored.
type DeviceCredential struct {
	gorm.Model
	TenantID   string `gorm:"index;size:64" json:"tenant_id"`
	VehicleID  string `gorm:"uniqueIndex;size:64" json:"vehicle_id"`
	DriverID   string `gorm:"size:64" json:"driver_id,omitempty"`
	SecretHash string `json:"-"`
	Disabled   bool   `gorm:"default:false" json:"disabled"`
}
