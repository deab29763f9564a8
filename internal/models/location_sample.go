package models

import (
	"time"
)

// Ignition states reported by devices.
const (
	IgnitionOn      = "on"
	IgnitionOff     = "off"
	IgnitionUnknown = "unknown"
)

// LocationSample is one GPS reading from a vehicle. Identity for
// deduplication purposes is (vehicle_id, device_ts); rows are append-only
// and expired by server_ts after the sample retention window.
type LocationSample struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	TenantID   string `gorm:"index;size:64" json:"tenant_id"`
	VehicleID  string `gorm:"index:idx_samples_vehicle_server,priority:1;size:64" json:"vehicle_id"`
	DriverID   string `gorm:"size:64" json:"driver_id,omitempty"`
	ShipmentID string `gorm:"index;size:64" json:"shipment_id,omitempty"`

	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	SpeedKmh   float64  `json:"speed_kmh"`
	HeadingDeg float64  `json:"heading_deg"`
	AccuracyM  float64  `json:"accuracy_m"`
	AltitudeM  *float64 `json:"altitude_m,omitempty"`
	BatteryPct *float64 `json:"battery_pct,omitempty"`
	Ignition   string   `gorm:"size:8;default:unknown" json:"ignition"`

	DeviceTs time.Time `json:"device_ts"`
	ServerTs time.Time `gorm:"index;index:idx_samples_vehicle_server,priority:2" json:"server_ts"`
}
