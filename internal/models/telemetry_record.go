package models

import (
	"fmt"
	"time"
)

// Telemetry categories accepted from devices.
var TelemetryCategories = map[string]bool{
	"fuel_level":         true,
	"speed":              true,
	"rpm":                true,
	"engine_temperature": true,
	"tire_pressure":      true,
	"odometer":           true,
	"battery_voltage":    true,
	"temperature":        true,
	"door_status":        true,
	"ignition":           true,
	"harsh_braking":      true,
	"harsh_acceleration": true,
	"idle_time":          true,
	"diagnostic_code":    true,
}

const (
	TelemetrySeverityWarning  = "warning"
	TelemetrySeverityCritical = "critical"
)

// TelemetryRecord is a named sensor reading distinct from position. Either
// ValueNum or ValueText is set depending on the category. Retained for the
// telemetry retention window, expired by server_ts.
type TelemetryRecord struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	TenantID  string `gorm:"index;size:64" json:"tenant_id"`
	VehicleID string `gorm:"index;size:64" json:"vehicle_id"`

	Category  string   `gorm:"size:32" json:"category"`
	ValueNum  *float64 `json:"value_num,omitempty"`
	ValueText string   `gorm:"size:64" json:"value_text,omitempty"`
	Unit      string   `gorm:"size:16" json:"unit,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	Alert         bool   `json:"alert"`
	AlertSeverity string `gorm:"size:16" json:"alert_severity,omitempty"`
	AlertMessage  string `gorm:"size:255" json:"alert_message,omitempty"`

	DeviceTs time.Time `json:"device_ts"`
	ServerTs time.Time `gorm:"index" json:"server_ts"`
}

// Validate enforces the category and severity enums before persistence.
func (t *TelemetryRecord) Validate() error {
	if !TelemetryCategories[t.Category] {
		return fmt.Errorf("unknown telemetry category %q", t.Category)
	}
	if t.Alert {
		switch t.AlertSeverity {
		case TelemetrySeverityWarning, TelemetrySeverityCritical:
		default:
			return fmt.Errorf("unknown alert severity %q", t.AlertSeverity)
		}
	}
	return nil
}
