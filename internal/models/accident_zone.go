package models

import "time"

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Warning radii derived from severity when a zone carries no explicit
// radius_m of its own.
var SeverityRadiusM = map[string]float64{
	SeverityLow:    100,
	SeverityMedium: 250,
	SeverityHigh:   500,
}

// AccidentZone is a global (not tenant-scoped) accident-prone point. The
// catalog is batch-replaced by an administrator and immutable in between.
type AccidentZone struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Severity      string    `gorm:"size:8" json:"severity"`
	AccidentCount int       `json:"accident_count"`
	RadiusM       float64   `json:"radius_m,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// WarningRadiusM prefers the per-zone radius when present, else the
// severity-derived default.
func (z *AccidentZone) WarningRadiusM() float64 {
	if z.RadiusM > 0 {
		return z.RadiusM
	}
	if r, ok := SeverityRadiusM[z.Severity]; ok {
		return r
	}
	return SeverityRadiusM[SeverityLow]
}
