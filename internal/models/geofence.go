package models

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

const (
	GeofenceCircle  = "circle"
	GeofencePolygon = "polygon"
)

// Geofence is a tenant-scoped circle or polygon region. Soft-deleted via
// gorm.Model's DeletedAt so the spatial index drops it on the next reload.
type Geofence struct {
	gorm.Model
	TenantID string `gorm:"index;size:64" json:"tenant_id"`
	Name     string `json:"name" binding:"required"`
	Kind     string `gorm:"size:8" json:"kind"`

	// Circle geometry.
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
	RadiusM   float64 `json:"radius_m"`

	// Polygon geometry: JSON array of [lng, lat] vertex pairs, closed or
	// implicitly closed.
	Vertices []byte `gorm:"type:jsonb" json:"-"`

	AlertOnEntry bool `json:"alert_on_entry"`
	AlertOnExit  bool `json:"alert_on_exit"`
	Active       bool `gorm:"default:true" json:"active"`
}

// VertexList decodes the stored polygon ring.
func (g *Geofence) VertexList() ([][2]float64, error) {
	if len(g.Vertices) == 0 {
		return nil, nil
	}
	var ring [][2]float64
	if err := json.Unmarshal(g.Vertices, &ring); err != nil {
		return nil, fmt.Errorf("geofence %d: bad vertex list: %w", g.ID, err)
	}
	return ring, nil
}

// SetVertexList encodes a polygon ring for storage.
func (g *Geofence) SetVertexList(ring [][2]float64) error {
	raw, err := json.Marshal(ring)
	if err != nil {
		return err
	}
	g.Vertices = raw
	return nil
}
