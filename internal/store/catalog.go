package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"fleettrack/internal/models"
)

// GormCatalog feeds the spatial index from the operator-managed geofence
// and accident-zone tables. Soft-deleted geofences fall out automatically
// through GORM's deleted_at filter.
type GormCatalog struct {
	db *gorm.DB
}

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

func (c *GormCatalog) ActiveGeofences(ctx context.Context) ([]models.Geofence, error) {
	var out []models.Geofence
	err := c.db.WithContext(ctx).Where("active = ?", true).Find(&out).Error
	return out, err
}

func (c *GormCatalog) ActiveGeofencesForTenant(ctx context.Context, tenantID string) ([]models.Geofence, error) {
	var out []models.Geofence
	err := c.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Find(&out).Error
	return out, err
}

func (c *GormCatalog) AccidentZones(ctx context.Context) ([]models.AccidentZone, error) {
	var out []models.AccidentZone
	err := c.db.WithContext(ctx).Find(&out).Error
	return out, err
}

// GormVehicleDirectory resolves vehicle ownership from provisioned device
// credentials, falling back to the newest stored sample for vehicles that
// report without one. Unknown vehicles resolve to (_, false).
type GormVehicleDirectory struct {
	db *gorm.DB
}

func NewGormVehicleDirectory(db *gorm.DB) *GormVehicleDirectory {
	return &GormVehicleDirectory{db: db}
}

func (d *GormVehicleDirectory) VehicleTenant(vehicleID string) (string, bool) {
	var cred models.DeviceCredential
	err := d.db.Select("tenant_id").Where("vehicle_id = ?", vehicleID).First(&cred).Error
	if err == nil {
		return cred.TenantID, true
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false
	}
	var smp models.LocationSample
	err = d.db.Select("tenant_id").Where("vehicle_id = ?", vehicleID).Order("server_ts DESC").First(&smp).Error
	if err != nil {
		return "", false
	}
	return smp.TenantID, true
}
