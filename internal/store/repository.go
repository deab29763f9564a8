// Package store persists location samples and telemetry records with
// time-bounded retention, and answers the latest / range / nearest lookups
// the tracking core and the history endpoints need.
package store

import (
	"context"
	"math"
	"time"

	"gorm.io/gorm"

	"fleettrack/internal/geo"
	"fleettrack/internal/models"
)

// SampleRepository is the persistence port for location samples.
type SampleRepository interface {
	Insert(ctx context.Context, s *models.LocationSample) error
	Latest(ctx context.Context, vehicleID string) (*models.LocationSample, error)
	Range(ctx context.Context, vehicleID string, from, to time.Time) ([]models.LocationSample, error)
	Nearest(ctx context.Context, p geo.Point, radiusM float64, since time.Time) ([]models.LocationSample, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TelemetryRepository is the persistence port for telemetry records.
type TelemetryRepository interface {
	Insert(ctx context.Context, r *models.TelemetryRecord) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ SampleRepository = (*GormSampleRepo)(nil)

type GormSampleRepo struct {
	db *gorm.DB
}

func NewGormSampleRepo(db *gorm.DB) *GormSampleRepo {
	return &GormSampleRepo{db: db}
}

func (r *GormSampleRepo) Insert(ctx context.Context, s *models.LocationSample) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *GormSampleRepo) Latest(ctx context.Context, vehicleID string) (*models.LocationSample, error) {
	var s models.LocationSample
	err := r.db.WithContext(ctx).
		Where("vehicle_id = ?", vehicleID).
		Order("server_ts DESC").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormSampleRepo) Range(ctx context.Context, vehicleID string, from, to time.Time) ([]models.LocationSample, error) {
	var out []models.LocationSample
	err := r.db.WithContext(ctx).
		Where("vehicle_id = ? AND server_ts >= ? AND server_ts <= ?", vehicleID, from, to).
		Order("server_ts ASC").
		Find(&out).Error
	return out, err
}

// Nearest returns one row per vehicle: its newest sample inside the time
// window whose position falls within radiusM of p. The SQL side prefilters
// on a bounding box; the exact haversine cut happens here.
func (r *GormSampleRepo) Nearest(ctx context.Context, p geo.Point, radiusM float64, since time.Time) ([]models.LocationSample, error) {
	dLat := radiusM / 111320.0
	dLng := radiusM / (111320.0 * math.Cos(p.Lat*math.Pi/180))

	var rows []models.LocationSample
	err := r.db.WithContext(ctx).
		Where("server_ts >= ?", since).
		Where("latitude BETWEEN ? AND ?", p.Lat-dLat, p.Lat+dLat).
		Where("longitude BETWEEN ? AND ?", p.Lng-dLng, p.Lng+dLng).
		Order("server_ts DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// The first row per vehicle is its newest in the window; that row
	// alone decides whether the vehicle is in range. Falling through to
	// an older row would report a stale position.
	seen := make(map[string]bool)
	var out []models.LocationSample
	for _, row := range rows {
		if seen[row.VehicleID] {
			continue
		}
		seen[row.VehicleID] = true
		if geo.HaversineMeters(p, geo.Point{Lat: row.Latitude, Lng: row.Longitude}) > radiusM {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *GormSampleRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("server_ts < ?", cutoff).
		Delete(&models.LocationSample{})
	return res.RowsAffected, res.Error
}

var _ TelemetryRepository = (*GormTelemetryRepo)(nil)

type GormTelemetryRepo struct {
	db *gorm.DB
}

func NewGormTelemetryRepo(db *gorm.DB) *GormTelemetryRepo {
	return &GormTelemetryRepo{db: db}
}

func (r *GormTelemetryRepo) Insert(ctx context.Context, rec *models.TelemetryRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *GormTelemetryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("server_ts < ?", cutoff).
		Delete(&models.TelemetryRecord{})
	return res.RowsAffected, res.Error
}
