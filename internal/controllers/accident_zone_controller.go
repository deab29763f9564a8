package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fleettrack/internal/geo"
	"fleettrack/internal/models"
)

// AccidentZoneController manages the global accident-prone zone catalog.
// The catalog is batch-replaced by an administrator and immutable in
// between replacements.
type AccidentZoneController struct {
	db    *gorm.DB
	index *geo.Index
}

func NewAccidentZoneController(db *gorm.DB, index *geo.Index) *AccidentZoneController {
	return &AccidentZoneController{db: db, index: index}
}

type accidentZoneInput struct {
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Severity      string  `json:"severity" binding:"required"`
	AccidentCount int     `json:"accident_count"`
	RadiusM       float64 `json:"radius_m"`
}

// ReplaceAccidentZones swaps the whole catalog in one transaction.
func (ctl *AccidentZoneController) ReplaceAccidentZones(c *gin.Context) {
	var input struct {
		Zones []accidentZoneInput `json:"zones" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid zone input: " + err.Error()})
		return
	}

	zones := make([]models.AccidentZone, 0, len(input.Zones))
	for _, z := range input.Zones {
		if z.Latitude < -90 || z.Latitude > 90 || z.Longitude < -180 || z.Longitude > 180 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "zone position out of range"})
			return
		}
		switch z.Severity {
		case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "severity must be low, medium or high"})
			return
		}
		zones = append(zones, models.AccidentZone{
			Latitude:      z.Latitude,
			Longitude:     z.Longitude,
			Severity:      z.Severity,
			AccidentCount: z.AccidentCount,
			RadiusM:       z.RadiusM,
		})
	}

	err := ctl.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.AccidentZone{}).Error; err != nil {
			return err
		}
		if len(zones) == 0 {
			return nil
		}
		return tx.Create(&zones).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to replace accident zones: " + err.Error()})
		return
	}

	if err := ctl.index.ReloadZones(context.Background()); err != nil {
		logrus.WithError(err).Error("Spatial index reload after zone replace failed.")
	}
	c.JSON(http.StatusOK, gin.H{"replaced": len(zones)})
}

func (ctl *AccidentZoneController) ListAccidentZones(c *gin.Context) {
	var zones []models.AccidentZone
	if err := ctl.db.Find(&zones).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error listing accident zones"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"zones": zones})
}
