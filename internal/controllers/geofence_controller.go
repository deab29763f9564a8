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

// GeofenceController is the operator-facing CRUD surface for tenant
// geofences. Every mutation triggers a tenant-local spatial index reload.
type GeofenceController struct {
	db    *gorm.DB
	index *geo.Index
}

func NewGeofenceController(db *gorm.DB, index *geo.Index) *GeofenceController {
	return &GeofenceController{db: db, index: index}
}

type geofenceInput struct {
	Name         string       `json:"name" binding:"required"`
	Kind         string       `json:"kind" binding:"required"`
	CenterLat    float64      `json:"center_lat"`
	CenterLng    float64      `json:"center_lng"`
	RadiusM      float64      `json:"radius_m"`
	Vertices     [][2]float64 `json:"vertices"`
	AlertOnEntry bool         `json:"alert_on_entry"`
	AlertOnExit  bool         `json:"alert_on_exit"`
	Active       *bool        `json:"active"`
}

func (in *geofenceInput) validateGeometry() (string, bool) {
	switch in.Kind {
	case models.GeofenceCircle:
		if in.CenterLat < -90 || in.CenterLat > 90 || in.CenterLng < -180 || in.CenterLng > 180 {
			return "circle center out of range", false
		}
		if in.RadiusM <= 0 {
			return "circle radius must be positive", false
		}
	case models.GeofencePolygon:
		if _, err := geo.ValidateRing(in.Vertices); err != nil {
			return err.Error(), false
		}
	default:
		return "kind must be circle or polygon", false
	}
	return "", true
}

func (ctl *GeofenceController) CreateGeofence(c *gin.Context) {
	var input geofenceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid geofence input: " + err.Error()})
		return
	}
	if msg, ok := input.validateGeometry(); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	tenantID := c.GetString("tenant_id")
	fence := models.Geofence{
		TenantID:     tenantID,
		Name:         input.Name,
		Kind:         input.Kind,
		CenterLat:    input.CenterLat,
		CenterLng:    input.CenterLng,
		RadiusM:      input.RadiusM,
		AlertOnEntry: input.AlertOnEntry,
		AlertOnExit:  input.AlertOnExit,
		Active:       true,
	}
	if input.Active != nil {
		fence.Active = *input.Active
	}
	if input.Kind == models.GeofencePolygon {
		if err := fence.SetVertexList(input.Vertices); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vertices: " + err.Error()})
			return
		}
	}

	if err := ctl.db.Create(&fence).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create geofence: " + err.Error()})
		return
	}
	ctl.refreshTenant(tenantID)
	c.JSON(http.StatusCreated, gin.H{"geofence": fence})
}

func (ctl *GeofenceController) ListGeofences(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var fences []models.Geofence
	if err := ctl.db.Where("tenant_id = ?", tenantID).Find(&fences).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching geofences"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"geofences": fences})
}

func (ctl *GeofenceController) UpdateGeofence(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	id := c.Param("id")

	var fence models.Geofence
	if err := ctl.db.Where("id = ? AND tenant_id = ?", id, tenantID).First(&fence).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Geofence not found"})
		return
	}

	var input geofenceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid update"})
		return
	}
	if msg, ok := input.validateGeometry(); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	fence.Name = input.Name
	fence.Kind = input.Kind
	fence.CenterLat = input.CenterLat
	fence.CenterLng = input.CenterLng
	fence.RadiusM = input.RadiusM
	fence.AlertOnEntry = input.AlertOnEntry
	fence.AlertOnExit = input.AlertOnExit
	if input.Active != nil {
		fence.Active = *input.Active
	}
	fence.Vertices = nil
	if input.Kind == models.GeofencePolygon {
		if err := fence.SetVertexList(input.Vertices); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vertices: " + err.Error()})
			return
		}
	}

	if err := ctl.db.Save(&fence).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update geofence"})
		return
	}
	ctl.refreshTenant(tenantID)
	c.JSON(http.StatusOK, gin.H{"geofence": fence})
}

func (ctl *GeofenceController) DeleteGeofence(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	id := c.Param("id")

	var fence models.Geofence
	if err := ctl.db.Where("id = ? AND tenant_id = ?", id, tenantID).First(&fence).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Geofence not found"})
		return
	}

	ctl.db.Delete(&fence)
	ctl.refreshTenant(tenantID)
	c.JSON(http.StatusOK, gin.H{"message": "Geofence deleted"})
}

func (ctl *GeofenceController) refreshTenant(tenantID string) {
	if err := ctl.index.ReloadTenant(context.Background(), tenantID); err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).Error("Spatial index reload after geofence change failed.")
	}
}
