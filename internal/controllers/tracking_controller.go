package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fleettrack/internal/geo"
	"fleettrack/internal/middleware"
	"fleettrack/internal/store"
	"fleettrack/internal/track"
)

// TrackingController serves history and replay reads over the retention
// store plus the live evaluator state snapshot.
type TrackingController struct {
	store *store.Service
	eval  *track.Evaluator
}

func NewTrackingController(st *store.Service, eval *track.Evaluator) *TrackingController {
	return &TrackingController{store: st, eval: eval}
}

func (ctl *TrackingController) GetLatest(c *gin.Context) {
	vehicleID := c.Param("vehicle_id")

	smp, err := ctl.store.Latest(c.Request.Context(), vehicleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching latest sample"})
		return
	}
	if smp == nil || !ctl.visible(c, smp.TenantID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No location for vehicle"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sample": smp})
}

func (ctl *TrackingController) GetHistory(c *gin.Context) {
	vehicleID := c.Param("vehicle_id")

	from, err := parseTimeParam(c.Query("from"), time.Now().Add(-time.Hour))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'from' timestamp"})
		return
	}
	to, err := parseTimeParam(c.Query("to"), time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'to' timestamp"})
		return
	}

	samples, err := ctl.store.Range(c.Request.Context(), vehicleID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching history"})
		return
	}
	if len(samples) > 0 && !ctl.visible(c, samples[0].TenantID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Vehicle belongs to another tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

// GetNearby answers "vehicles near here" with the newest in-window sample
// per vehicle, restricted to the caller's tenant.
func (ctl *TrackingController) GetNearby(c *gin.Context) {
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}
	radiusM := 1000.0
	if raw := c.Query("radius_m"); raw != "" {
		if radiusM, err1 = strconv.ParseFloat(raw, 64); err1 != nil || radiusM <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid radius_m"})
			return
		}
	}
	since, err := parseTimeParam(c.Query("since"), time.Now().Add(-15*time.Minute))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'since' timestamp"})
		return
	}

	samples, err := ctl.store.Nearest(c.Request.Context(), geo.Point{Lat: lat, Lng: lng}, radiusM, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error running proximity query"})
		return
	}

	claims := middleware.ClaimsFrom(c)
	filtered := samples[:0]
	for _, s := range samples {
		if claims != nil && (claims.Role == middleware.RoleAdmin || claims.TenantID == s.TenantID) {
			filtered = append(filtered, s)
		}
	}
	c.JSON(http.StatusOK, gin.H{"samples": filtered})
}

// GetVehicleState exposes the evaluator's snapshot: latest sample plus
// the geofences the vehicle is currently inside.
func (ctl *TrackingController) GetVehicleState(c *gin.Context) {
	vehicleID := c.Param("vehicle_id")

	snap, ok := ctl.eval.Snapshot(vehicleID)
	if !ok || snap.Latest == nil || !ctl.visible(c, snap.Latest.TenantID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No live state for vehicle"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"vehicle_id": vehicleID,
		"latest":     snap.Latest,
		"inside":     snap.InsideIDs,
		"updated_at": snap.UpdatedAt,
	})
}

func (ctl *TrackingController) visible(c *gin.Context, tenantID string) bool {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return false
	}
	return claims.Role == middleware.RoleAdmin || claims.TenantID == tenantID
}

func parseTimeParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}
