package routes

import (
	"github.com/gin-gonic/gin"

	"fleettrack/internal/middleware"
)

func TrackingRoutes(r *gin.Engine, ctls *Controllers) {
	vehicles := r.Group("/vehicles")
	vehicles.Use(middleware.RequireAuth())
	{
		vehicles.GET("/:vehicle_id/latest", ctls.Tracking.GetLatest)
		vehicles.GET("/:vehicle_id/history", ctls.Tracking.GetHistory)
		vehicles.GET("/:vehicle_id/state", ctls.Tracking.GetVehicleState)
		vehicles.GET("/nearby", ctls.Tracking.GetNearby)
	}
}
