package routes

import (
	"github.com/gin-gonic/gin"

	"fleettrack/internal/middleware"
)

func GeofenceRoutes(r *gin.Engine, ctls *Controllers) {
	fences := r.Group("/geofences")
	fences.Use(middleware.RequireAuth())
	{
		fences.GET("", ctls.Geofences.ListGeofences)

		write := fences.Group("")
		write.Use(middleware.RequireRole(middleware.RoleOperator, middleware.RoleAdmin))
		{
			write.POST("", ctls.Geofences.CreateGeofence)
			write.PUT("/:id", ctls.Geofences.UpdateGeofence)
			write.DELETE("/:id", ctls.Geofences.DeleteGeofence)
		}
	}
}
