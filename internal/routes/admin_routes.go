package routes

import (
	"github.com/gin-gonic/gin"

	"fleettrack/internal/middleware"
)

func AdminRoutes(r *gin.Engine, ctls *Controllers) {
	admin := r.Group("/admin")
	admin.Use(middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.PUT("/accident-zones", ctls.AccidentZones.ReplaceAccidentZones)
		admin.GET("/accident-zones", ctls.AccidentZones.ListAccidentZones)
	}
}
