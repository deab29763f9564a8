package routes

import (
	"github.com/gin-gonic/gin"

	"fleettrack/internal/middleware"
)

func AuthRoutes(r *gin.Engine, ctls *Controllers) {
	auth := r.Group("/auth")
	{
		auth.POST("/device/token", ctls.Auth.IssueDeviceToken)
	}

	devices := r.Group("/devices")
	devices.Use(middleware.RequireRole(middleware.RoleOperator, middleware.RoleAdmin))
	{
		devices.POST("", ctls.Auth.ProvisionDevice)
		devices.DELETE("/:vehicle_id", ctls.Auth.RevokeDeviceCredential)
	}
}
