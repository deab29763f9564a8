package routes

import (
	ginlogger "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"

	"fleettrack/internal/controllers"
	"fleettrack/internal/middleware"
)

// Controllers bundles every handler the router mounts.
type Controllers struct {
	Auth          *controllers.AuthController
	Geofences     *controllers.GeofenceController
	AccidentZones *controllers.AccidentZoneController
	Tracking      *controllers.TrackingController
	Producer      *controllers.ProducerSocketController
	Subscriber    *controllers.SubscriberSocketController
	Health        *controllers.HealthController
}

func SetupRouter(ctls *Controllers) *gin.Engine {
	r := gin.New()
	r.Use(ginlogger.SetLogger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())

	r.GET("/healthz", ctls.Health.Healthz)

	AuthRoutes(r, ctls)
	GeofenceRoutes(r, ctls)
	TrackingRoutes(r, ctls)
	AdminRoutes(r, ctls)
	WebSocketRoutes(r, ctls)

	return r
}
