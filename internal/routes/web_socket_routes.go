package routes

import (
	"github.com/gin-gonic/gin"
)

// WebSocketRoutes mounts the two socket endpoints. Auth happens inside
// the handshake (hello frame), not via the Authorization header, so no
// middleware guards these.
func WebSocketRoutes(r *gin.Engine, ctls *Controllers) {
	ws := r.Group("/ws")
	{
		ws.GET("/ingest", ctls.Producer.Handle)
		ws.GET("/subscribe", ctls.Subscriber.Handle)
	}
}
