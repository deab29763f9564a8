package controllers

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader configures the WebSocket connection.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for development (restrict in production!)
	},
}
