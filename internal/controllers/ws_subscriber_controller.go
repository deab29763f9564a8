package controllers

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"fleettrack/internal/hub"
	"fleettrack/internal/middleware"
	"fleettrack/internal/wsproto"
)

// SubscriberSocketController accepts dashboard and tracking-page
// connections and bridges them into the subscription hub.
type SubscriberSocketController struct {
	hub         *hub.Hub
	heartbeat   time.Duration
	idleTimeout time.Duration
}

func NewSubscriberSocketController(h *hub.Hub, heartbeat, idleTimeout time.Duration) *SubscriberSocketController {
	return &SubscriberSocketController{hub: h, heartbeat: heartbeat, idleTimeout: idleTimeout}
}

func (ctl *SubscriberSocketController) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade subscriber WebSocket connection.")
		return
	}

	ent, ok := ctl.handshake(conn)
	if !ok {
		conn.Close()
		return
	}

	sub := ctl.hub.Register(conn, ent)
	log := logrus.WithFields(logrus.Fields{
		"tenant_id": ent.TenantID,
		"admin":     ent.Admin,
	})

	// Heartbeat: the hub's writer goroutine owns the transport, so pings
	// go through the connection's control queue.
	go func() {
		ticker := time.NewTicker(ctl.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !sub.SendControl(wsproto.Ping{Type: wsproto.TypePing}) {
					return
				}
			case <-sub.Done():
				return
			}
		}
	}()

	ctl.readLoop(conn, sub, log)
	ctl.hub.Close(sub)
	log.Info("Subscriber connection closed.")
}

func (ctl *SubscriberSocketController) handshake(conn *websocket.Conn) (hub.Entitlement, bool) {
	reject := func(reason, message string) (hub.Entitlement, bool) {
		_ = conn.WriteJSON(wsproto.ErrorMsg{Type: wsproto.TypeError, Reason: reason, Message: message})
		return hub.Entitlement{}, false
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var hello wsproto.Hello
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != wsproto.TypeHello {
		return reject(wsproto.CodeAuthFailed, "expected hello frame")
	}

	claims, err := middleware.ValidateToken(hello.Token)
	if err != nil {
		return reject(wsproto.CodeAuthFailed, "invalid token")
	}
	switch claims.Role {
	case middleware.RoleDispatcher, middleware.RoleViewer, middleware.RoleOperator, middleware.RoleAdmin:
	default:
		return reject(wsproto.CodeUnauthorized, "token cannot subscribe")
	}

	if err := conn.WriteJSON(wsproto.Welcome{Type: wsproto.TypeWelcome}); err != nil {
		return hub.Entitlement{}, false
	}
	return hub.Entitlement{
		TenantID: claims.TenantID,
		Admin:    claims.Role == middleware.RoleAdmin,
	}, true
}

// readLoop consumes subscribe/unsubscribe/pong frames until the peer goes
// away or stops answering heartbeats.
func (ctl *SubscriberSocketController) readLoop(conn *websocket.Conn, sub *hub.Conn, log *logrus.Entry) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(ctl.idleTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Debug("Subscriber read ended.")
			}
			return
		}

		kind, err := wsproto.PeekType(raw)
		if err != nil {
			sub.SendControl(wsproto.ErrorMsg{
				Type:    wsproto.TypeError,
				Reason:  wsproto.CodeInvalidField("type"),
				Message: err.Error(),
			})
			continue
		}

		switch kind {
		case wsproto.TypePong:
			// Deadline already refreshed above.
		case wsproto.TypeSubscribe:
			var msg wsproto.Subscribe
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if err := ctl.hub.Subscribe(sub, msg.Scope); err != nil {
				var perr *wsproto.ProtocolError
				if pe, ok := err.(*wsproto.ProtocolError); ok {
					perr = pe
				} else {
					perr = wsproto.NewError(wsproto.CodeInternal, err.Error())
				}
				sub.SendControl(wsproto.ErrorMsg{
					Type:    wsproto.TypeError,
					Reason:  perr.Code,
					Message: perr.Message,
				})
			}
		case wsproto.TypeUnsubscribe:
			var msg wsproto.Subscribe
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			ctl.hub.Unsubscribe(sub, msg.Scope)
		default:
			log.WithField("frame_type", kind).Warn("Subscriber sent unexpected frame. Ignoring.")
		}
	}
}
