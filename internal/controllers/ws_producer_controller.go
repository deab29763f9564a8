package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"fleettrack/internal/ingest"
	"fleettrack/internal/middleware"
	"fleettrack/internal/wsproto"
)

// ProducerSocketController accepts device connections that report
// location samples and telemetry.
type ProducerSocketController struct {
	ingest      *ingest.Service
	idleTimeout time.Duration
}

func NewProducerSocketController(svc *ingest.Service, idleTimeout time.Duration) *ProducerSocketController {
	return &ProducerSocketController{ingest: svc, idleTimeout: idleTimeout}
}

// Handle upgrades the connection, performs the hello handshake and then
// pumps location/telemetry frames through the ingest pipeline.
func (ctl *ProducerSocketController) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade producer WebSocket connection.")
		return
	}
	defer conn.Close()

	ident, ok := ctl.handshake(conn)
	if !ok {
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"tenant_id":  ident.TenantID,
		"vehicle_id": ident.VehicleID,
	})
	log.Info("Producer connection established.")
	defer log.Info("Producer connection closed.")

	ctx := c.Request.Context()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(ctl.idleTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				_ = conn.WriteJSON(wsproto.ErrorMsg{
					Type:    wsproto.TypeError,
					Reason:  wsproto.CodeTimeout,
					Message: "idle timeout",
				})
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Warn("Producer read failed.")
			}
			return
		}

		kind, err := wsproto.PeekType(raw)
		if err != nil {
			_ = conn.WriteJSON(wsproto.ErrorMsg{
				Type:    wsproto.TypeError,
				Reason:  wsproto.CodeInvalidField("type"),
				Message: err.Error(),
			})
			continue
		}

		switch kind {
		case wsproto.TypeLocation:
			ctl.handleLocation(ctx, conn, ident, raw, log)
		case wsproto.TypeTelemetry:
			ctl.handleTelemetry(ctx, conn, ident, raw, log)
		case wsproto.TypePong:
			// Producers may echo pings; nothing to do.
		default:
			_ = conn.WriteJSON(wsproto.ErrorMsg{
				Type:    wsproto.TypeError,
				Reason:  wsproto.CodeInvalidField("type"),
				Message: "unexpected frame type " + kind,
			})
		}
	}
}

// handshake reads the hello frame, validates the token and binds the
// connection to its (tenant, vehicle, driver) identity.
func (ctl *ProducerSocketController) handshake(conn *websocket.Conn) (ingest.Identity, bool) {
	reject := func(reason, message string) (ingest.Identity, bool) {
		_ = conn.WriteJSON(wsproto.ErrorMsg{Type: wsproto.TypeError, Reason: reason, Message: message})
		return ingest.Identity{}, false
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
	if claims.Role != middleware.RoleProducer {
		return reject(wsproto.CodeUnauthorized, "token is not a producer token")
	}
	if hello.VehicleID == "" || hello.VehicleID != claims.VehicleID {
		return reject(wsproto.CodeIdentityMismatch, "vehicle id does not match token binding")
	}

	if err := conn.WriteJSON(wsproto.Welcome{Type: wsproto.TypeWelcome}); err != nil {
		return ingest.Identity{}, false
	}
	return ingest.Identity{
		TenantID:  claims.TenantID,
		VehicleID: claims.VehicleID,
		DriverID:  claims.DriverID,
	}, true
}

func (ctl *ProducerSocketController) handleLocation(ctx context.Context, conn *websocket.Conn, ident ingest.Identity, raw []byte, log *logrus.Entry) {
	var msg wsproto.Location
	if err := json.Unmarshal(raw, &msg); err != nil {
		_ = conn.WriteJSON(wsproto.ErrorMsg{
			Type:    wsproto.TypeError,
			Reason:  wsproto.CodeInvalidField("location"),
			Message: err.Error(),
		})
		return
	}

	deviceTs, err := ctl.ingest.IngestLocation(ctx, ident, msg)
	if err != nil {
		writeProtocolError(conn, msg.DeviceTs, err, log)
		return
	}
	_ = conn.WriteJSON(wsproto.Ack{Type: wsproto.TypeAck, DeviceTs: wsproto.FormatTime(deviceTs)})
}

func (ctl *ProducerSocketController) handleTelemetry(ctx context.Context, conn *websocket.Conn, ident ingest.Identity, raw []byte, log *logrus.Entry) {
	var msg wsproto.Telemetry
	if err := json.Unmarshal(raw, &msg); err != nil {
		_ = conn.WriteJSON(wsproto.ErrorMsg{
			Type:    wsproto.TypeError,
			Reason:  wsproto.CodeInvalidField("telemetry"),
			Message: err.Error(),
		})
		return
	}

	deviceTs, err := ctl.ingest.IngestTelemetry(ctx, ident, msg)
	if err != nil {
		writeProtocolError(conn, msg.DeviceTs, err, log)
		return
	}
	_ = conn.WriteJSON(wsproto.Ack{Type: wsproto.TypeAck, DeviceTs: wsproto.FormatTime(deviceTs)})
}

func writeProtocolError(conn *websocket.Conn, deviceTs string, err error, log *logrus.Entry) {
	var perr *wsproto.ProtocolError
	if !errors.As(err, &perr) {
		log.WithError(err).Error("Unexpected ingest failure.")
		perr = wsproto.NewError(wsproto.CodeInternal, "internal error")
	}
	_ = conn.WriteJSON(wsproto.ErrorMsg{
		Type:     wsproto.TypeError,
		DeviceTs: deviceTs,
		Reason:   perr.Code,
		Message:  perr.Message,
	})
}
