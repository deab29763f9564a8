// Package wsproto defines the JSON envelopes exchanged on the producer and
// subscriber WebSocket connections. Every frame carries a "type" field; the
// remaining fields depend on the type.
package wsproto

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypeHello       = "hello"
	TypeWelcome     = "welcome"
	TypeLocation    = "location"
	TypeTelemetry   = "telemetry"
	TypeAck         = "ack"
	TypeError       = "error"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeSample      = "sample"
	TypeEvent       = "event"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeBye         = "bye"
)

// Hello opens either kind of connection. The token decides what the
// connection is allowed to do; vehicleId is required for producers.
type Hello struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	VehicleID string `json:"vehicleId,omitempty"`
}

type Welcome struct {
	Type string `json:"type"`
}

// Location is a producer-reported GPS sample. All numeric fields are JSON
// numbers; DeviceTs is RFC 3339 UTC.
type Location struct {
	Type       string   `json:"type"`
	Lat        float64  `json:"lat"`
	Lng        float64  `json:"lng"`
	SpeedKmh   float64  `json:"speedKmh"`
	HeadingDeg float64  `json:"headingDeg"`
	AccuracyM  float64  `json:"accuracyM"`
	AltitudeM  *float64 `json:"altitudeM,omitempty"`
	BatteryPct *float64 `json:"batteryPct,omitempty"`
	Ignition   string   `json:"ignition,omitempty"`
	ShipmentID string   `json:"shipmentId,omitempty"`
	DeviceTs   string   `json:"deviceTs"`
}

// Telemetry is a producer-reported sensor reading distinct from position.
type Telemetry struct {
	Type          string   `json:"type"`
	Category      string   `json:"category"`
	Value         *float64 `json:"value,omitempty"`
	ValueText     string   `json:"valueText,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	Lat           *float64 `json:"lat,omitempty"`
	Lng           *float64 `json:"lng,omitempty"`
	Alert         bool     `json:"alert,omitempty"`
	AlertSeverity string   `json:"alertSeverity,omitempty"`
	AlertMessage  string   `json:"alertMessage,omitempty"`
	DeviceTs      string   `json:"deviceTs"`
}

type Ack struct {
	Type     string `json:"type"`
	DeviceTs string `json:"deviceTs,omitempty"`
}

// ErrorMsg reports a failure to the peer. Reason is a stable code from the
// taxonomy in errors.go; Message is for humans.
type ErrorMsg struct {
	Type     string `json:"type"`
	DeviceTs string `json:"deviceTs,omitempty"`
	Reason   string `json:"reason"`
	Message  string `json:"message,omitempty"`
}

const (
	ScopeTenant   = "tenant"
	ScopeVehicle  = "vehicle"
	ScopeShipment = "shipment"
)

type Scope struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type Subscribe struct {
	Type  string `json:"type"`
	Scope Scope  `json:"scope"`
}

// Sample is the server push of an accepted location sample. Seq is assigned
// by the hub and is monotonically increasing per vehicle.
type Sample struct {
	Type       string   `json:"type"`
	Seq        uint64   `json:"seq"`
	TenantID   string   `json:"tenantId"`
	VehicleID  string   `json:"vehicleId"`
	DriverID   string   `json:"driverId,omitempty"`
	ShipmentID string   `json:"shipmentId,omitempty"`
	Lat        float64  `json:"lat"`
	Lng        float64  `json:"lng"`
	SpeedKmh   float64  `json:"speedKmh"`
	HeadingDeg float64  `json:"headingDeg"`
	AccuracyM  float64  `json:"accuracyM"`
	AltitudeM  *float64 `json:"altitudeM,omitempty"`
	BatteryPct *float64 `json:"batteryPct,omitempty"`
	Ignition   string   `json:"ignition,omitempty"`
	DeviceTs   string   `json:"deviceTs"`
	ServerTs   string   `json:"serverTs"`
}

const (
	EventGeofenceEntry     = "geofence_entry"
	EventGeofenceExit      = "geofence_exit"
	EventAccidentProximity = "accident_proximity"
	EventTelemetryAlert    = "telemetry_alert"
)

// Event is the server push of a zone or telemetry event.
type Event struct {
	Type       string `json:"type"`
	Kind       string `json:"kind"`
	TenantID   string `json:"tenantId"`
	VehicleID  string `json:"vehicleId"`
	ShipmentID string `json:"shipmentId,omitempty"`
	GeofenceID uint   `json:"geofenceId,omitempty"`
	ZoneID     uint   `json:"zoneId,omitempty"`
	DistanceM  int    `json:"distanceM,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Message    string `json:"message,omitempty"`
	At         string `json:"at"`
}

type Ping struct {
	Type string `json:"type"`
}

type Bye struct {
	Type string `json:"type"`
}

// PeekType extracts the "type" field so the caller can pick the concrete
// envelope to unmarshal into.
func PeekType(raw []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("malformed frame: %w", err)
	}
	if head.Type == "" {
		return "", fmt.Errorf("frame missing type")
	}
	return head.Type, nil
}

// FormatTime renders a timestamp the way every envelope carries them.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime accepts RFC 3339 with or without sub-second precision.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
