// Package hub fans accepted samples and events out to long-lived
// subscriber connections according to their interest sets.
package hub

import (
	"sync"

	"github.com/sirupsen/logrus"

	"fleettrack/internal/models"
	"fleettrack/internal/track"
	"fleettrack/internal/wsproto"
)

// TenantLookup reports which tenant owns a vehicle, when known.
type TenantLookup interface {
	VehicleTenant(vehicleID string) (string, bool)
}

// Hub owns every subscriber connection and the per-vehicle delivery
// sequence numbers. Delivery is at-most-once per message per connection;
// for a fixed vehicle the delivered order matches acceptance order.
type Hub struct {
	mu      sync.RWMutex
	conns   map[*Conn]struct{}
	byScope map[wsproto.Scope]map[*Conn]struct{}

	seqMu sync.Mutex
	seqs  map[string]uint64

	queueHigh int
	queueKill int

	vehicles TenantLookup // may be nil

	log *logrus.Entry
}

func New(queueHigh, queueKill int) *Hub {
	if queueHigh <= 0 {
		queueHigh = 256
	}
	if queueKill <= 0 {
		queueKill = 1024
	}
	return &Hub{
		conns:     make(map[*Conn]struct{}),
		byScope:   make(map[wsproto.Scope]map[*Conn]struct{}),
		seqs:      make(map[string]uint64),
		queueHigh: queueHigh,
		queueKill: queueKill,
		log:       logrus.WithField("component", "subscription_hub"),
	}
}

// SetTenantLookup installs the vehicle ownership directory used to vet
// vehicle subscriptions at subscribe time.
func (h *Hub) SetTenantLookup(l TenantLookup) {
	h.vehicles = l
}

// Register admits a new subscriber connection and starts its writer.
func (h *Hub) Register(t Transport, ent Entitlement) *Conn {
	c := &Conn{
		hub:       h,
		transport: t,
		ent:       ent,
		scopes:    make(map[wsproto.Scope]struct{}),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	go c.writeLoop()

	h.log.WithFields(logrus.Fields{
		"tenant_id": ent.TenantID,
		"admin":     ent.Admin,
	}).Info("Subscriber connection registered.")
	return c
}

// Subscribe adds a scope to the connection's interest set. Widening beyond
// the token's entitlement is rejected.
func (h *Hub) Subscribe(c *Conn, scope wsproto.Scope) error {
	switch scope.Kind {
	case wsproto.ScopeTenant:
		if !c.ent.Admin && scope.ID != c.ent.TenantID {
			return wsproto.Errorf(wsproto.CodeUnauthorized, "not entitled to tenant %s", scope.ID)
		}
	case wsproto.ScopeVehicle:
		if !c.ent.Admin && h.vehicles != nil {
			if tenant, ok := h.vehicles.VehicleTenant(scope.ID); ok && tenant != c.ent.TenantID {
				return wsproto.Errorf(wsproto.CodeUnauthorized, "not entitled to vehicle %s", scope.ID)
			}
		}
		// Unknown vehicles stay subscribable; the delivery-time tenant
		// check keeps foreign tenants' traffic out either way.
	case wsproto.ScopeShipment:
		// Shipment ids have no ownership directory; the delivery-time
		// tenant check applies.
	default:
		return wsproto.Errorf(wsproto.CodeUnauthorized, "unknown scope kind %q", scope.Kind)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return wsproto.NewError(wsproto.CodeInternal, "connection is closed")
	}
	c.mu.Lock()
	c.scopes[scope] = struct{}{}
	c.mu.Unlock()
	set, ok := h.byScope[scope]
	if !ok {
		set = make(map[*Conn]struct{})
		h.byScope[scope] = set
	}
	set[c] = struct{}{}
	return nil
}

// Unsubscribe removes a scope from the connection's interest set.
func (h *Hub) Unsubscribe(c *Conn, scope wsproto.Scope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.mu.Lock()
	delete(c.scopes, scope)
	c.mu.Unlock()
	if set, ok := h.byScope[scope]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byScope, scope)
		}
	}
}

// PublishSample assigns the vehicle's next sequence number and fans the
// sample out to matching subscribers. Returns the assigned seq.
func (h *Hub) PublishSample(smp *models.LocationSample) uint64 {
	h.seqMu.Lock()
	h.seqs[smp.VehicleID]++
	seq := h.seqs[smp.VehicleID]
	h.seqMu.Unlock()

	msg := sampleMessage(smp, seq)
	m := outbound{sample: true, vehicleID: smp.VehicleID, payload: msg}
	for _, c := range h.match(smp.TenantID, smp.VehicleID, smp.ShipmentID) {
		c.offer(m)
	}
	return seq
}

// PublishEvent fans a zone or telemetry event out to matching subscribers.
// Events are never coalesced away.
func (h *Hub) PublishEvent(ev track.Event) {
	msg := eventMessage(ev)
	m := outbound{vehicleID: ev.VehicleID, payload: msg}
	for _, c := range h.match(ev.TenantID, ev.VehicleID, ev.ShipmentID) {
		c.offer(m)
	}
}

// match collects the connections whose interest set covers the message and
// whose entitlement allows the tenant.
func (h *Hub) match(tenantID, vehicleID, shipmentID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Conn]struct{})
	var out []*Conn
	add := func(scope wsproto.Scope) {
		for c := range h.byScope[scope] {
			if _, dup := seen[c]; dup {
				continue
			}
			if !c.ent.Admin && c.ent.TenantID != tenantID {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	add(wsproto.Scope{Kind: wsproto.ScopeTenant, ID: tenantID})
	add(wsproto.Scope{Kind: wsproto.ScopeVehicle, ID: vehicleID})
	if shipmentID != "" {
		add(wsproto.Scope{Kind: wsproto.ScopeShipment, ID: shipmentID})
	}
	return out
}

// Close releases a connection and all of its interest entries.
func (h *Hub) Close(c *Conn) {
	h.closeConn(c, "")
}

func (h *Hub) closeConn(c *Conn, reason string) {
	var final []any
	if reason != "" {
		final = append(final, wsproto.ErrorMsg{Type: wsproto.TypeError, Reason: reason})
	}
	h.finish(c, reason, final)
}

// finish marks the connection closed, drops its backlog and deregisters
// it. The transport itself is only ever touched by the connection's
// writer goroutine, which emits the final frames and closes it; writing
// to it here would race a writer that is mid-WriteJSON.
func (h *Hub) finish(c *Conn, reason string, final []any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	c.final = final
	scopes := make([]wsproto.Scope, 0, len(c.scopes))
	for s := range c.scopes {
		scopes = append(scopes, s)
	}
	c.mu.Unlock()

	h.mu.Lock()
	delete(h.conns, c)
	for _, s := range scopes {
		if set, ok := h.byScope[s]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.byScope, s)
			}
		}
	}
	h.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}

	if reason != "" {
		h.log.WithField("reason", reason).Info("Subscriber connection closed by hub.")
	}
}

// Shutdown sends a final bye to every connection and closes them all.
// Delivery of the bye is best-effort through each connection's writer.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.finish(c, "", []any{wsproto.Bye{Type: wsproto.TypeBye}})
	}
}

func sampleMessage(smp *models.LocationSample, seq uint64) wsproto.Sample {
	return wsproto.Sample{
		Type:       wsproto.TypeSample,
		Seq:        seq,
		TenantID:   smp.TenantID,
		VehicleID:  smp.VehicleID,
		DriverID:   smp.DriverID,
		ShipmentID: smp.ShipmentID,
		Lat:        smp.Latitude,
		Lng:        smp.Longitude,
		SpeedKmh:   smp.SpeedKmh,
		HeadingDeg: smp.HeadingDeg,
		AccuracyM:  smp.AccuracyM,
		AltitudeM:  smp.AltitudeM,
		BatteryPct: smp.BatteryPct,
		Ignition:   smp.Ignition,
		DeviceTs:   wsproto.FormatTime(smp.DeviceTs),
		ServerTs:   wsproto.FormatTime(smp.ServerTs),
	}
}

func eventMessage(ev track.Event) wsproto.Event {
	return wsproto.Event{
		Type:       wsproto.TypeEvent,
		Kind:       ev.Kind,
		TenantID:   ev.TenantID,
		VehicleID:  ev.VehicleID,
		ShipmentID: ev.ShipmentID,
		GeofenceID: ev.GeofenceID,
		ZoneID:     ev.ZoneID,
		DistanceM:  ev.DistanceM,
		Severity:   ev.Severity,
		Message:    ev.Message,
		At:         wsproto.FormatTime(ev.At),
	}
}
