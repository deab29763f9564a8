// Package track holds the per-vehicle evaluator state and the zone
// evaluation that turns accepted samples into entry/exit and proximity
// events.
package track

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fleettrack/internal/geo"
	"fleettrack/internal/models"
)

// Event kinds emitted by the evaluator.
const (
	KindGeofenceEntry     = "geofence_entry"
	KindGeofenceExit      = "geofence_exit"
	KindAccidentProximity = "accident_proximity"
	KindTelemetryAlert    = "telemetry_alert"
)

// Event is one zone transition or proximity warning for a vehicle.
type Event struct {
	Kind       string
	TenantID   string
	VehicleID  string
	ShipmentID string
	GeofenceID uint
	ZoneID     uint
	DistanceM  int
	Severity   string
	Message    string
	At         time.Time
}

// StateSnapshot is the read-only view of a vehicle's evaluator state.
// Inside maps contained fence ids to their alert-on-exit flags; InsideIDs
// is the same set sorted for deterministic display.
type StateSnapshot struct {
	VehicleID  string
	Latest     *models.LocationSample
	Inside     map[uint]bool
	InsideIDs  []uint
	LastAlerts map[uint]time.Time
	UpdatedAt  time.Time
}

// inside maps fence id to its alert-on-exit flag, captured while the
// vehicle is inside so the exit edge can fire after the fence stops
// matching.
type vehicleState struct {
	mu         sync.Mutex
	latest     *models.LocationSample
	inside     map[uint]bool
	lastAlerts map[uint]time.Time
	updatedAt  time.Time
}

// SpatialIndex is the slice of geo.Index the evaluator needs.
type SpatialIndex interface {
	Containing(tenantID string, p geo.Point) []geo.FenceHit
	WithinRadius(p geo.Point) []geo.ZoneHit
}

// Evaluator owns VehicleState. Mutation happens only on the per-vehicle
// serialized ingest path; other components read snapshots.
type Evaluator struct {
	index SpatialIndex

	mu     sync.RWMutex
	states map[string]*vehicleState

	dedupe       time.Duration
	idleEviction time.Duration

	checkpoints chan StateSnapshot
	now         func() time.Time
	log         *logrus.Entry
}

type EvaluatorOptions struct {
	AccidentDedupe   time.Duration
	VehicleIdleEvict time.Duration
}

func NewEvaluator(index SpatialIndex, opts EvaluatorOptions) *Evaluator {
	if opts.AccidentDedupe <= 0 {
		opts.AccidentDedupe = 60 * time.Second
	}
	if opts.VehicleIdleEvict <= 0 {
		opts.VehicleIdleEvict = 6 * time.Hour
	}
	return &Evaluator{
		index:        index,
		states:       make(map[string]*vehicleState),
		dedupe:       opts.AccidentDedupe,
		idleEviction: opts.VehicleIdleEvict,
		checkpoints:  make(chan StateSnapshot, 1024),
		now:          time.Now,
		log:          logrus.WithField("component", "zone_evaluator"),
	}
}

// Evaluate diffs the vehicle's containment set against the spatial index
// and returns the events this sample fires. It never blocks and never
// fails; an internal geometry problem yields no events and is logged by
// the index on load instead.
func (e *Evaluator) Evaluate(smp *models.LocationSample) []Event {
	st := e.state(smp.VehicleID)
	st.mu.Lock()
	defer st.mu.Unlock()

	p := geo.Point{Lat: smp.Latitude, Lng: smp.Longitude}
	hits := e.index.Containing(smp.TenantID, p)

	nowInside := make(map[uint]bool, len(hits))
	var events []Event

	for _, h := range hits {
		nowInside[h.ID] = h.AlertOnExit
		if _, was := st.inside[h.ID]; !was && h.AlertOnEntry {
			events = append(events, e.event(KindGeofenceEntry, smp, h.ID))
		}
	}

	var exited []uint
	for id, alertOnExit := range st.inside {
		if _, still := nowInside[id]; !still && alertOnExit {
			exited = append(exited, id)
		}
	}
	sort.Slice(exited, func(i, j int) bool { return exited[i] < exited[j] })
	for _, id := range exited {
		events = append(events, e.event(KindGeofenceExit, smp, id))
	}

	st.inside = nowInside
	st.latest = smp
	st.updatedAt = e.now()

	for _, hit := range e.index.WithinRadius(p) {
		zoneID := hit.Zone.ID
		if last, ok := st.lastAlerts[zoneID]; ok && e.now().Sub(last) < e.dedupe {
			continue
		}
		st.lastAlerts[zoneID] = e.now()
		events = append(events, Event{
			Kind:       KindAccidentProximity,
			TenantID:   smp.TenantID,
			VehicleID:  smp.VehicleID,
			ShipmentID: smp.ShipmentID,
			ZoneID:     zoneID,
			DistanceM:  int(math.Round(hit.DistanceM)),
			Severity:   hit.Zone.Severity,
			At:         smp.DeviceTs,
		})
	}

	e.offerCheckpoint(snapshotLocked(smp.VehicleID, st))
	return events
}

func (e *Evaluator) event(kind string, smp *models.LocationSample, fenceID uint) Event {
	return Event{
		Kind:       kind,
		TenantID:   smp.TenantID,
		VehicleID:  smp.VehicleID,
		ShipmentID: smp.ShipmentID,
		GeofenceID: fenceID,
		At:         smp.DeviceTs,
	}
}

// Snapshot returns a read-only copy of the vehicle's state.
func (e *Evaluator) Snapshot(vehicleID string) (StateSnapshot, bool) {
	e.mu.RLock()
	st, ok := e.states[vehicleID]
	e.mu.RUnlock()
	if !ok {
		return StateSnapshot{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return snapshotLocked(vehicleID, st), true
}

func snapshotLocked(vehicleID string, st *vehicleState) StateSnapshot {
	snap := StateSnapshot{
		VehicleID:  vehicleID,
		Latest:     st.latest,
		UpdatedAt:  st.updatedAt,
		Inside:     make(map[uint]bool, len(st.inside)),
		LastAlerts: make(map[uint]time.Time, len(st.lastAlerts)),
	}
	for id, alertOnExit := range st.inside {
		snap.Inside[id] = alertOnExit
		snap.InsideIDs = append(snap.InsideIDs, id)
	}
	sort.Slice(snap.InsideIDs, func(i, j int) bool { return snap.InsideIDs[i] < snap.InsideIDs[j] })
	for id, t := range st.lastAlerts {
		snap.LastAlerts[id] = t
	}
	return snap
}

func (e *Evaluator) state(vehicleID string) *vehicleState {
	e.mu.RLock()
	st, ok := e.states[vehicleID]
	e.mu.RUnlock()
	if ok {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.states[vehicleID]; ok {
		return st
	}
	st = &vehicleState{
		inside:     make(map[uint]bool),
		lastAlerts: make(map[uint]time.Time),
		updatedAt:  e.now(),
	}
	e.states[vehicleID] = st
	return st
}

// Restore seeds a vehicle's state from a checkpoint, used at startup. A
// vehicle with no checkpoint starts Outside everywhere.
func (e *Evaluator) Restore(snap StateSnapshot) {
	st := e.state(snap.VehicleID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.latest = snap.Latest
	st.inside = make(map[uint]bool, len(snap.Inside))
	for id, alertOnExit := range snap.Inside {
		st.inside[id] = alertOnExit
	}
	if snap.LastAlerts != nil {
		st.lastAlerts = snap.LastAlerts
	}
	if !snap.UpdatedAt.IsZero() {
		st.updatedAt = snap.UpdatedAt
	}
}

// EvictIdle drops states idle past the eviction window. An evicted vehicle
// re-enters as Outside, so its next sample may re-fire an entry event;
// that is accepted behavior.
func (e *Evaluator) EvictIdle() int {
	cutoff := e.now().Add(-e.idleEviction)
	e.mu.Lock()
	defer e.mu.Unlock()
	evicted := 0
	for id, st := range e.states {
		st.mu.Lock()
		idle := st.updatedAt.Before(cutoff)
		st.mu.Unlock()
		if idle {
			delete(e.states, id)
			evicted++
		}
	}
	if evicted > 0 {
		e.log.WithField("evicted", evicted).Debug("Evicted idle vehicle states.")
	}
	return evicted
}

// RunEviction drives EvictIdle periodically until ctx ends.
func (e *Evaluator) RunEviction(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.EvictIdle()
		case <-done:
			return
		}
	}
}

// Checkpoints exposes the stream of state snapshots for the background
// checkpoint writer. Offers are non-blocking; evaluation never suspends.
func (e *Evaluator) Checkpoints() <-chan StateSnapshot {
	return e.checkpoints
}

func (e *Evaluator) offerCheckpoint(snap StateSnapshot) {
	select {
	case e.checkpoints <- snap:
	default:
		// Dropping a checkpoint only widens the restart window.
	}
}
