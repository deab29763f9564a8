// Package ingest is the producer-facing front-end: it validates incoming
// samples, persists them, runs zone evaluation and hands the results to
// the hub, in that order, serialized per vehicle.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"fleettrack/internal/models"
	"fleettrack/internal/store"
	"fleettrack/internal/track"
	"fleettrack/internal/wsproto"
)

// Identity is the (tenant, vehicle, driver) binding established at
// handshake. A producer may only report for its bound vehicle.
type Identity struct {
	TenantID  string
	VehicleID string
	DriverID  string
}

// Fanout is the slice of the hub the ingest path needs.
type Fanout interface {
	PublishSample(smp *models.LocationSample) uint64
	PublishEvent(ev track.Event)
}

// EventSink receives events for downstream subsystems (message broker).
// Best-effort; a failing sink never blocks ingestion.
type EventSink interface {
	PublishEvent(ctx context.Context, ev track.Event) error
}

// Service wires C2, C3 and C4 behind per-vehicle serialization and
// admission control.
type Service struct {
	store *store.Service
	eval  *track.Evaluator
	hub   Fanout
	sink  EventSink // may be nil
	// Events cross to the sink pump through a bounded channel so a
	// stalled broker can never block the per-vehicle pipeline.
	sinkCh chan track.Event

	clockSkew time.Duration

	limit      rate.Limit
	burst      int
	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	vehicleMu sync.Mutex
	perV      map[string]*sync.Mutex

	now func() time.Time
	log *logrus.Entry
}

type Options struct {
	MaxClockSkew  time.Duration
	SamplesPerSec float64
	SampleBurst   int
}

func NewService(st *store.Service, eval *track.Evaluator, fan Fanout, sink EventSink, opts Options) *Service {
	if opts.MaxClockSkew <= 0 {
		opts.MaxClockSkew = 30 * time.Second
	}
	if opts.SamplesPerSec <= 0 {
		opts.SamplesPerSec = 10
	}
	if opts.SampleBurst <= 0 {
		opts.SampleBurst = 20
	}
	var sinkCh chan track.Event
	if sink != nil {
		sinkCh = make(chan track.Event, 256)
	}
	return &Service{
		store:     st,
		eval:      eval,
		hub:       fan,
		sink:      sink,
		sinkCh:    sinkCh,
		clockSkew: opts.MaxClockSkew,
		limit:     rate.Limit(opts.SamplesPerSec),
		burst:     opts.SampleBurst,
		limiters:  make(map[string]*rate.Limiter),
		perV:      make(map[string]*sync.Mutex),
		now:       time.Now,
		log:       logrus.WithField("component", "ingest"),
	}
}

// IngestLocation runs the full pipeline for one producer frame and returns
// the device timestamp to acknowledge. Any returned error carries a wire
// code for the producer.
func (s *Service) IngestLocation(ctx context.Context, ident Identity, msg wsproto.Location) (time.Time, error) {
	smp, err := s.validate(ident, msg)
	if err != nil {
		return time.Time{}, err
	}

	if !s.limiter(ident.VehicleID).Allow() {
		return smp.DeviceTs, wsproto.NewError(wsproto.CodeRateLimited, "per-vehicle sample rate exceeded")
	}

	// Serialize store→evaluate→publish per vehicle so two samples for the
	// same vehicle can never reorder, even with multiple producers bound
	// to one vehicle id.
	mu := s.vehicleLock(ident.VehicleID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.WriteSample(ctx, smp); err != nil {
		return smp.DeviceTs, err
	}

	events := s.eval.Evaluate(smp)

	s.hub.PublishSample(smp)
	for _, ev := range events {
		s.hub.PublishEvent(ev)
		s.forward(ev)
	}
	return smp.DeviceTs, nil
}

// IngestTelemetry persists a telemetry record and fans out an event when
// it carries an alert flag.
func (s *Service) IngestTelemetry(ctx context.Context, ident Identity, msg wsproto.Telemetry) (time.Time, error) {
	deviceTs, err := wsproto.ParseTime(msg.DeviceTs)
	if err != nil {
		return time.Time{}, wsproto.NewError(wsproto.CodeInvalidField("deviceTs"), "deviceTs must be RFC 3339")
	}
	rec := &models.TelemetryRecord{
		TenantID:      ident.TenantID,
		VehicleID:     ident.VehicleID,
		Category:      msg.Category,
		ValueNum:      msg.Value,
		ValueText:     msg.ValueText,
		Unit:          msg.Unit,
		Latitude:      msg.Lat,
		Longitude:     msg.Lng,
		Alert:         msg.Alert,
		AlertSeverity: msg.AlertSeverity,
		AlertMessage:  msg.AlertMessage,
		DeviceTs:      deviceTs,
		ServerTs:      s.now().UTC(),
	}
	if err := s.store.WriteTelemetry(ctx, rec); err != nil {
		return deviceTs, err
	}

	if rec.Alert {
		ev := track.Event{
			Kind:      track.KindTelemetryAlert,
			TenantID:  ident.TenantID,
			VehicleID: ident.VehicleID,
			Severity:  rec.AlertSeverity,
			Message:   rec.AlertMessage,
			At:        deviceTs,
		}
		s.hub.PublishEvent(ev)
		s.forward(ev)
	}
	return deviceTs, nil
}

func (s *Service) validate(ident Identity, msg wsproto.Location) (*models.LocationSample, error) {
	if msg.Lat < -90 || msg.Lat > 90 {
		return nil, wsproto.NewError(wsproto.CodeInvalidField("lat"), "latitude must be in [-90,90]")
	}
	if msg.Lng < -180 || msg.Lng > 180 {
		return nil, wsproto.NewError(wsproto.CodeInvalidField("lng"), "longitude must be in [-180,180]")
	}
	if msg.SpeedKmh < 0 {
		return nil, wsproto.NewError(wsproto.CodeInvalidField("speedKmh"), "speed must be >= 0")
	}
	if msg.HeadingDeg < 0 || msg.HeadingDeg >= 360 {
		return nil, wsproto.NewError(wsproto.CodeInvalidField("headingDeg"), "heading must be in [0,360)")
	}
	if msg.AccuracyM < 0 {
		return nil, wsproto.NewError(wsproto.CodeInvalidField("accuracyM"), "accuracy must be >= 0")
	}
	if msg.BatteryPct != nil && (*msg.BatteryPct < 0 || *msg.BatteryPct > 100) {
		return nil, wsproto.NewError(wsproto.CodeInvalidField("batteryPct"), "battery must be in [0,100]")
	}
	ignition := msg.Ignition
	switch ignition {
	case "":
		ignition = models.IgnitionUnknown
	case models.IgnitionOn, models.IgnitionOff, models.IgnitionUnknown:
	default:
		return nil, wsproto.NewError(wsproto.CodeInvalidField("ignition"), "ignition must be on, off or unknown")
	}
	deviceTs, err := wsproto.ParseTime(msg.DeviceTs)
	if err != nil {
		return nil, wsproto.NewError(wsproto.CodeInvalidField("deviceTs"), "deviceTs must be RFC 3339")
	}
	serverTs := s.now().UTC()
	if deviceTs.After(serverTs.Add(s.clockSkew)) {
		return nil, wsproto.NewError(wsproto.CodeInvalidField("deviceTs"), "device timestamp is too far in the future")
	}

	return &models.LocationSample{
		TenantID:   ident.TenantID,
		VehicleID:  ident.VehicleID,
		DriverID:   ident.DriverID,
		ShipmentID: msg.ShipmentID,
		Latitude:   msg.Lat,
		Longitude:  msg.Lng,
		SpeedKmh:   msg.SpeedKmh,
		HeadingDeg: msg.HeadingDeg,
		AccuracyM:  msg.AccuracyM,
		AltitudeM:  msg.AltitudeM,
		BatteryPct: msg.BatteryPct,
		Ignition:   ignition,
		DeviceTs:   deviceTs,
		ServerTs:   serverTs,
	}, nil
}

// forward hands an event to the sink pump without blocking; when the
// pump is backed up the event is dropped.
func (s *Service) forward(ev track.Event) {
	if s.sinkCh == nil {
		return
	}
	select {
	case s.sinkCh <- ev:
	default:
		s.log.WithField("kind", ev.Kind).Warn("Event sink queue is full, dropping event.")
	}
}

// RunSink drains queued events to the sink until ctx ends. Returns
// immediately when no sink is configured.
func (s *Service) RunSink(ctx context.Context) {
	if s.sinkCh == nil {
		return
	}
	for {
		select {
		case ev := <-s.sinkCh:
			if err := s.sink.PublishEvent(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
				s.log.WithError(err).WithField("kind", ev.Kind).Warn("Event sink publish failed.")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) limiter(vehicleID string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	l, ok := s.limiters[vehicleID]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[vehicleID] = l
	}
	return l
}

func (s *Service) vehicleLock(vehicleID string) *sync.Mutex {
	s.vehicleMu.Lock()
	defer s.vehicleMu.Unlock()
	mu, ok := s.perV[vehicleID]
	if !ok {
		mu = &sync.Mutex{}
		s.perV[vehicleID] = mu
	}
	return mu
}
