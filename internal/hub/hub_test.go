package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleettrack/internal/models"
	"fleettrack/internal/track"
	"fleettrack/internal/wsproto"
)

type fakeTransport struct {
	mu       sync.Mutex
	frames   []any
	closed   bool
	writeErr error
}

func (f *fakeTransport) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) snapshot() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.frames))
	copy(out, f.frames)
	return out
}

// waitFrames polls until the transport has seen n frames or the deadline
// passes; delivery runs on the writer goroutine.
func waitFrames(t *testing.T, tr *fakeTransport, n int) []any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frames := tr.snapshot()
		if len(frames) >= n {
			return frames
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, have %d", n, len(tr.snapshot()))
	return nil
}

func testSample(tenant, vehicle string) *models.LocationSample {
	now := time.Now()
	return &models.LocationSample{
		TenantID:  tenant,
		VehicleID: vehicle,
		Latitude:  -1.28,
		Longitude: 36.82,
		DeviceTs:  now,
		ServerTs:  now,
	}
}

func TestPublishSampleAssignsMonotonicSeq(t *testing.T) {
	h := New(0, 0)
	tr := &fakeTransport{}
	c := h.Register(tr, Entitlement{TenantID: "acme"})
	defer h.Close(c)

	if err := h.Subscribe(c, wsproto.Scope{Kind: wsproto.ScopeTenant, ID: "acme"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if seq := h.PublishSample(testSample("acme", "veh-1")); seq != 1 {
		t.Errorf("first seq for veh-1 = %d, want 1", seq)
	}
	if seq := h.PublishSample(testSample("acme", "veh-2")); seq != 1 {
		t.Errorf("first seq for veh-2 = %d, want 1", seq)
	}
	if seq := h.PublishSample(testSample("acme", "veh-1")); seq != 2 {
		t.Errorf("second seq for veh-1 = %d, want 2", seq)
	}

	frames := waitFrames(t, tr, 3)
	var lastVeh1 uint64
	for _, f := range frames {
		smp, ok := f.(wsproto.Sample)
		if !ok {
			t.Fatalf("unexpected frame %T", f)
		}
		if smp.VehicleID == "veh-1" {
			if smp.Seq <= lastVeh1 {
				t.Fatalf("veh-1 seqs not increasing: %d after %d", smp.Seq, lastVeh1)
			}
			lastVeh1 = smp.Seq
		}
	}
}

func TestSubscribeTenantEntitlement(t *testing.T) {
	h := New(0, 0)
	c := h.Register(&fakeTransport{}, Entitlement{TenantID: "acme"})
	defer h.Close(c)

	err := h.Subscribe(c, wsproto.Scope{Kind: wsproto.ScopeTenant, ID: "globex"})
	var perr *wsproto.ProtocolError
	if !errors.As(err, &perr) || perr.Code != wsproto.CodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %v", err)
	}

	admin := h.Register(&fakeTransport{}, Entitlement{TenantID: "ops", Admin: true})
	defer h.Close(admin)
	if err := h.Subscribe(admin, wsproto.Scope{Kind: wsproto.ScopeTenant, ID: "globex"}); err != nil {
		t.Fatalf("admin subscribe should succeed, got %v", err)
	}
}

func TestDeliveryFiltersForeignTenant(t *testing.T) {
	h := New(0, 0)
	tr := &fakeTransport{}
	c := h.Register(tr, Entitlement{TenantID: "acme"})
	defer h.Close(c)

	// Without an ownership directory vehicle scopes are opaque at
	// subscribe time; a foreign tenant's vehicle with the same id must
	// still be filtered out on delivery.
	if err := h.Subscribe(c, wsproto.Scope{Kind: wsproto.ScopeVehicle, ID: "veh-1"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	h.PublishSample(testSample("globex", "veh-1"))
	h.PublishSample(testSample("acme", "veh-1"))

	frames := waitFrames(t, tr, 1)
	time.Sleep(20 * time.Millisecond)
	frames = tr.snapshot()
	if len(frames) != 1 {
		t.Fatalf("expected exactly the acme sample, got %d frames", len(frames))
	}
	if smp := frames[0].(wsproto.Sample); smp.TenantID != "acme" {
		t.Fatalf("delivered wrong tenant's sample: %+v", smp)
	}
}

func TestMatchUnionWithoutDuplicates(t *testing.T) {
	h := New(0, 0)
	tr := &fakeTransport{}
	c := h.Register(tr, Entitlement{TenantID: "acme"})
	defer h.Close(c)

	for _, scope := range []wsproto.Scope{
		{Kind: wsproto.ScopeTenant, ID: "acme"},
		{Kind: wsproto.ScopeVehicle, ID: "veh-1"},
		{Kind: wsproto.ScopeShipment, ID: "ship-9"},
	} {
		if err := h.Subscribe(c, scope); err != nil {
			t.Fatalf("subscribe %v: %v", scope, err)
		}
	}

	smp := testSample("acme", "veh-1")
	smp.ShipmentID = "ship-9"
	h.PublishSample(smp)

	waitFrames(t, tr, 1)
	time.Sleep(20 * time.Millisecond)
	if frames := tr.snapshot(); len(frames) != 1 {
		t.Fatalf("sample matched three scopes but must be delivered once, got %d", len(frames))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New(0, 0)
	tr := &fakeTransport{}
	c := h.Register(tr, Entitlement{TenantID: "acme"})
	defer h.Close(c)

	scope := wsproto.Scope{Kind: wsproto.ScopeTenant, ID: "acme"}
	if err := h.Subscribe(c, scope); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	h.PublishSample(testSample("acme", "veh-1"))
	waitFrames(t, tr, 1)

	h.Unsubscribe(c, scope)
	h.PublishSample(testSample("acme", "veh-1"))
	time.Sleep(20 * time.Millisecond)
	if frames := tr.snapshot(); len(frames) != 1 {
		t.Fatalf("expected no delivery after unsubscribe, got %d frames", len(frames))
	}
}

func TestPublishEventCarriesFields(t *testing.T) {
	h := New(0, 0)
	tr := &fakeTransport{}
	c := h.Register(tr, Entitlement{TenantID: "acme"})
	defer h.Close(c)

	if err := h.Subscribe(c, wsproto.Scope{Kind: wsproto.ScopeTenant, ID: "acme"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	h.PublishEvent(track.Event{
		Kind:      track.KindAccidentProximity,
		TenantID:  "acme",
		VehicleID: "veh-1",
		ZoneID:    9,
		DistanceM: 120,
		Severity:  models.SeverityHigh,
		At:        time.Now(),
	})

	frames := waitFrames(t, tr, 1)
	ev, ok := frames[0].(wsproto.Event)
	if !ok {
		t.Fatalf("unexpected frame %T", frames[0])
	}
	if ev.Type != wsproto.TypeEvent || ev.Kind != track.KindAccidentProximity ||
		ev.ZoneID != 9 || ev.DistanceM != 120 || ev.Severity != models.SeverityHigh {
		t.Fatalf("event fields wrong: %+v", ev)
	}
}

func TestCoalesceKeepsNewestSamplePerVehicle(t *testing.T) {
	c := &Conn{}
	mk := func(sample bool, vehicle string, payload any) outbound {
		return outbound{sample: sample, vehicleID: vehicle, payload: payload}
	}
	c.queue = []outbound{
		mk(true, "veh-1", "s1-old"),
		mk(true, "veh-2", "s2-old"),
		mk(false, "veh-1", "event-a"),
		mk(true, "veh-1", "s1-new"),
		mk(false, "", "ping"),
		mk(true, "veh-2", "s2-new"),
	}
	c.coalesceLocked()

	want := []any{"event-a", "s1-new", "ping", "s2-new"}
	if len(c.queue) != len(want) {
		t.Fatalf("queue after coalesce: %d entries, want %d", len(c.queue), len(want))
	}
	for i, m := range c.queue {
		if m.payload != want[i] {
			t.Fatalf("queue[%d] = %v, want %v", i, m.payload, want[i])
		}
	}
}

// gatedTransport blocks each WriteJSON until the gate opens and records
// whether two writes ever overlapped.
type gatedTransport struct {
	mu     sync.Mutex
	frames []any
	closed bool

	gate       chan struct{}
	inWrite    atomic.Int32
	concurrent atomic.Bool
}

func (g *gatedTransport) WriteJSON(v any) error {
	if g.inWrite.Add(1) > 1 {
		g.concurrent.Store(true)
	}
	<-g.gate
	g.mu.Lock()
	g.frames = append(g.frames, v)
	g.mu.Unlock()
	g.inWrite.Add(-1)
	return nil
}

func (g *gatedTransport) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *gatedTransport) snapshot() []any {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]any, len(g.frames))
	copy(out, g.frames)
	return out
}

func waitDone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the connection to be released")
	}
}

func TestSlowConsumerIsKilled(t *testing.T) {
	h := New(2, 4)
	tr := &gatedTransport{gate: make(chan struct{})}
	c := h.Register(tr, Entitlement{TenantID: "acme"})
	if err := h.Subscribe(c, wsproto.Scope{Kind: wsproto.ScopeTenant, ID: "acme"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Stall the writer mid-WriteJSON on the first sample.
	h.PublishSample(testSample("acme", "veh-1"))
	deadline := time.Now().Add(2 * time.Second)
	for tr.inWrite.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("writer never picked up the first sample")
		}
		time.Sleep(time.Millisecond)
	}

	// Events never coalesce, so the queue can only grow past the kill
	// threshold while the writer is stuck.
	for i := 0; i < 6; i++ {
		h.PublishEvent(track.Event{
			Kind:      track.KindGeofenceEntry,
			TenantID:  "acme",
			VehicleID: "veh-1",
			At:        time.Now(),
		})
	}
	if tr.concurrent.Load() {
		t.Fatal("the kill path wrote to the transport while the writer was mid-write")
	}
	if ok := c.SendControl(wsproto.Ping{Type: wsproto.TypePing}); ok {
		t.Error("offers after the kill must be rejected")
	}

	close(tr.gate)
	waitDone(t, c)

	if tr.concurrent.Load() {
		t.Error("transport saw overlapping writes")
	}
	frames := tr.snapshot()
	if len(frames) == 0 {
		t.Fatal("expected frames on the transport")
	}
	em, ok := frames[len(frames)-1].(wsproto.ErrorMsg)
	if !ok || em.Reason != wsproto.CodeSlowConsumer {
		t.Errorf("last frame = %+v, want a slow_consumer error", frames[len(frames)-1])
	}
	tr.mu.Lock()
	closed := tr.closed
	tr.mu.Unlock()
	if !closed {
		t.Error("transport should be closed")
	}
}

type fakeTenantLookup struct {
	owners map[string]string
}

func (f fakeTenantLookup) VehicleTenant(vehicleID string) (string, bool) {
	tenant, ok := f.owners[vehicleID]
	return tenant, ok
}

func TestSubscribeVehicleEntitlement(t *testing.T) {
	h := New(0, 0)
	h.SetTenantLookup(fakeTenantLookup{owners: map[string]string{
		"veh-acme":   "acme",
		"veh-globex": "globex",
	}})

	c := h.Register(&fakeTransport{}, Entitlement{TenantID: "acme"})
	defer h.Close(c)

	err := h.Subscribe(c, wsproto.Scope{Kind: wsproto.ScopeVehicle, ID: "veh-globex"})
	var perr *wsproto.ProtocolError
	if !errors.As(err, &perr) || perr.Code != wsproto.CodeUnauthorized {
		t.Fatalf("foreign vehicle subscribe: expected unauthorized, got %v", err)
	}
	if err := h.Subscribe(c, wsproto.Scope{Kind: wsproto.ScopeVehicle, ID: "veh-acme"}); err != nil {
		t.Fatalf("own vehicle subscribe: %v", err)
	}
	if err := h.Subscribe(c, wsproto.Scope{Kind: wsproto.ScopeVehicle, ID: "veh-unknown"}); err != nil {
		t.Fatalf("unknown vehicle subscribe should be allowed, got %v", err)
	}

	admin := h.Register(&fakeTransport{}, Entitlement{TenantID: "ops", Admin: true})
	defer h.Close(admin)
	if err := h.Subscribe(admin, wsproto.Scope{Kind: wsproto.ScopeVehicle, ID: "veh-globex"}); err != nil {
		t.Fatalf("admin vehicle subscribe should succeed, got %v", err)
	}
}

func TestShutdownSendsBye(t *testing.T) {
	h := New(0, 0)
	tr1, tr2 := &fakeTransport{}, &fakeTransport{}
	c1 := h.Register(tr1, Entitlement{TenantID: "acme"})
	c2 := h.Register(tr2, Entitlement{TenantID: "globex"})

	h.Shutdown()
	waitDone(t, c1)
	waitDone(t, c2)

	for i, tr := range []*fakeTransport{tr1, tr2} {
		tr.mu.Lock()
		byeSeen := false
		for _, f := range tr.frames {
			if _, ok := f.(wsproto.Bye); ok {
				byeSeen = true
			}
		}
		closed := tr.closed
		tr.mu.Unlock()
		if !byeSeen {
			t.Errorf("conn %d: expected a bye frame", i)
		}
		if !closed {
			t.Errorf("conn %d: expected transport closed", i)
		}
	}
}
