package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"gorm.io/gorm"

	"fleettrack/internal/models"
)

type fakeCatalog struct {
	fences []models.Geofence
	zones  []models.AccidentZone
	err    error
}

func (f *fakeCatalog) ActiveGeofences(ctx context.Context) ([]models.Geofence, error) {
	return f.fences, f.err
}

func (f *fakeCatalog) ActiveGeofencesForTenant(ctx context.Context, tenantID string) ([]models.Geofence, error) {
	var out []models.Geofence
	for _, g := range f.fences {
		if g.TenantID == tenantID {
			out = append(out, g)
		}
	}
	return out, f.err
}

func (f *fakeCatalog) AccidentZones(ctx context.Context) ([]models.AccidentZone, error) {
	return f.zones, f.err
}

func circleFence(id uint, tenant string, lat, lng, radiusM float64) models.Geofence {
	return models.Geofence{
		Model:        gorm.Model{ID: id},
		TenantID:     tenant,
		Kind:         models.GeofenceCircle,
		CenterLat:    lat,
		CenterLng:    lng,
		RadiusM:      radiusM,
		AlertOnEntry: true,
		AlertOnExit:  true,
		Active:       true,
	}
}

func polygonFence(t *testing.T, id uint, tenant string, ring [][2]float64) models.Geofence {
	t.Helper()
	raw, err := json.Marshal(ring)
	if err != nil {
		t.Fatal(err)
	}
	return models.Geofence{
		Model:        gorm.Model{ID: id},
		TenantID:     tenant,
		Kind:         models.GeofencePolygon,
		Vertices:     raw,
		AlertOnEntry: true,
		Active:       true,
	}
}

func mustReload(t *testing.T, idx *Index) {
	t.Helper()
	if err := idx.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestIndexCircleContainment(t *testing.T) {
	cat := &fakeCatalog{fences: []models.Geofence{
		circleFence(1, "acme", -1.28, 36.82, 500),
	}}
	idx := NewIndex(cat)
	mustReload(t, idx)

	inside := idx.Containing("acme", Point{Lat: -1.281, Lng: 36.821})
	if len(inside) != 1 || inside[0].ID != 1 {
		t.Fatalf("expected hit on fence 1, got %v", inside)
	}
	if !inside[0].AlertOnEntry || !inside[0].AlertOnExit {
		t.Error("alert flags not carried through")
	}

	outside := idx.Containing("acme", Point{Lat: -1.30, Lng: 36.82})
	if len(outside) != 0 {
		t.Fatalf("expected no hit ~2km away, got %v", outside)
	}
}

func TestIndexPolygonContainment(t *testing.T) {
	// Roughly 1km square around the origin point.
	ring := [][2]float64{
		{36.815, -1.285}, {36.825, -1.285}, {36.825, -1.275}, {36.815, -1.275},
	}
	cat := &fakeCatalog{fences: []models.Geofence{polygonFence(t, 7, "acme", ring)}}
	idx := NewIndex(cat)
	mustReload(t, idx)

	if hits := idx.Containing("acme", Point{Lat: -1.28, Lng: 36.82}); len(hits) != 1 {
		t.Fatalf("expected containment in polygon, got %v", hits)
	}
	if hits := idx.Containing("acme", Point{Lat: -1.27, Lng: 36.82}); len(hits) != 0 {
		t.Fatalf("expected no containment north of polygon, got %v", hits)
	}
	// A point on the western edge counts as inside.
	if hits := idx.Containing("acme", Point{Lat: -1.28, Lng: 36.815}); len(hits) != 1 {
		t.Fatalf("expected edge point to be contained, got %v", hits)
	}
}

func TestIndexTenantIsolation(t *testing.T) {
	cat := &fakeCatalog{fences: []models.Geofence{
		circleFence(1, "acme", -1.28, 36.82, 500),
		circleFence(2, "globex", -1.28, 36.82, 500),
	}}
	idx := NewIndex(cat)
	mustReload(t, idx)

	p := Point{Lat: -1.28, Lng: 36.82}
	if hits := idx.Containing("acme", p); len(hits) != 1 || hits[0].ID != 1 {
		t.Fatalf("acme should only see fence 1, got %v", hits)
	}
	if hits := idx.Containing("globex", p); len(hits) != 1 || hits[0].ID != 2 {
		t.Fatalf("globex should only see fence 2, got %v", hits)
	}
	if hits := idx.Containing("unknown", p); hits != nil {
		t.Fatalf("unknown tenant should get empty result, got %v", hits)
	}
}

func TestIndexSkipsInvalidGeometry(t *testing.T) {
	bowtie := [][2]float64{{0, 0}, {1, 1}, {1, 0}, {0, 1}}
	cat := &fakeCatalog{fences: []models.Geofence{
		polygonFence(t, 1, "acme", bowtie),
		circleFence(2, "acme", -1.28, 36.82, 500),
	}}
	idx := NewIndex(cat)
	mustReload(t, idx)

	hits := idx.Containing("acme", Point{Lat: -1.28, Lng: 36.82})
	if len(hits) != 1 || hits[0].ID != 2 {
		t.Fatalf("valid fence should survive an invalid sibling, got %v", hits)
	}
}

func TestIndexHitsSortedByID(t *testing.T) {
	// Insert in reverse id order; hits must come back ascending.
	cat := &fakeCatalog{fences: []models.Geofence{
		circleFence(9, "acme", -1.28, 36.82, 800),
		circleFence(3, "acme", -1.28, 36.82, 800),
		circleFence(5, "acme", -1.28, 36.82, 800),
	}}
	idx := NewIndex(cat)
	mustReload(t, idx)

	hits := idx.Containing("acme", Point{Lat: -1.28, Lng: 36.82})
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i-1].ID >= hits[i].ID {
			t.Fatalf("hits not sorted by id: %v", hits)
		}
	}
}

func TestIndexGridPath(t *testing.T) {
	// Enough fences to trip the grid; a cluster around one point plus
	// far-away fences that must not appear in results.
	var fences []models.Geofence
	for i := uint(1); i <= 5; i++ {
		fences = append(fences, circleFence(i, "acme", -1.28, 36.82, 400))
	}
	for i := uint(6); i <= 12; i++ {
		fences = append(fences, circleFence(i, "acme", -4.0+float64(i)*0.1, 39.6, 400))
	}
	cat := &fakeCatalog{fences: fences}
	idx := NewIndex(cat)
	mustReload(t, idx)

	hits := idx.Containing("acme", Point{Lat: -1.28, Lng: 36.82})
	if len(hits) != 5 {
		t.Fatalf("expected the 5 clustered fences, got %v", hits)
	}
	for i, h := range hits {
		if h.ID != uint(i+1) {
			t.Fatalf("unexpected hit order: %v", hits)
		}
	}
	if hits := idx.Containing("acme", Point{Lat: 20, Lng: 100}); len(hits) != 0 {
		t.Fatalf("expected no hits far from all fences, got %v", hits)
	}
}

func TestIndexZoneRadius(t *testing.T) {
	cat := &fakeCatalog{zones: []models.AccidentZone{
		{ID: 1, Latitude: -1.28, Longitude: 36.82, Severity: models.SeverityHigh},         // 500m default
		{ID: 2, Latitude: -1.28, Longitude: 36.82, Severity: models.SeverityLow},          // 100m default
		{ID: 3, Latitude: -1.28, Longitude: 36.82, Severity: models.SeverityLow, RadiusM: 900}, // explicit override
	}}
	idx := NewIndex(cat)
	mustReload(t, idx)

	// ~330m east of the zones.
	p := Point{Lat: -1.28, Lng: 36.823}
	hits := idx.WithinRadius(p)
	if len(hits) != 2 {
		t.Fatalf("expected zones 1 and 3 to cover the point, got %v", hits)
	}
	for _, h := range hits {
		if h.Zone.ID == 2 {
			t.Error("low-severity zone should not cover a point 330m away")
		}
		if h.DistanceM < 300 || h.DistanceM > 360 {
			t.Errorf("zone %d: unexpected distance %f", h.Zone.ID, h.DistanceM)
		}
	}
}

func TestReloadTenantLeavesOthersAlone(t *testing.T) {
	cat := &fakeCatalog{fences: []models.Geofence{
		circleFence(1, "acme", -1.28, 36.82, 500),
		circleFence(2, "globex", -1.28, 36.82, 500),
	}}
	idx := NewIndex(cat)
	mustReload(t, idx)

	// Drop acme's fence from the catalog and reload only acme.
	cat.fences = cat.fences[1:]
	if err := idx.ReloadTenant(context.Background(), "acme"); err != nil {
		t.Fatalf("reload tenant: %v", err)
	}

	p := Point{Lat: -1.28, Lng: 36.82}
	if hits := idx.Containing("acme", p); len(hits) != 0 {
		t.Fatalf("acme fence should be gone, got %v", hits)
	}
	if hits := idx.Containing("globex", p); len(hits) != 1 {
		t.Fatalf("globex fence should survive, got %v", hits)
	}
}

func TestConcurrentTenantReloadsBothLand(t *testing.T) {
	cat := &fakeCatalog{fences: []models.Geofence{
		circleFence(1, "acme", -1.28, 36.82, 500),
		circleFence(2, "globex", -1.28, 36.82, 500),
	}}
	idx := NewIndex(cat)

	// Both tenants are loaded for the first time by concurrent reloads;
	// neither copy-and-swap may clobber the other's tenant.
	for round := 0; round < 50; round++ {
		idx.snap.Store(&snapshot{tenants: map[string]*tenantIndex{}})
		var wg sync.WaitGroup
		for _, tenant := range []string{"acme", "globex"} {
			wg.Add(1)
			go func(tenant string) {
				defer wg.Done()
				if err := idx.ReloadTenant(context.Background(), tenant); err != nil {
					t.Errorf("reload %s: %v", tenant, err)
				}
			}(tenant)
		}
		wg.Wait()

		p := Point{Lat: -1.28, Lng: 36.82}
		for _, tenant := range []string{"acme", "globex"} {
			if hits := idx.Containing(tenant, p); len(hits) != 1 {
				t.Fatalf("round %d: tenant %s lost its reload, got %v", round, tenant, hits)
			}
		}
	}
}

func TestReloadPropagatesCatalogError(t *testing.T) {
	cat := &fakeCatalog{err: fmt.Errorf("db down")}
	idx := NewIndex(cat)
	if err := idx.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	// The empty initial snapshot stays queryable.
	if hits := idx.Containing("acme", Point{}); hits != nil {
		t.Fatalf("expected empty result after failed reload, got %v", hits)
	}
}
