package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	geom "github.com/twpayne/go-geom"

	"fleettrack/internal/models"

	"github.com/sirupsen/logrus"
)

// CatalogSource supplies the operator-managed source of truth the index is
// rebuilt from.
type CatalogSource interface {
	ActiveGeofences(ctx context.Context) ([]models.Geofence, error)
	ActiveGeofencesForTenant(ctx context.Context, tenantID string) ([]models.Geofence, error)
	AccidentZones(ctx context.Context) ([]models.AccidentZone, error)
}

// FenceHit is one geofence containing a queried point.
type FenceHit struct {
	ID           uint
	AlertOnEntry bool
	AlertOnExit  bool
}

// ZoneHit is one accident zone whose warning radius covers a queried point.
type ZoneHit struct {
	Zone      models.AccidentZone
	DistanceM float64
}

type compiledFence struct {
	id           uint
	alertOnEntry bool
	alertOnExit  bool

	circle  bool
	center  Point
	radiusM float64

	// Polygon ring projected about its centroid, ready for ray casting.
	origin Point
	ring   [][2]float64

	// Axis-aligned bounding box in degrees for the grid prefilter.
	minLat, maxLat float64
	minLng, maxLng float64
}

func (f *compiledFence) contains(p Point) bool {
	if p.Lat < f.minLat || p.Lat > f.maxLat || p.Lng < f.minLng || p.Lng > f.maxLng {
		return false
	}
	if f.circle {
		return HaversineMeters(f.center, p) <= f.radiusM
	}
	x, y := project(f.origin, p)
	return pointInRing(x, y, f.ring)
}

// gridFlatScanLimit: below this many fences a flat scan beats the grid.
const gridFlatScanLimit = 8

type tenantIndex struct {
	fences []compiledFence // sorted by id

	useGrid bool
	cellLat float64
	cellLng float64
	cells   map[[2]int][]int
}

func buildTenantIndex(fences []compiledFence) *tenantIndex {
	sort.Slice(fences, func(i, j int) bool { return fences[i].id < fences[j].id })
	ti := &tenantIndex{fences: fences}
	if len(fences) < gridFlatScanLimit {
		return ti
	}

	// Cell size from the median bbox extent keeps cell occupancy low
	// without exploding the cell count for one oversized fence.
	latSpans := make([]float64, len(fences))
	lngSpans := make([]float64, len(fences))
	for i, f := range fences {
		latSpans[i] = f.maxLat - f.minLat
		lngSpans[i] = f.maxLng - f.minLng
	}
	sort.Float64s(latSpans)
	sort.Float64s(lngSpans)
	ti.cellLat = math.Max(latSpans[len(latSpans)/2], 1e-4)
	ti.cellLng = math.Max(lngSpans[len(lngSpans)/2], 1e-4)
	ti.cells = make(map[[2]int][]int)
	ti.useGrid = true

	for i, f := range fences {
		minR, maxR := int(math.Floor(f.minLat/ti.cellLat)), int(math.Floor(f.maxLat/ti.cellLat))
		minC, maxC := int(math.Floor(f.minLng/ti.cellLng)), int(math.Floor(f.maxLng/ti.cellLng))
		for r := minR; r <= maxR; r++ {
			for c := minC; c <= maxC; c++ {
				key := [2]int{r, c}
				ti.cells[key] = append(ti.cells[key], i)
			}
		}
	}
	return ti
}

func (ti *tenantIndex) containing(p Point) []FenceHit {
	var hits []FenceHit
	if !ti.useGrid {
		for i := range ti.fences {
			if ti.fences[i].contains(p) {
				f := &ti.fences[i]
				hits = append(hits, FenceHit{ID: f.id, AlertOnEntry: f.alertOnEntry, AlertOnExit: f.alertOnExit})
			}
		}
		return hits
	}
	key := [2]int{int(math.Floor(p.Lat / ti.cellLat)), int(math.Floor(p.Lng / ti.cellLng))}
	for _, i := range ti.cells[key] {
		if ti.fences[i].contains(p) {
			f := &ti.fences[i]
			hits = append(hits, FenceHit{ID: f.id, AlertOnEntry: f.alertOnEntry, AlertOnExit: f.alertOnExit})
		}
	}
	// Cell lists are built in fence order, so hits stay sorted by id.
	return hits
}

type compiledZone struct {
	zone    models.AccidentZone
	center  Point
	radiusM float64
}

type snapshot struct {
	tenants map[string]*tenantIndex
	zones   []compiledZone
}

// Index answers point-in-geofence and accident-zone-proximity queries from
// an immutable snapshot that background reloads swap in atomically. Queries
// never fail; an unknown tenant yields an empty result.
type Index struct {
	source CatalogSource
	log    *logrus.Entry
	snap   atomic.Pointer[snapshot]

	// Serializes the load-copy-store sequence of the reload paths so
	// concurrent mutations for different tenants cannot drop each
	// other's swap. Readers stay lock-free on the snapshot pointer.
	reloadMu sync.Mutex
}

func NewIndex(source CatalogSource) *Index {
	idx := &Index{
		source: source,
		log:    logrus.WithField("component", "spatial_index"),
	}
	idx.snap.Store(&snapshot{tenants: map[string]*tenantIndex{}})
	return idx
}

// Reload rebuilds the whole index from the catalog source and swaps it in.
func (idx *Index) Reload(ctx context.Context) error {
	idx.reloadMu.Lock()
	defer idx.reloadMu.Unlock()

	fences, err := idx.source.ActiveGeofences(ctx)
	if err != nil {
		return err
	}
	zones, err := idx.source.AccidentZones(ctx)
	if err != nil {
		return err
	}

	byTenant := make(map[string][]compiledFence)
	for i := range fences {
		cf, err := idx.compile(&fences[i])
		if err != nil {
			idx.log.WithError(err).WithFields(logrus.Fields{
				"geofence_id": fences[i].ID,
				"tenant_id":   fences[i].TenantID,
			}).Warn("Skipping geofence with invalid geometry.")
			continue
		}
		byTenant[fences[i].TenantID] = append(byTenant[fences[i].TenantID], cf)
	}

	next := &snapshot{tenants: make(map[string]*tenantIndex, len(byTenant))}
	for tenant, tf := range byTenant {
		next.tenants[tenant] = buildTenantIndex(tf)
	}
	next.zones = compileZones(zones)
	idx.snap.Store(next)

	idx.log.WithFields(logrus.Fields{
		"tenants":   len(next.tenants),
		"geofences": len(fences),
		"zones":     len(next.zones),
	}).Debug("Spatial index reloaded.")
	return nil
}

// ReloadTenant rebuilds a single tenant after a geofence mutation, leaving
// every other tenant's structure untouched.
func (idx *Index) ReloadTenant(ctx context.Context, tenantID string) error {
	idx.reloadMu.Lock()
	defer idx.reloadMu.Unlock()

	fences, err := idx.source.ActiveGeofencesForTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	var compiled []compiledFence
	for i := range fences {
		cf, err := idx.compile(&fences[i])
		if err != nil {
			idx.log.WithError(err).WithField("geofence_id", fences[i].ID).Warn("Skipping geofence with invalid geometry.")
			continue
		}
		compiled = append(compiled, cf)
	}

	cur := idx.snap.Load()
	next := &snapshot{tenants: make(map[string]*tenantIndex, len(cur.tenants)+1), zones: cur.zones}
	for k, v := range cur.tenants {
		next.tenants[k] = v
	}
	if len(compiled) == 0 {
		delete(next.tenants, tenantID)
	} else {
		next.tenants[tenantID] = buildTenantIndex(compiled)
	}
	idx.snap.Store(next)
	return nil
}

// ReloadZones swaps in a fresh accident-zone catalog after a batch replace.
func (idx *Index) ReloadZones(ctx context.Context) error {
	idx.reloadMu.Lock()
	defer idx.reloadMu.Unlock()

	zones, err := idx.source.AccidentZones(ctx)
	if err != nil {
		return err
	}
	cur := idx.snap.Load()
	idx.snap.Store(&snapshot{tenants: cur.tenants, zones: compileZones(zones)})
	return nil
}

// Containing returns every active geofence of the tenant containing the
// point, ordered by geofence id ascending.
func (idx *Index) Containing(tenantID string, p Point) []FenceHit {
	ti, ok := idx.snap.Load().tenants[tenantID]
	if !ok {
		return nil
	}
	return ti.containing(p)
}

// WithinRadius returns every accident zone whose warning radius covers the
// point, with the exact distance.
func (idx *Index) WithinRadius(p Point) []ZoneHit {
	var hits []ZoneHit
	for _, z := range idx.snap.Load().zones {
		d := HaversineMeters(z.center, p)
		if d <= z.radiusM {
			hits = append(hits, ZoneHit{Zone: z.zone, DistanceM: d})
		}
	}
	return hits
}

// RunRefresh rebuilds the index on the given interval until ctx ends.
func (idx *Index) RunRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := idx.Reload(ctx); err != nil {
				idx.log.WithError(err).Error("Periodic spatial index reload failed.")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (idx *Index) compile(g *models.Geofence) (compiledFence, error) {
	cf := compiledFence{
		id:           g.ID,
		alertOnEntry: g.AlertOnEntry,
		alertOnExit:  g.AlertOnExit,
	}
	switch g.Kind {
	case models.GeofenceCircle:
		cf.circle = true
		cf.center = Point{Lat: g.CenterLat, Lng: g.CenterLng}
		cf.radiusM = g.RadiusM
		dLat := g.RadiusM / metersPerDegreeLat
		dLng := g.RadiusM / (metersPerDegreeLat * math.Cos(toRad(g.CenterLat)))
		cf.minLat, cf.maxLat = g.CenterLat-dLat, g.CenterLat+dLat
		cf.minLng, cf.maxLng = g.CenterLng-dLng, g.CenterLng+dLng
		return cf, nil

	case models.GeofencePolygon:
		vertices, err := g.VertexList()
		if err != nil {
			return cf, err
		}
		ring, err := ValidateRing(vertices)
		if err != nil {
			return cf, err
		}
		cf.origin = ringCentroid(ring)
		cf.ring = make([][2]float64, len(ring))
		bounds := geom.NewBounds(geom.XY)
		for i, v := range ring {
			x, y := project(cf.origin, Point{Lat: v[1], Lng: v[0]})
			cf.ring[i] = [2]float64{x, y}
			bounds.Extend(geom.NewPointFlat(geom.XY, []float64{v[0], v[1]}))
		}
		cf.minLng, cf.minLat = bounds.Min(0), bounds.Min(1)
		cf.maxLng, cf.maxLat = bounds.Max(0), bounds.Max(1)
		return cf, nil
	}
	return cf, errUnknownKind(g.Kind)
}

func compileZones(zones []models.AccidentZone) []compiledZone {
	out := make([]compiledZone, 0, len(zones))
	for _, z := range zones {
		out = append(out, compiledZone{
			zone:    z,
			center:  Point{Lat: z.Latitude, Lng: z.Longitude},
			radiusM: z.WarningRadiusM(),
		})
	}
	return out
}

type errUnknownKind string

func (e errUnknownKind) Error() string { return "unknown geofence kind " + string(e) }
