package geo

import (
	"math"
	"testing"
)

func TestHaversineMeters(t *testing.T) {
	// One degree of latitude is about 111.2 km anywhere on the globe.
	a := Point{Lat: -1.0, Lng: 36.8}
	b := Point{Lat: 0.0, Lng: 36.8}
	d := HaversineMeters(a, b)
	if math.Abs(d-111195) > 200 {
		t.Errorf("expected ~111195m for one degree of latitude, got %f", d)
	}

	if d := HaversineMeters(a, a); d != 0 {
		t.Errorf("distance to self should be 0, got %f", d)
	}
}

func TestValidateRingClosesOpenRing(t *testing.T) {
	ring, err := ValidateRing([][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ring) != 5 {
		t.Fatalf("expected implicit closing vertex, got %d vertices", len(ring))
	}
	if ring[0] != ring[len(ring)-1] {
		t.Error("ring is not closed")
	}
}

func TestValidateRingKeepsClosedRing(t *testing.T) {
	in := [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 0}}
	ring, err := ValidateRing(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ring) != 4 {
		t.Fatalf("expected ring unchanged, got %d vertices", len(ring))
	}
}

func TestValidateRingRejectsTooFewVertices(t *testing.T) {
	cases := [][][2]float64{
		nil,
		{{0, 0}},
		{{0, 0}, {1, 1}},
		{{0, 0}, {1, 1}, {0, 0}}, // two distinct
	}
	for i, vertices := range cases {
		if _, err := ValidateRing(vertices); err == nil {
			t.Errorf("case %d: expected error for degenerate ring", i)
		}
	}
}

func TestValidateRingRejectsSelfIntersection(t *testing.T) {
	// Bowtie: edges (0,0)-(1,1) and (1,0)-(0,1) cross.
	bowtie := [][2]float64{{0, 0}, {1, 1}, {1, 0}, {0, 1}}
	if _, err := ValidateRing(bowtie); err == nil {
		t.Error("expected self-intersection error for bowtie ring")
	}
}

func TestPointInRingEdgeInclusive(t *testing.T) {
	ring := [][2]float64{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}

	tests := []struct {
		name   string
		x, y   float64
		inside bool
	}{
		{"center", 5, 5, true},
		{"outside", 15, 5, false},
		{"on edge", 10, 5, true},
		{"on vertex", 0, 0, true},
		{"just outside edge", 10.001, 5, false},
	}
	for _, tc := range tests {
		if got := pointInRing(tc.x, tc.y, ring); got != tc.inside {
			t.Errorf("%s: pointInRing(%f, %f) = %v, want %v", tc.name, tc.x, tc.y, got, tc.inside)
		}
	}
}

func TestPointInRingConcave(t *testing.T) {
	// A "U" shape; the notch between the arms is outside.
	ring := [][2]float64{
		{0, 0}, {10, 0}, {10, 10}, {7, 10}, {7, 3}, {3, 3}, {3, 10}, {0, 10}, {0, 0},
	}
	if pointInRing(5, 6, ring) {
		t.Error("point in the notch should be outside")
	}
	if !pointInRing(1, 6, ring) {
		t.Error("point in the left arm should be inside")
	}
	if !pointInRing(5, 1, ring) {
		t.Error("point in the base should be inside")
	}
}

func TestProjectRoundsTripNearOrigin(t *testing.T) {
	origin := Point{Lat: -1.28, Lng: 36.82} // Nairobi CBD
	p := Point{Lat: -1.29, Lng: 36.83}
	x, y := project(origin, p)
	// ~1.11 km south, ~1.11 km east (scaled by cos lat).
	if math.Abs(y-(-1113.2)) > 5 {
		t.Errorf("unexpected projected y: %f", y)
	}
	if x <= 0 || math.Abs(x-1113.2*math.Cos(toRad(origin.Lat))) > 5 {
		t.Errorf("unexpected projected x: %f", x)
	}
}
