package models

import "testing"

func TestAccidentZoneWarningRadius(t *testing.T) {
	cases := []struct {
		name string
		zone AccidentZone
		want float64
	}{
		{"low default", AccidentZone{Severity: SeverityLow}, 100},
		{"medium default", AccidentZone{Severity: SeverityMedium}, 250},
		{"high default", AccidentZone{Severity: SeverityHigh}, 500},
		{"explicit radius wins", AccidentZone{Severity: SeverityHigh, RadiusM: 75}, 75},
		{"unknown severity falls back to low", AccidentZone{Severity: "extreme"}, 100},
	}
	for _, tc := range cases {
		if got := tc.zone.WarningRadiusM(); got != tc.want {
			t.Errorf("%s: WarningRadiusM() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTelemetryRecordValidate(t *testing.T) {
	ok := TelemetryRecord{Category: "fuel_level"}
	if err := ok.Validate(); err != nil {
		t.Errorf("fuel_level should validate: %v", err)
	}

	bad := TelemetryRecord{Category: "mood"}
	if err := bad.Validate(); err == nil {
		t.Error("unknown category must be rejected")
	}

	alert := TelemetryRecord{Category: "engine_temperature", Alert: true, AlertSeverity: TelemetrySeverityWarning}
	if err := alert.Validate(); err != nil {
		t.Errorf("warning severity should validate: %v", err)
	}

	badSeverity := TelemetryRecord{Category: "engine_temperature", Alert: true, AlertSeverity: "mild"}
	if err := badSeverity.Validate(); err == nil {
		t.Error("unknown alert severity must be rejected")
	}
}

func TestGeofenceVertexRoundTrip(t *testing.T) {
	ring := [][2]float64{{36.81, -1.29}, {36.83, -1.29}, {36.83, -1.27}}
	var g Geofence
	if err := g.SetVertexList(ring); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := g.VertexList()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != len(ring) || got[0] != ring[0] || got[2] != ring[2] {
		t.Fatalf("round trip mismatch: %v", got)
	}

	var empty Geofence
	if got, err := empty.VertexList(); err != nil || got != nil {
		t.Fatalf("empty vertices should yield (nil, nil), got (%v, %v)", got, err)
	}
}
