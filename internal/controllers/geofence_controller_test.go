package controllers

import (
	"testing"

	"fleettrack/internal/models"
)

func TestGeofenceInputValidateGeometry(t *testing.T) {
	active := true
	cases := []struct {
		name string
		in   geofenceInput
		ok   bool
	}{
		{
			"valid circle",
			geofenceInput{Name: "depot", Kind: models.GeofenceCircle, CenterLat: -1.28, CenterLng: 36.82, RadiusM: 250},
			true,
		},
		{
			"circle radius zero",
			geofenceInput{Name: "depot", Kind: models.GeofenceCircle, CenterLat: -1.28, CenterLng: 36.82},
			false,
		},
		{
			"circle center out of range",
			geofenceInput{Name: "depot", Kind: models.GeofenceCircle, CenterLat: 95, CenterLng: 36.82, RadiusM: 100},
			false,
		},
		{
			"valid polygon",
			geofenceInput{
				Name: "yard", Kind: models.GeofencePolygon, Active: &active,
				Vertices: [][2]float64{{36.81, -1.29}, {36.83, -1.29}, {36.83, -1.27}, {36.81, -1.27}},
			},
			true,
		},
		{
			"polygon too few vertices",
			geofenceInput{
				Name: "yard", Kind: models.GeofencePolygon,
				Vertices: [][2]float64{{36.81, -1.29}, {36.83, -1.29}},
			},
			false,
		},
		{
			"self-intersecting polygon",
			geofenceInput{
				Name: "yard", Kind: models.GeofencePolygon,
				Vertices: [][2]float64{{0, 0}, {1, 1}, {1, 0}, {0, 1}},
			},
			false,
		},
		{
			"unknown kind",
			geofenceInput{Name: "depot", Kind: "ellipse"},
			false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := tc.in.validateGeometry()
			if ok != tc.ok {
				t.Fatalf("validateGeometry() = (%q, %v), want ok=%v", msg, ok, tc.ok)
			}
			if !ok && msg == "" {
				t.Error("rejection must carry a message")
			}
		})
	}
}
