package geo

import (
	"math"
	"testing"
)

func TestHaversineIdentity(t *testing.T) {
	if d := HaversineMeters(33.5731, -7.5898, 33.5731, -7.5898); d != 0 {
		t.Fatalf("distance to self = %f, want 0", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Casablanca site, ~45 m offset.
	d := HaversineMeters(33.5735, -7.5899, 33.5731, -7.5898)
	if d < 40 || d > 50 {
		t.Fatalf("expected ~45m, got %f", d)
	}
}

func TestCheckGeofence(t *testing.T) {
	site := Site{Lat: 33.5731, Lon: -7.5898, BaseRadiusM: 100}
	tcs := []struct {
		name          string
		est           Estimate
		wantAccepted  bool
		wantTolerance float64
	}{
		{
			name:          "inside with confidence slack",
			est:           Estimate{Lat: 33.5735, Lon: -7.5899, ConfidenceM: 40},
			wantAccepted:  true,
			wantTolerance: 120,
		},
		{
			name:          "at the site itself",
			est:           Estimate{Lat: 33.5731, Lon: -7.5898, ConfidenceM: 0},
			wantAccepted:  true,
			wantTolerance: 100,
		},
		{
			name:          "well outside any tolerance",
			est:           Estimate{Lat: 33.60, Lon: -7.60, ConfidenceM: 40},
			wantAccepted:  false,
			wantTolerance: 120,
		},
		{
			name:          "slack is floored",
			est:           Estimate{Lat: 33.5731, Lon: -7.5898, ConfidenceM: 33},
			wantAccepted:  true,
			wantTolerance: 116, // 100 + floor(16.5)
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			res := CheckGeofence(tc.est, site)
			if res.Accepted != tc.wantAccepted {
				t.Fatalf("accepted = %v, want %v (distance %f, tolerance %f)",
					res.Accepted, tc.wantAccepted, res.DistanceM, res.ToleranceM)
			}
			if res.ToleranceM != tc.wantTolerance {
				t.Fatalf("tolerance = %f, want %f", res.ToleranceM, tc.wantTolerance)
			}
		})
	}
}

func TestCheckGeofenceToleranceNeverBelowBase(t *testing.T) {
	site := Site{Lat: 0, Lon: 0, BaseRadiusM: 50}
	res := CheckGeofence(Estimate{Lat: 0, Lon: 0, ConfidenceM: 0}, site)
	if res.ToleranceM < site.BaseRadiusM {
		t.Fatalf("tolerance %f below base radius %f", res.ToleranceM, site.BaseRadiusM)
	}
	if !res.Accepted {
		t.Fatalf("zero distance must always be accepted")
	}
}

func TestCheckGeofenceRejectsBeyondSlack(t *testing.T) {
	site := Site{Lat: 0, Lon: 0, BaseRadiusM: 100}
	// ~1112m north of the site; tolerance is 100 + 20 = 120.
	est := Estimate{Lat: 0.01, Lon: 0, ConfidenceM: 40}
	res := CheckGeofence(est, site)
	if res.Accepted {
		t.Fatalf("distance %f must exceed tolerance %f", res.DistanceM, res.ToleranceM)
	}
	if math.Abs(res.DistanceM-1112) > 10 {
		t.Fatalf("expected ~1112m, got %f", res.DistanceM)
	}
}
