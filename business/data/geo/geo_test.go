package geo

import (
	"math"
	"testing"
)

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestDistanceIsSymmetric(t *testing.T) {
	a := Position{Lat: 40.7647, Long: -73.9732}
	b := Position{Lat: 40.7818, Long: -73.9714}

	if d1, d2 := Distance(a, b), Distance(b, a); !almostEqual(d1, d2, 1e-6) {
		t.Fatalf("Distance(a, b) = %v, Distance(b, a) = %v, want equal", d1, d2)
	}
}

func TestDistanceZeroForSamePoint(t *testing.T) {
	a := Position{Lat: 40.7647, Long: -73.9732}
	if d := Distance(a, a); !almostEqual(d, 0, 1e-6) {
		t.Fatalf("Distance(a, a) = %v, want 0", d)
	}
}

func TestTotalDistanceSumsLegs(t *testing.T) {
	a := Position{Lat: 40.7647, Long: -73.9732}
	b := Position{Lat: 40.7683, Long: -73.9812}
	c := Position{Lat: 40.7818, Long: -73.9714}

	got := TotalDistance(a, b, c)
	want := Distance(a, b) + Distance(b, c)
	if !almostEqual(got, want, 1e-6) {
		t.Fatalf("TotalDistance = %v, want %v", got, want)
	}
}

func TestInterpolatePositionEndpoints(t *testing.T) {
	a := Position{Lat: 40.7647, Long: -73.9732}
	b := Position{Lat: 40.7818, Long: -73.9714}

	start := InterpolatePosition(a, b, 0)
	if !almostEqual(start.Lat, a.Lat, 1e-6) || !almostEqual(start.Long, a.Long, 1e-6) {
		t.Fatalf("InterpolatePosition(a, b, 0) = %v, want %v", start, a)
	}

	full := InterpolatePosition(a, b, Distance(a, b))
	if !almostEqual(full.Lat, b.Lat, 1e-4) || !almostEqual(full.Long, b.Long, 1e-4) {
		t.Fatalf("InterpolatePosition(a, b, dist(a,b)) = %v, want %v", full, b)
	}
}

func TestGetZoneRoundTripsThroughCenter(t *testing.T) {
	z := Zone{Lat: 4071, Long: -7401}
	if got := GetZone(GetZoneCenter(z)); got != z {
		t.Fatalf("GetZone(GetZoneCenter(z)) = %v, want %v", got, z)
	}
}

func TestNeighbouringZonesStartsWithOwnZone(t *testing.T) {
	pos := Position{Lat: 40.713, Long: -74.005}
	zones := GetNeighbouringZones(pos)
	if len(zones) != 9 {
		t.Fatalf("len(GetNeighbouringZones) = %d, want 9", len(zones))
	}
	if zones[0] != GetZone(pos) {
		t.Fatalf("GetNeighbouringZones(pos)[0] = %v, want %v", zones[0], GetZone(pos))
	}
	seen := make(map[Zone]bool)
	for _, z := range zones {
		if seen[z] {
			t.Fatalf("GetNeighbouringZones produced duplicate zone %v", z)
		}
		seen[z] = true
	}
}

func TestGetZoneFloorsTowardNegativeInfinity(t *testing.T) {
	// -74.005 * 100 = -7400.5, should floor to -7401, not truncate to -7400.
	pos := Position{Lat: 40.713, Long: -74.005}
	zone := GetZone(pos)
	if zone.Long != -7401 {
		t.Fatalf("GetZone(%v).Long = %d, want -7401", pos, zone.Long)
	}
}
