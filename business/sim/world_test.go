package sim

import (
	"math/rand"
	"testing"
	"time"

	"github.com/OpenTransitTools/taxisim/business/data/geo"
)

func testManhattan() *geo.Manhattan {
	return geo.NewManhattan([]geo.ZoneWeight{
		{Center: geo.Position{Lat: 40.75, Long: -73.98}, Weight: 1},
	}, geo.DefaultManhattanBoundingBox)
}

func newTestWorld(ridesharing bool) *World {
	return NewWorld(DefaultParams(), testManhattan(), ridesharing, nil, rand.New(rand.NewSource(1)))
}

// Scenario 1: single request, adjacent taxi.
func TestSingleRequestAdjacentTaxiIsDispatchedAndDroppedOff(t *testing.T) {
	w := newTestWorld(true)
	w.Time = time.Date(2016, 2, 1, 8, 0, 0, 0, time.UTC)

	taxi := NewTaxi(1, 4, geo.Position{Lat: 40.7647, Long: -73.9732}, 16)
	w.AddTaxi(taxi)

	w.AddRequest(Request{
		RequestTime: w.Time.Add(time.Minute),
		Size:        1,
		SrcPos:      geo.Position{Lat: 40.7683, Long: -73.9812},
		DstPos:      geo.Position{Lat: 40.7818, Long: -73.9714},
	})

	w.Run()

	if w.NumTimeouts != 0 {
		t.Fatalf("NumTimeouts = %d, want 0", w.NumTimeouts)
	}
	if w.NumDropoffs != 1 {
		t.Fatalf("NumDropoffs = %d, want 1", w.NumDropoffs)
	}
	if w.DispatchQueueLen() != 0 || w.PickupListLen() != 0 {
		t.Fatalf("queues not drained: dispatch=%d pickup=%d", w.DispatchQueueLen(), w.PickupListLen())
	}
}

// Scenario 2: timeout with an empty fleet.
func TestEmptyFleetTimesOutAfterTimeoutMinutes(t *testing.T) {
	w := newTestWorld(false)
	w.Time = time.Date(2016, 2, 1, 8, 0, 0, 0, time.UTC)

	w.AddRequest(Request{
		RequestTime: w.Time.Add(time.Minute),
		Size:        1,
		SrcPos:      geo.Position{Lat: 40.7683, Long: -73.9812},
		DstPos:      geo.Position{Lat: 40.7818, Long: -73.9714},
	})

	w.Run()

	if w.NumTimeouts != 1 {
		t.Fatalf("NumTimeouts = %d, want 1", w.NumTimeouts)
	}
	if w.NumDropoffs != 0 {
		t.Fatalf("NumDropoffs = %d, want 0", w.NumDropoffs)
	}
	if w.MeanDispatchTime != 10.0 {
		t.Fatalf("MeanDispatchTime = %v, want 10.0", w.MeanDispatchTime)
	}
	if w.MeanPickupTime != 0 {
		t.Fatalf("MeanPickupTime = %v, want 0", w.MeanPickupTime)
	}
}

// Scenario 3: a group too large for the fleet splits after SPLIT_TIME of
// unfulfilled waiting.
func TestOversizedGroupSplitsAfterSplitTime(t *testing.T) {
	w := newTestWorld(false)
	w.Time = time.Date(2016, 2, 1, 8, 0, 0, 0, time.UTC)

	taxi := NewTaxi(1, 3, geo.Position{Lat: 40.7647, Long: -73.9732}, 16)
	w.AddTaxi(taxi)

	w.AddRequest(Request{
		RequestTime: w.Time.Add(time.Minute),
		Size:        4,
		SrcPos:      geo.Position{Lat: 40.7647, Long: -73.9732},
		DstPos:      geo.Position{Lat: 40.7818, Long: -73.9714},
	})

	w.Run()

	// Original size-4 group cannot fit a 3-seat taxi: it must have split
	// into two size-2 halves, so NumRequests grew by one beyond the single
	// incoming request. The taxi can only ever bind one half (after taking
	// half #1, its remaining capacity of 1 is below the other half's size
	// of 2), and dst sits too far from src for the taxi to return to the
	// waiting half before it times out, so exactly one half is dropped off
	// and the other times out.
	if w.NumRequests != 2 {
		t.Fatalf("NumRequests = %d, want 2 (original request + one split)", w.NumRequests)
	}
	if w.NumDropoffs != 1 {
		t.Fatalf("NumDropoffs = %d, want 1", w.NumDropoffs)
	}
	if w.NumTimeouts != 1 {
		t.Fatalf("NumTimeouts = %d, want 1", w.NumTimeouts)
	}
}

// Scenario 5: instant dispatch band returns the first-encountered candidate,
// not necessarily the closest.
func TestInstantDispatchReturnsFirstEncounteredNotClosest(t *testing.T) {
	w := newTestWorld(false)
	src := geo.Position{Lat: 40.75, Long: -73.98}

	// Default params give an instant-dispatch range of ~201m; both taxis
	// below are inside it, with the farther one inserted first.
	firstInserted := NewTaxi(1, 4, geo.InterpolatePosition(src, geo.Position{Lat: 40.90, Long: -73.98}, 150), 16)
	closerButLater := NewTaxi(2, 4, geo.InterpolatePosition(src, geo.Position{Lat: 40.90, Long: -73.98}, 50), 16)
	w.AddTaxi(firstInserted)
	w.AddTaxi(closerButLater)

	pg := &PassengerGroup{Size: 1, SrcPos: src}
	got := w.closestAvailableTaxi(pg)

	if got != firstInserted {
		t.Fatalf("closestAvailableTaxi returned taxi %d, want first-encountered taxi %d (insertion order, not closest)",
			got.ID, firstInserted.ID)
	}
}

// Scenario 4: ridesharing detour bound. d1=1000m; a combined detour of
// 1100m (== d1 * 1.1) is eligible, 1101m is not.
func TestRideshareDetourBoundAcceptsAtExactMultiplierAndRejectsJustOver(t *testing.T) {
	const d1 = 1000.0
	const multiplier = 1.1

	if !withinRideshareDetour(d1, 1100, multiplier) {
		t.Fatal("expected d2=1100 to be within the detour bound at d1=1000, multiplier=1.1")
	}
	if withinRideshareDetour(d1, 1101, multiplier) {
		t.Fatal("expected d2=1101 to exceed the detour bound at d1=1000, multiplier=1.1")
	}
}

// TestDropoffTaxiRideshareCandidacyHonorsDetourAndDistanceLimit exercises the
// full zone scan for a taxi mid-dropoff: it qualifies only when both the
// detour bound and the group's own rideshare distance limit are satisfied.
func TestDropoffTaxiRideshareCandidacyHonorsDetourAndDistanceLimit(t *testing.T) {
	w := newTestWorld(true)

	a := geo.Position{Lat: 40.75, Long: -73.98}
	b := geo.InterpolatePosition(a, geo.Position{Lat: 40.90, Long: -73.70}, 1000)

	taxi := NewTaxi(1, 4, a, 16)
	taxi.Status = StatusDropoff
	taxi.Tasks = []Task{{Target: b, Kind: TaskDropoff}}
	w.AddTaxi(taxi)

	pg := &PassengerGroup{
		Size:            1,
		SrcPos:          a,
		DstPos:          b,
		RSDistanceLimit: 1e9, // isolate the detour check from the rs_dist check
	}

	c, instant := w.zoneCandidateRideshare(taxi.Zone(), pg)
	if c == nil {
		t.Fatal("expected the dropoff-bound taxi to qualify: src/dst coincide with its own route")
	}
	_ = instant

	// A zero rideshare distance budget can never be satisfied.
	pg.RSDistanceLimit = 0
	c, _ = w.zoneCandidateRideshare(taxi.Zone(), pg)
	if c != nil {
		t.Fatal("expected no candidate when the group's rideshare distance limit is zero")
	}
}
