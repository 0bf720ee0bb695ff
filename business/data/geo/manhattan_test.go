package geo

import (
	"math/rand"
	"testing"
)

func TestManhattanGetRandPosRespectsWeights(t *testing.T) {
	weights := []ZoneWeight{
		{Center: Position{Lat: 40.75, Long: -73.98}, Weight: 1},
		{Center: Position{Lat: 40.76, Long: -73.97}, Weight: 0},
		{Center: Position{Lat: 40.77, Long: -73.96}, Weight: 3},
	}
	m := NewManhattan(weights, DefaultManhattanBoundingBox)

	rng := rand.New(rand.NewSource(42))
	counts := map[Position]int{}
	for i := 0; i < 1000; i++ {
		counts[m.GetRandPos(rng)]++
	}
	if counts[weights[1].Center] != 0 {
		t.Fatalf("zero-weight zone was sampled %d times, want 0", counts[weights[1].Center])
	}
	if counts[weights[0].Center] == 0 || counts[weights[2].Center] == 0 {
		t.Fatalf("expected both positively-weighted zones to be sampled, got %v", counts)
	}
}

func TestInBox(t *testing.T) {
	box := BoundingBox{
		BottomLeft: Position{Lat: 40.70, Long: -74.02},
		TopRight:   Position{Lat: 40.88, Long: -73.91},
	}
	inside := Position{Lat: 40.76, Long: -73.98}
	outside := Position{Lat: 41.0, Long: -73.98}

	if !InBox(inside, box) {
		t.Fatalf("InBox(%v, box) = false, want true", inside)
	}
	if InBox(outside, box) {
		t.Fatalf("InBox(%v, box) = true, want false", outside)
	}
}
