// Package sim implements the discrete-time taxi fleet simulation core: the
// tick loop, the taxi state machine, the zone-indexed dispatcher, and the
// per-taxi Q-learning update.
package sim

import "time"

// Params holds the tunable simulation constants, and the quantities derived
// from them. Values default to the historical reference parameters; callers
// override fields directly before passing a Params to NewWorld.
type Params struct {
	// TickTime is the length of one simulation tick.
	TickTime time.Duration
	// TaxiSpeed is constant taxi travel speed in meters per second.
	TaxiSpeed float64
	// Timeout is how long a passenger group waits for dispatch before
	// timing out.
	Timeout time.Duration
	// MeanRepoTime is the mean time an idle taxi waits before repositioning.
	MeanRepoTime time.Duration
	// RideshareMultiplier bounds how much farther a shared ride may travel
	// relative to the direct distance.
	RideshareMultiplier float64
	// InstantDispatchRadius is the time radius within which every
	// candidate taxi counts as "the closest" for dispatch purposes.
	InstantDispatchRadius time.Duration
	// SplitSize is the minimum group size willing to split while waiting.
	SplitSize int
	// SplitTime is how long a splittable group waits before splitting.
	SplitTime time.Duration
	// Alpha is the Q-learning rate.
	Alpha float64
	// Gamma is the Q-learning discount rate.
	Gamma float64
	// MaxSize is the maximum taxi seating capacity.
	MaxSize int
}

// DefaultParams returns the historical reference parameter set.
func DefaultParams() Params {
	return Params{
		TickTime:              60 * time.Second,
		TaxiSpeed:             3.3571,
		Timeout:               10 * time.Minute,
		MeanRepoTime:          10 * time.Minute,
		RideshareMultiplier:   1.1,
		InstantDispatchRadius: time.Minute,
		SplitSize:             4,
		SplitTime:             5 * time.Minute,
		Alpha:                 0.25,
		Gamma:                 0.9,
		MaxSize:               16,
	}
}

// TickDist is the distance in meters a taxi can travel in one tick.
func (p Params) TickDist() float64 {
	return p.TaxiSpeed * p.TickTime.Seconds()
}

// InstantDispatchRange is the instant dispatch radius converted to meters.
func (p Params) InstantDispatchRange() float64 {
	return p.TaxiSpeed * p.InstantDispatchRadius.Seconds()
}

// RepoProb is the per-tick probability that an idle taxi starts
// repositioning.
func (p Params) RepoProb() float64 {
	return p.TickTime.Seconds() / p.MeanRepoTime.Seconds()
}
