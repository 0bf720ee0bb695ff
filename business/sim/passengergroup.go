package sim

import (
	"time"

	"github.com/OpenTransitTools/taxisim/business/data/geo"
)

// GroupIDGenerator hands out stable, increasing PassengerGroup ids. Owned by
// a World rather than a process-wide counter, so that two simulations can run
// independently in the same process (spec.md DESIGN NOTES §9).
type GroupIDGenerator struct {
	next int64
}

// Next returns the next id, starting from 1.
func (g *GroupIDGenerator) Next() int64 {
	g.next++
	return g.next
}

// Request is an incoming passenger request tuple, as released from a
// pre-sorted external request file. The core never re-sorts these.
type Request struct {
	RequestTime time.Time
	Size        int
	SrcPos      geo.Position
	DstPos      geo.Position
}

// PassengerGroup is a group of passengers travelling together as a unit, from
// the moment their Request is released until dropoff or timeout.
type PassengerGroup struct {
	GroupID         int64
	RequestTime     time.Time
	Size            int
	SrcPos          geo.Position
	DstPos          geo.Position
	RSDistanceLimit float64

	// DispatchTime, PickupTime and DropoffTime are populated in order as
	// the group moves through dispatch, pickup and dropoff. Invariant: if
	// DropoffTime is set then all three are set, and
	// RequestTime <= DispatchTime <= PickupTime <= DropoffTime.
	DispatchTime *time.Time
	PickupTime   *time.Time
	DropoffTime  *time.Time
}

// NewPassengerGroup builds a PassengerGroup for a freshly released request.
// rideshareMultiplier scales the direct src->dst distance into the group's
// ridesharing detour budget.
func NewPassengerGroup(ids *GroupIDGenerator, requestTime time.Time, size int, srcPos, dstPos geo.Position,
	rideshareMultiplier float64) *PassengerGroup {
	return &PassengerGroup{
		GroupID:         ids.Next(),
		RequestTime:     requestTime,
		Size:            size,
		SrcPos:          srcPos,
		DstPos:          dstPos,
		RSDistanceLimit: geo.Distance(srcPos, dstPos) * rideshareMultiplier,
	}
}

// Split peels splitSize passengers off pg into a new PassengerGroup that
// shares pg's GroupID, RSDistanceLimit, and any timestamps already recorded.
// pg.Size is reduced by splitSize.
func (pg *PassengerGroup) Split(splitSize int) *PassengerGroup {
	newPG := &PassengerGroup{
		GroupID:         pg.GroupID,
		RequestTime:     pg.RequestTime,
		Size:            splitSize,
		SrcPos:          pg.SrcPos,
		DstPos:          pg.DstPos,
		RSDistanceLimit: pg.RSDistanceLimit,
		DispatchTime:    pg.DispatchTime,
		PickupTime:      pg.PickupTime,
		DropoffTime:     pg.DropoffTime,
	}
	pg.Size -= splitSize
	return newPG
}
