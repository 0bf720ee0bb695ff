package sim

import (
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/OpenTransitTools/taxisim/business/data/geo"
)

// World is the simulation's clock, request queue, zone index, dispatcher and
// metrics. It is the sole owner of the request queue, dispatch queue and
// pickup list; the zone index is shared with taxi motion (business/sim's
// Taxi.Tick calls back into World.moveZone as taxis cross zone boundaries).
type World struct {
	Params    Params
	Manhattan *geo.Manhattan
	Ridesharing bool
	// LogTicks enables a per-tick timing/summary log line, mirroring the
	// original run()'s ENDTICK debug output.
	LogTicks bool

	Time time.Time

	Taxis []*Taxi
	zones map[geo.Zone][]*Taxi

	requestQueue []Request
	dispatchQueue []*PassengerGroup
	pickupList    []*PassengerGroup

	groupIDs *GroupIDGenerator

	// Metrics.
	NumRequests       int
	NumDropoffs       int
	NumTimeouts       int
	MeanDispatchTime  float64
	MeanPickupTime    float64
	MeanJourneyTime   float64

	rng *rand.Rand
	log *log.Logger
}

// NewWorld builds an empty World. If logger is nil, a default logger writing
// to stderr is used. If rng is nil, a new source seeded with 1 is used.
func NewWorld(params Params, manhattan *geo.Manhattan, ridesharing bool, logger *log.Logger, rng *rand.Rand) *World {
	if logger == nil {
		logger = log.New(os.Stderr, "world: ", log.LstdFlags)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &World{
		Params:      params,
		Manhattan:   manhattan,
		Ridesharing: ridesharing,
		zones:       make(map[geo.Zone][]*Taxi),
		groupIDs:    &GroupIDGenerator{},
		rng:         rng,
		log:         logger,
	}
}

// TimeoutPercent is the percentage of requests that have timed out.
func (w *World) TimeoutPercent() float64 {
	if w.NumRequests > 0 {
		return 100 * float64(w.NumTimeouts) / float64(w.NumRequests)
	}
	return 0
}

// MeanWaitTime is the mean total time a passenger spends waiting for a taxi
// to arrive: dispatch time plus pickup time.
func (w *World) MeanWaitTime() float64 {
	return w.MeanDispatchTime + w.MeanPickupTime
}

// DispatchQueueLen and PickupListLen expose queue lengths for the invariant
// num_requests = num_dropoffs + num_timeouts + |dispatch_queue| + |pickup_list|.
func (w *World) DispatchQueueLen() int { return len(w.dispatchQueue) }
func (w *World) PickupListLen() int    { return len(w.pickupList) }

// AddTaxi registers a taxi with the world and its zone index.
func (w *World) AddTaxi(t *Taxi) {
	w.zones[t.Zone()] = append(w.zones[t.Zone()], t)
	w.Taxis = append(w.Taxis, t)
}

// AddTaxis registers a slice of taxis.
func (w *World) AddTaxis(taxis []*Taxi) {
	for _, t := range taxis {
		w.AddTaxi(t)
	}
}

// AddRequests appends request tuples to the request queue. The caller must
// supply them already sorted by RequestTime; the world never re-sorts.
func (w *World) AddRequests(requests []Request) {
	w.requestQueue = append(w.requestQueue, requests...)
}

// AddRequest appends a single request tuple.
func (w *World) AddRequest(r Request) {
	w.requestQueue = append(w.requestQueue, r)
}

// Run advances the simulation tick by tick until the request queue is empty
// and every released request has either been dropped off or timed out.
func (w *World) Run() {
	runStart := time.Now()
	var meanTickTime float64
	var numTicks int
	for {
		tickStart := time.Now()
		w.Tick()
		if w.LogTicks {
			numTicks++
			tickTime := time.Since(tickStart).Seconds()
			meanTickTime += (tickTime - meanTickTime) / float64(numTicks)
			runTime := time.Since(runStart).Minutes()
			w.log.Printf("ENDTICK [%5.2fs|%5.2fs|%5.2fm] >> requests:%d dispatchq:%d pickupl:%d dropoffs:%d timeouts:%d (%.2f%%)",
				tickTime, meanTickTime, runTime, w.NumRequests, len(w.dispatchQueue), len(w.pickupList),
				w.NumDropoffs, w.NumTimeouts, w.TimeoutPercent())
		}
		if len(w.requestQueue) == 0 && w.NumRequests == w.NumDropoffs+w.NumTimeouts {
			break
		}
	}
}

// Tick advances the simulation by one Params.TickTime step: the clock moves
// forward, every taxi moves, newly-due requests are released, and the
// dispatcher runs.
func (w *World) Tick() {
	w.Time = w.Time.Add(w.Params.TickTime)
	for _, t := range w.Taxis {
		t.Tick(w)
	}
	w.loadRequests()
	w.dispatchTaxis()
}

// loadRequests releases every queued request whose time has arrived into the
// dispatch queue, in request_queue order.
func (w *World) loadRequests() {
	i := 0
	for i < len(w.requestQueue) && !w.requestQueue[i].RequestTime.After(w.Time) {
		i++
	}
	due := w.requestQueue[:i]
	w.requestQueue = w.requestQueue[i:]
	for _, r := range due {
		pg := NewPassengerGroup(w.groupIDs, w.Time, r.Size, r.SrcPos, r.DstPos, w.Params.RideshareMultiplier)
		w.dispatchQueue = append(w.dispatchQueue, pg)
		w.NumRequests++
	}
}

// dispatchTaxis walks a snapshot of the dispatch queue in FIFO order, timing
// out, reusing, assigning or splitting each group. See spec §4.4 "Dispatch
// policy".
func (w *World) dispatchTaxis() {
	// taxi and lastPG carry over between loop iterations exactly as in the
	// reference implementation: taxi is reassigned (possibly to nil) by
	// every search that isn't a group-reuse hit and cleared when a group
	// times out, so a stale assignment from more than one iteration back can
	// never be reused.
	var taxi *Taxi
	var lastPG *PassengerGroup

	queue := make([]*PassengerGroup, len(w.dispatchQueue))
	copy(queue, w.dispatchQueue)

	for _, pg := range queue {
		waitingTime := w.Time.Sub(pg.RequestTime)
		if waitingTime >= w.Params.Timeout {
			w.removeFromDispatchQueue(pg)
			w.updatePassengerMetrics(pg, true)
			taxi = nil
			continue
		}

		if taxi != nil && lastPG.GroupID == pg.GroupID && taxi.Capacity() >= pg.Size {
			// group-reuse shortcut: keep split halves together.
		} else {
			taxi = w.closestAvailableTaxi(pg)
		}

		if taxi != nil {
			taxi.AddPickupTask(pg)
			w.removeFromDispatchQueue(pg)
			w.pickupList = append(w.pickupList, pg)
			now := w.Time
			pg.DispatchTime = &now
			lastPG = pg
		} else if pg.Size >= w.Params.SplitSize && waitingTime >= w.Params.SplitTime {
			newPG := pg.Split(pg.Size / 2)
			w.insertBefore(pg, newPG)
			w.NumRequests++
		}
	}
}

func (w *World) removeFromDispatchQueue(pg *PassengerGroup) {
	for i, other := range w.dispatchQueue {
		if other == pg {
			w.dispatchQueue = append(w.dispatchQueue[:i], w.dispatchQueue[i+1:]...)
			return
		}
	}
}

// insertBefore inserts newPG at pg's current index in the dispatch queue, so
// the split half keeps the original's place in line.
func (w *World) insertBefore(pg, newPG *PassengerGroup) {
	for i, other := range w.dispatchQueue {
		if other == pg {
			w.dispatchQueue = append(w.dispatchQueue, nil)
			copy(w.dispatchQueue[i+1:], w.dispatchQueue[i:])
			w.dispatchQueue[i] = newPG
			return
		}
	}
	w.dispatchQueue = append(w.dispatchQueue, newPG)
}

func (w *World) removeFromPickupList(pg *PassengerGroup) {
	for i, other := range w.pickupList {
		if other == pg {
			w.pickupList = append(w.pickupList[:i], w.pickupList[i+1:]...)
			return
		}
	}
}

// moveZone relocates t from oldZone to newZone in the zone index. Called by
// Taxi.Tick when a taxi's position crosses a zone boundary.
func (w *World) moveZone(t *Taxi, oldZone, newZone geo.Zone) {
	taxis := w.zones[oldZone]
	for i, other := range taxis {
		if other == t {
			w.zones[oldZone] = append(taxis[:i], taxis[i+1:]...)
			break
		}
	}
	w.zones[newZone] = append(w.zones[newZone], t)
}

// candidate is a taxi eligible for dispatch along with its distance from the
// passenger group's source position.
type candidate struct {
	taxi     *Taxi
	distance float64
}

// closestAvailableTaxi searches pg's own zone and its eight neighbours for
// the closest available taxi. Returns nil if none is found.
func (w *World) closestAvailableTaxi(pg *PassengerGroup) *Taxi {
	var zoneCandidates []candidate
	for _, zone := range geo.GetNeighbouringZones(pg.SrcPos) {
		var c *candidate
		var instant bool
		if w.Ridesharing {
			c, instant = w.zoneCandidateRideshare(zone, pg)
		} else {
			c, instant = w.zoneCandidateNoRideshare(zone, pg)
		}
		if instant {
			return c.taxi
		}
		if c != nil {
			zoneCandidates = append(zoneCandidates, *c)
		}
	}
	if len(zoneCandidates) == 0 {
		return nil
	}
	best := zoneCandidates[0]
	for _, c := range zoneCandidates[1:] {
		if c.distance < best.distance {
			best = c
		}
	}
	return best.taxi
}

// zoneCandidateNoRideshare returns the closest eligible taxi in zone (no
// ridesharing), and whether it was found inside the instant-dispatch range.
// Within the instant band the FIRST eligible taxi encountered is returned
// without considering the rest of the zone (spec §4.4, §9 - a deliberate
// latency-avoiding shortcut, not a bug).
func (w *World) zoneCandidateNoRideshare(zone geo.Zone, pg *PassengerGroup) (*candidate, bool) {
	var best *candidate
	for _, t := range w.zones[zone] {
		if t.Capacity() < pg.Size {
			continue
		}
		if t.Status != StatusIdle && t.Status != StatusRepositioning {
			continue
		}
		dist := geo.Distance(pg.SrcPos, t.Position)
		if dist < w.Params.InstantDispatchRange() {
			return &candidate{taxi: t, distance: dist}, true
		}
		if best == nil || dist < best.distance {
			best = &candidate{taxi: t, distance: dist}
		}
	}
	return best, false
}

// withinRideshareDetour reports whether a dropoff-bound taxi whose direct
// remaining distance is d1 may detour to also serve a new pickup, given the
// combined distance d2 of taxi->pickup->original-destination.
func withinRideshareDetour(d1, d2, multiplier float64) bool {
	return d2 <= d1*multiplier
}

// zoneCandidateRideshare returns the closest eligible taxi in zone (with
// ridesharing), and whether it was found inside the instant-dispatch range.
// As each eligible candidate is appended the just-appended one is checked
// against the instant band - a closer candidate discovered later in the same
// scan is still preferred, unless the instant check already fired (spec §9
// open question; reproduced as specified).
func (w *World) zoneCandidateRideshare(zone geo.Zone, pg *PassengerGroup) (*candidate, bool) {
	var candidates []candidate
	for _, t := range w.zones[zone] {
		if t.Capacity() < pg.Size {
			continue
		}
		if t.Status != StatusIdle && t.Status != StatusRepositioning && t.Status != StatusDropoff {
			continue
		}

		distToTaxi := geo.Distance(pg.SrcPos, t.Position)
		if t.Status == StatusDropoff {
			dest, ok := t.Destination()
			if !ok {
				continue
			}
			d1 := geo.Distance(t.Position, dest)
			d2 := distToTaxi + geo.Distance(pg.SrcPos, dest)
			if !withinRideshareDetour(d1, d2, w.Params.RideshareMultiplier) {
				continue
			}
			path := append([]geo.Position{pg.SrcPos}, t.Destinations()...)
			path = append(path, pg.DstPos)
			rsDist := geo.TotalDistance(path...)
			if rsDist > pg.RSDistanceLimit {
				continue
			}
		}
		candidates = append(candidates, candidate{taxi: t, distance: distToTaxi})
		if candidates[len(candidates)-1].distance < w.Params.InstantDispatchRange() {
			last := candidates[len(candidates)-1]
			return &last, true
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.distance < best.distance {
			best = c
		}
	}
	return &best, false
}

// updatePassengerMetrics folds pg's outcome - dropoff or timeout - into the
// world's running-mean metrics. See spec §4.4 and DESIGN NOTES §9 for the
// asymmetric denominator between mean_dispatch_time and the other two means.
func (w *World) updatePassengerMetrics(pg *PassengerGroup, timeout bool) {
	if timeout {
		w.NumTimeouts++
		n := float64(w.NumTimeouts + w.NumDropoffs)
		timeoutMinutes := w.Params.Timeout.Minutes()
		w.MeanDispatchTime += (timeoutMinutes - w.MeanDispatchTime) / n
		return
	}

	w.NumDropoffs++
	n := float64(w.NumTimeouts + w.NumDropoffs)
	dispatchMinutes := pg.DispatchTime.Sub(pg.RequestTime).Minutes()
	pickupMinutes := pg.PickupTime.Sub(*pg.DispatchTime).Minutes()
	journeyMinutes := pg.DropoffTime.Sub(*pg.PickupTime).Minutes()

	w.MeanDispatchTime += (dispatchMinutes - w.MeanDispatchTime) / n
	w.MeanPickupTime += (pickupMinutes - w.MeanPickupTime) / float64(w.NumDropoffs)
	w.MeanJourneyTime += (journeyMinutes - w.MeanJourneyTime) / float64(w.NumDropoffs)
}

// ResetTaxis randomizes every taxi's position, rebuilds the zone index, and
// zeroes each taxi's distance accumulators. Learning tables, Size and
// PExplore are preserved. Per spec §9's open question, this does NOT clear
// task queues or passenger state: callers must ensure the previous day
// drained cleanly (World.Run's loop invariant guarantees this) before
// calling ResetTaxis, or reaching pickup/dropoff bookkeeping against a new
// day's clock will read stale PassengerGroup data.
func (w *World) ResetTaxis() {
	w.zones = make(map[geo.Zone][]*Taxi)
	for _, t := range w.Taxis {
		if len(t.Tasks) != 0 || t.NumPassengers != 0 || t.NumPendingPickups != 0 {
			w.log.Panicf("world: ResetTaxis: taxi %d has undrained state (tasks:%d passengers:%d pending:%d)",
				t.ID, len(t.Tasks), t.NumPassengers, t.NumPendingPickups)
		}
		t.ResetMotion()
		t.Position = w.Manhattan.GetRandPos(w.rng)
		w.zones[t.Zone()] = append(w.zones[t.Zone()], t)
	}
}

// ResetMetrics zeroes every world-level counter.
func (w *World) ResetMetrics() {
	w.NumRequests = 0
	w.NumDropoffs = 0
	w.NumTimeouts = 0
	w.MeanDispatchTime = 0
	w.MeanPickupTime = 0
	w.MeanJourneyTime = 0
}
