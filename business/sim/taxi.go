package sim

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/OpenTransitTools/taxisim/business/data/geo"
)

// Status identifies a taxi's current state.
type Status int

const (
	StatusIdle Status = iota
	StatusPickup
	StatusDropoff
	StatusRepositioning
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPickup:
		return "pickup"
	case StatusDropoff:
		return "dropoff"
	case StatusRepositioning:
		return "repositioning"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// TaskKind identifies the nature of a task in a taxi's task queue.
type TaskKind int

const (
	TaskPickup TaskKind = iota
	TaskDropoff
	TaskReposition
)

func (k TaskKind) String() string {
	switch k {
	case TaskPickup:
		return "pickup"
	case TaskDropoff:
		return "dropoff"
	case TaskReposition:
		return "reposition"
	default:
		return fmt.Sprintf("TaskKind(%d)", int(k))
	}
}

// Task is a single entry in a taxi's task queue: move to Target, then
// perform Kind. Group is nil for TaskReposition.
type Task struct {
	Target geo.Position
	Kind   TaskKind
	Group  *PassengerGroup
}

// Choice records whether a taxi's last size-change action was chosen by
// exploration or by exploiting its Q-table.
type Choice int

const (
	ChoiceNone Choice = iota
	ChoiceExplore
	ChoiceExploit
)

func (c Choice) String() string {
	switch c {
	case ChoiceExplore:
		return "explore"
	case ChoiceExploit:
		return "exploit"
	default:
		return "none"
	}
}

// QTable holds, for each taxi size, the three Q-values for actions
// {shrink(-1), hold(0), grow(+1)}, indexed 0, 1, 2.
type QTable struct {
	rows map[int][3]float64
}

// NewQTable builds a QTable seeded with the boundary rows: size 1 (where
// shrinking is illegal) is penalized at index 0, and maxSize (where growing
// is illegal) is penalized at index 2.
func NewQTable(maxSize int) *QTable {
	return &QTable{
		rows: map[int][3]float64{
			1:       {-1, 0, 0},
			maxSize: {0, 0, -1},
		},
	}
}

// Get returns the Q-values for state, seeding an unseen state with zeros on
// first access.
func (q *QTable) Get(state int) [3]float64 {
	if row, ok := q.rows[state]; ok {
		return row
	}
	row := [3]float64{0, 0, 0}
	q.rows[state] = row
	return row
}

// Set stores the Q-values for state.
func (q *QTable) Set(state int, row [3]float64) {
	q.rows[state] = row
}

// Max returns the maximum Q-value for state.
func (q *QTable) Max(state int) float64 {
	row := q.Get(state)
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// SState is the Monte-Carlo running-mean bookkeeping for one taxi size in an
// STable: how many episodes have been observed at that size, and the running
// mean reward across them.
type SState struct {
	Count int
	Mean  float64
}

// STable tracks a running-mean-reward baseline per taxi size. It supports a
// Monte-Carlo comparison against the Q-learner; it never drives action
// selection.
type STable struct {
	rows map[int]SState
}

// NewSTable builds an empty STable.
func NewSTable() *STable {
	return &STable{rows: make(map[int]SState)}
}

// Update folds reward r into the running mean for state, incrementing its
// visit count.
func (s *STable) Update(state int, r float64) {
	prev, ok := s.rows[state]
	if !ok {
		s.rows[state] = SState{Count: 1, Mean: r}
		return
	}
	n := prev.Count + 1
	mean := prev.Mean + (r-prev.Mean)/float64(n)
	s.rows[state] = SState{Count: n, Mean: mean}
}

// Get returns the SState recorded for state, and whether one has been
// recorded yet.
func (s *STable) Get(state int) (SState, bool) {
	v, ok := s.rows[state]
	return v, ok
}

// MarshalJSON and UnmarshalJSON let a QTable round-trip through fleetstore's
// jsonb columns without exposing its internal map.
func (q *QTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.rows)
}

func (q *QTable) UnmarshalJSON(b []byte) error {
	var rows map[int][3]float64
	if err := json.Unmarshal(b, &rows); err != nil {
		return err
	}
	q.rows = rows
	return nil
}

// MarshalJSON and UnmarshalJSON let an STable round-trip through fleetstore's
// jsonb columns without exposing its internal map.
func (s *STable) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.rows)
}

func (s *STable) UnmarshalJSON(b []byte) error {
	var rows map[int]SState
	if err := json.Unmarshal(b, &rows); err != nil {
		return err
	}
	s.rows = rows
	return nil
}

// Taxi is a single vehicle in the fleet: its physical state machine, task
// queue, and per-taxi reinforcement-learning bookkeeping.
type Taxi struct {
	ID       int
	Size     int
	Position geo.Position
	Status   Status

	NumPassengers     int
	NumPendingPickups int

	TotalDist    float64
	WeightedDist float64

	Tasks []Task

	PExplore    float64
	QTable      *QTable
	STable      *STable
	LastState   int
	LastAction  int
	LastChoice  Choice

	// EnableTrace turns on per-tick position logging while the taxi has a
	// task, mirroring the original implementation's opt-in `logging` flag
	// used to feed its plotting scripts (out of scope here; the trace is
	// only ever written to log, never plotted). Pickups and dropoffs are
	// not traced.
	EnableTrace bool
}

// NewTaxi builds a Taxi at position with the given initial size, seeding its
// Q-table against maxSize.
func NewTaxi(id int, size int, position geo.Position, maxSize int) *Taxi {
	return &Taxi{
		ID:       id,
		Size:     size,
		Position: position,
		Status:   StatusIdle,
		PExplore: 1,
		QTable:   NewQTable(maxSize),
		STable:   NewSTable(),
	}
}

// MakeTaxis builds n taxis of the given initial size, each placed at a
// weighted-random zone center drawn from manhattan. Mirrors spec.md §6's
// taxi factory (make_taxis in the original).
func MakeTaxis(n, size, maxSize int, manhattan *geo.Manhattan, rng *rand.Rand) []*Taxi {
	taxis := make([]*Taxi, n)
	for i := 0; i < n; i++ {
		taxis[i] = NewTaxi(i+1, size, manhattan.GetRandPos(rng), maxSize)
	}
	return taxis
}

func (t *Taxi) String() string {
	dst := "none"
	if len(t.Tasks) > 0 {
		dst = fmt.Sprintf("%v", t.Tasks[0].Target)
	}
	return fmt.Sprintf("T%d %s %d/%d pos%v -> dst%s", t.ID, t.Status, t.NumPassengers, t.Size, t.Position, dst)
}

// Destination returns the target of the head task, or false if idle.
func (t *Taxi) Destination() (geo.Position, bool) {
	if len(t.Tasks) == 0 {
		return geo.Position{}, false
	}
	return t.Tasks[0].Target, true
}

// Destinations returns the targets of every queued task, in order.
func (t *Taxi) Destinations() []geo.Position {
	out := make([]geo.Position, len(t.Tasks))
	for i, task := range t.Tasks {
		out[i] = task.Target
	}
	return out
}

// Zone returns the zone containing the taxi's current position.
func (t *Taxi) Zone() geo.Zone {
	return geo.GetZone(t.Position)
}

// Reward is the passenger-weighted distance ratio driving the Q-learning
// signal: 0 if the taxi has not moved, otherwise in [0, Size]. Each metre is
// weighted by NumPassengers squared over Size, so a metre driven full
// contributes Size.
func (t *Taxi) Reward() float64 {
	if t.TotalDist > 0 {
		return t.WeightedDist / t.TotalDist
	}
	return 0
}

// Capacity is how many more passengers the taxi can currently accept.
func (t *Taxi) Capacity() int {
	return t.Size - t.NumPassengers - t.NumPendingPickups
}

// Tick advances the taxi by one simulation step: possibly starts
// repositioning if idle, then moves toward its head task, draining any tasks
// whose target has been reached. world supplies the current clock, the
// Manhattan position sampler, the zone index, and passenger metrics.
func (t *Taxi) Tick(w *World) {
	p := w.Params
	if t.Status == StatusIdle && w.rng.Float64() < p.RepoProb() {
		t.Tasks = append(t.Tasks, Task{Target: w.Manhattan.GetRandPos(w.rng), Kind: TaskReposition})
		t.Status = StatusRepositioning
	}

	if len(t.Tasks) == 0 {
		return
	}

	if t.EnableTrace {
		w.log.Printf("taxi %d trace: position %v", t.ID, t.Position)
	}

	oldZone := t.Zone()
	target := t.Tasks[0].Target
	dist := geo.Distance(t.Position, target)

	tickDist := p.TickDist()
	if dist <= tickDist {
		t.Position = target
		t.TotalDist += dist
		t.WeightedDist += t.weightedDist(dist)

		for len(t.Tasks) > 0 && t.Tasks[0].Target == target {
			task := t.Tasks[0]
			t.Tasks = t.Tasks[1:]
			switch task.Kind {
			case TaskPickup:
				t.pickup(task.Group, w)
			case TaskDropoff:
				t.dropoff(task.Group, w)
			case TaskReposition:
				// nothing further to do
			default:
				w.log.Panicf("taxi %d: unhandled task kind %v", t.ID, task.Kind)
			}
		}
	} else {
		t.TotalDist += tickDist
		t.WeightedDist += t.weightedDist(tickDist)
		t.Position = geo.InterpolatePosition(t.Position, target, tickDist)
	}

	if newZone := t.Zone(); newZone != oldZone {
		w.moveZone(t, oldZone, newZone)
	}

	if len(t.Tasks) > 0 {
		switch t.Tasks[0].Kind {
		case TaskDropoff:
			t.Status = StatusDropoff
		case TaskPickup:
			t.Status = StatusPickup
		case TaskReposition:
			t.Status = StatusRepositioning
		}
	} else {
		t.Status = StatusIdle
	}
}

func (t *Taxi) weightedDist(dist float64) float64 {
	weight := float64(t.NumPassengers) / float64(t.Size)
	return dist * float64(t.NumPassengers) * weight
}

func (t *Taxi) pickup(pg *PassengerGroup, w *World) {
	now := w.Time
	pg.PickupTime = &now
	t.NumPassengers += pg.Size
	t.NumPendingPickups -= pg.Size
	t.Tasks = append(t.Tasks, Task{Target: pg.DstPos, Kind: TaskDropoff, Group: pg})
	w.removeFromPickupList(pg)
}

func (t *Taxi) dropoff(pg *PassengerGroup, w *World) {
	now := w.Time
	pg.DropoffTime = &now
	t.NumPassengers -= pg.Size
	w.updatePassengerMetrics(pg, false)
}

// AddPickupTask binds pg to the taxi: if the taxi is currently
// repositioning, the reposition task is discarded; a pickup task for pg is
// pushed to the head of the queue. Only the dispatcher calls this.
func (t *Taxi) AddPickupTask(pg *PassengerGroup) {
	if t.Status == StatusRepositioning {
		t.Tasks = t.Tasks[1:]
	}
	t.Status = StatusPickup
	t.Tasks = append([]Task{{Target: pg.SrcPos, Kind: TaskPickup, Group: pg}}, t.Tasks...)
	t.NumPendingPickups += pg.Size
}

// ResetMotion zeroes the taxi's distance accumulators, used between training
// episodes. Learning tables, Size and PExplore are left untouched.
func (t *Taxi) ResetMotion() {
	t.TotalDist = 0
	t.WeightedDist = 0
}

// legalActions returns the size-change actions available to a taxi of the
// given size: {-1,0,+1} away from the boundaries, {0,+1} at size 1, and
// {-1,0} at maxSize.
func legalActions(size, maxSize int) []int {
	switch {
	case size <= 1:
		return []int{0, 1}
	case size >= maxSize:
		return []int{-1, 0}
	default:
		return []int{-1, 0, 1}
	}
}

// ChooseAction selects this episode's size-change action: with probability
// PExplore, uniformly among the legal actions; otherwise the greedy action
// from the Q-table, breaking ties uniformly. Records LastState, LastAction
// and LastChoice, then applies the action to Size.
func (t *Taxi) ChooseAction(rng *rand.Rand, maxSize int) {
	var action int
	if rng.Float64() < t.PExplore {
		t.LastChoice = ChoiceExplore
		actions := legalActions(t.Size, maxSize)
		action = actions[rng.Intn(len(actions))]
	} else {
		t.LastChoice = ChoiceExploit
		action = t.bestAction(rng)
	}
	t.LastState = t.Size
	t.LastAction = action
	t.Size += action
}

// bestAction returns the argmax action (-1, 0 or +1) over the Q-table row for
// the taxi's current size, breaking ties uniformly at random.
func (t *Taxi) bestAction(rng *rand.Rand) int {
	row := t.QTable.Get(t.Size)
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	var indices []int
	for i, v := range row {
		if v == max {
			indices = append(indices, i)
		}
	}
	return indices[rng.Intn(len(indices))] - 1
}

// UpdateQTable applies the Q-learning update for the action chosen at the
// start of the episode, using the taxi's current Reward and the max Q-value
// of the resulting state.
func (t *Taxi) UpdateQTable(p Params) {
	index := t.LastAction + 1
	row := t.QTable.Get(t.LastState)
	row[index] = (1-p.Alpha)*row[index] + p.Alpha*(t.Reward()+p.Gamma*t.QTable.Max(t.Size))
	t.QTable.Set(t.LastState, row)
}

// UpdateSTable folds this episode's Reward into the running-mean baseline
// for the taxi's current size.
func (t *Taxi) UpdateSTable() {
	t.STable.Update(t.Size, t.Reward())
}
