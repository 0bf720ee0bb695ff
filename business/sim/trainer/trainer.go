// Package trainer drives the multi-day Q-learning training loop of spec.md
// §4.5: one simulated day per run, an exploration schedule, and a
// fleet/episode-log snapshot at each run boundary so training can be halted
// and resumed across process restarts.
package trainer

import (
	"encoding/json"
	"fmt"
	logger "log"
	"math/rand"
	"sync"
	"time"

	"github.com/OpenTransitTools/taxisim/business/data/fleetstore"
	"github.com/OpenTransitTools/taxisim/business/data/geo"
	"github.com/OpenTransitTools/taxisim/business/sim"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
)

// Conf holds the tunable parameters of a training run, independent of the
// underlying simulation Params.
type Conf struct {
	MaxRuns        int
	NumTaxis       int
	InitialSize    int
	MaxTaxiSize    int
	Ridesharing    bool
	EpisodeSubject string
}

// EpisodeCompleted is published to NATS after every finished run, the way
// aggregator publishes a gtfs.TripUpdate after every completed prediction.
type EpisodeCompleted struct {
	RunNum         int     `json:"run_num"`
	Day            int     `json:"day"`
	Holiday        bool    `json:"holiday"`
	Requests       int     `json:"requests"`
	Timeouts       int     `json:"timeouts"`
	TimeoutPercent float64 `json:"timeout_percent"`
	MeanDispatch   float64 `json:"mean_dispatch"`
	MeanPickup     float64 `json:"mean_pickup"`
	MeanWait       float64 `json:"mean_wait"`
}

// Status is a point-in-time snapshot of training progress, read by the
// trainer's HTTP status surface.
type Status struct {
	RunNum  int               `json:"run_num"`
	MaxRuns int               `json:"max_runs"`
	Last    fleetstore.RunLog `json:"last_run"`
}

// Trainer owns the database connection, NATS publisher and holiday calendar
// used across every run of a training session.
type Trainer struct {
	log       *logger.Logger
	db        *sqlx.DB
	natsConn  *nats.Conn
	manhattan *geo.Manhattan
	params    sim.Params
	calendar  *holidayCalendar
	conf      Conf
	rng       *rand.Rand

	mu     sync.RWMutex
	status Status
}

// NewTrainer builds a Trainer. natsConn may be nil, in which case episode
// events are never published.
func NewTrainer(log *logger.Logger, db *sqlx.DB, natsConn *nats.Conn, manhattan *geo.Manhattan,
	params sim.Params, conf Conf, rng *rand.Rand) *Trainer {
	return &Trainer{
		log:       log,
		db:        db,
		natsConn:  natsConn,
		manhattan: manhattan,
		params:    params,
		calendar:  makeHolidayCalendar(),
		conf:      conf,
		rng:       rng,
		status:    Status{MaxRuns: conf.MaxRuns},
	}
}

// Init writes the run-0 fleet snapshot and log row that a training session
// resumes from, mirroring run_q_training_2000.py's init(). Callers must only
// call this once per database, before the first Run.
func (tr *Trainer) Init() error {
	fleet := sim.MakeTaxis(tr.conf.NumTaxis, tr.conf.InitialSize, tr.conf.MaxTaxiSize, tr.manhattan, tr.rng)
	if err := fleetstore.SaveFleetSnapshot(tr.db, 0, fleet); err != nil {
		return fmt.Errorf("trainer: initializing fleet snapshot: %w", err)
	}
	sizes, err := fleetstore.SizesHistogram(fleet)
	if err != nil {
		return fmt.Errorf("trainer: building initial size histogram: %w", err)
	}
	log := fleetstore.RunLog{RunNum: 0, Sizes: sizes, RecordedAt: time.Now()}
	if err := fleetstore.RecordRunLog(tr.db, log); err != nil {
		return fmt.Errorf("trainer: recording initial run log: %w", err)
	}
	return nil
}

// Status returns the most recently completed run's progress.
func (tr *Trainer) Status() Status {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.status
}

// RunLog returns the persisted log row for an arbitrary past run, for
// inspecting training history beyond the last completed run held in Status.
func (tr *Trainer) RunLog(runNum int) (*fleetstore.RunLog, error) {
	return fleetstore.GetRunLog(tr.db, runNum)
}

// cycleDay maps a run number to a day 1..29, the original's
// `run_num % 29 or 29`.
func cycleDay(runNum int) int {
	day := runNum % 29
	if day == 0 {
		day = 29
	}
	return day
}

// Run resumes training from the database's recorded run count and advances
// one day per run until conf.MaxRuns is reached or halt is signaled. halt is
// checked only at run boundaries, per spec.md §5's cooperative-halt model.
func (tr *Trainer) Run(requestsByDay map[int][]sim.Request, halt chan bool) error {
	runNum, err := fleetstore.GetRunCount(tr.db)
	if err != nil {
		return fmt.Errorf("trainer: fetching run count: %w", err)
	}
	fleet, err := fleetstore.LoadFleetSnapshot(tr.db, runNum, tr.conf.MaxTaxiSize)
	if err != nil {
		return fmt.Errorf("trainer: loading fleet snapshot for run %d: %w", runNum, err)
	}

	world := sim.NewWorld(tr.params, tr.manhattan, tr.conf.Ridesharing, tr.log, tr.rng)
	world.AddTaxis(fleet)

	tr.mu.Lock()
	tr.status.RunNum = runNum
	tr.mu.Unlock()

	for runNum < tr.conf.MaxRuns {
		select {
		case <-halt:
			tr.log.Printf("trainer: halting at run %d on signal", runNum)
			return nil
		default:
		}

		runNum++
		day := cycleDay(runNum)
		tr.log.Printf("trainer: run %d/%d day 2016-02-%02d", runNum, tr.conf.MaxRuns, day)

		world.Time = time.Date(2016, 2, day, 8, 0, 0, 0, time.UTC)
		world.ResetMetrics()
		world.ResetTaxis()
		world.AddRequests(requestsByDay[day])

		const delta = 1.0 / 500
		for _, taxi := range fleet {
			if runNum > 1000 && runNum <= 1500 {
				taxi.PExplore -= delta
			}
			taxi.ChooseAction(tr.rng, tr.conf.MaxTaxiSize)
		}

		world.Run()

		for _, taxi := range fleet {
			taxi.UpdateQTable(tr.params)
			taxi.UpdateSTable()
		}

		if err := fleetstore.SaveFleetSnapshot(tr.db, runNum, fleet); err != nil {
			return fmt.Errorf("trainer: saving fleet snapshot for run %d: %w", runNum, err)
		}

		sizes, err := fleetstore.SizesHistogram(fleet)
		if err != nil {
			return fmt.Errorf("trainer: building size histogram for run %d: %w", runNum, err)
		}
		runLog := fleetstore.RunLog{
			RunNum:         runNum,
			Day:            day,
			Holiday:        tr.calendar.isHoliday(world.Time),
			Requests:       world.NumRequests,
			Timeouts:       world.NumTimeouts,
			TimeoutPercent: world.TimeoutPercent(),
			MeanDispatch:   world.MeanDispatchTime,
			MeanPickup:     world.MeanPickupTime,
			MeanWait:       world.MeanWaitTime(),
			Sizes:          sizes,
			RecordedAt:     time.Now(),
		}
		if err := fleetstore.RecordRunLog(tr.db, runLog); err != nil {
			return fmt.Errorf("trainer: recording run log for run %d: %w", runNum, err)
		}

		tr.publishEpisode(runLog)
		tr.logSampleTaxi(fleet[0])

		tr.mu.Lock()
		tr.status.RunNum = runNum
		tr.status.Last = runLog
		tr.mu.Unlock()
	}
	tr.log.Printf("trainer: reached max_runs %d, stopping", tr.conf.MaxRuns)
	return nil
}

// publishEpisode sends an EpisodeCompleted event over NATS, mirroring
// aggregator's predictionPublisher.Publish.
func (tr *Trainer) publishEpisode(log fleetstore.RunLog) {
	if tr.natsConn == nil {
		return
	}
	event := EpisodeCompleted{
		RunNum:         log.RunNum,
		Day:            log.Day,
		Holiday:        log.Holiday,
		Requests:       log.Requests,
		Timeouts:       log.Timeouts,
		TimeoutPercent: log.TimeoutPercent,
		MeanDispatch:   log.MeanDispatch,
		MeanPickup:     log.MeanPickup,
		MeanWait:       log.MeanWait,
	}
	jsonData, err := json.Marshal(event)
	if err != nil {
		tr.log.Printf("trainer: error marshaling EpisodeCompleted: %v", err)
		return
	}
	if err := tr.natsConn.Publish(tr.conf.EpisodeSubject, jsonData); err != nil {
		tr.log.Printf("trainer: error publishing EpisodeCompleted: %v", err)
	}
}

// logSampleTaxi reproduces run_q_training_2000.py's per-run "Sample taxi"
// debug line: one representative taxi's id, size, last action/choice,
// p_explore and full Q-table.
func (tr *Trainer) logSampleTaxi(taxi *sim.Taxi) {
	tr.log.Printf("trainer: sample taxi: [ID: %d  Size: %d  LA: %d  LC: %s  P: %.3f]",
		taxi.ID, taxi.Size, taxi.LastAction, taxi.LastChoice, taxi.PExplore)
	qTable, err := json.Marshal(taxi.QTable)
	if err != nil {
		tr.log.Printf("trainer: error marshaling sample taxi's q_table: %v", err)
		return
	}
	tr.log.Printf("trainer: sample taxi q_table: %s", qTable)
}
