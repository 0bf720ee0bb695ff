// Package fleetstore persists taxi fleet snapshots and per-run training logs
// to Postgres, so that a training run can be halted and resumed across
// process restarts.
package fleetstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/OpenTransitTools/taxisim/business/data/geo"
	"github.com/OpenTransitTools/taxisim/business/sim"
	"github.com/jmoiron/sqlx"
)

// taxiRow is the db-tagged row shape for one taxi's persisted state.
// Position is not persisted: spec.md §6 treats it as irrelevant on load,
// since World.ResetTaxis randomizes it before each run's day is simulated.
type taxiRow struct {
	RunNum     int    `db:"run_num"`
	TaxiID     int    `db:"taxi_id"`
	Size       int    `db:"size"`
	PExplore   float64 `db:"p_explore"`
	LastState  int    `db:"last_state"`
	LastAction int    `db:"last_action"`
	LastChoice int    `db:"last_choice"`
	QTable     []byte `db:"q_table"`
	STable     []byte `db:"s_table"`
}

// RunLog is one row of the per-episode training log of spec.md §6.
type RunLog struct {
	RunNum         int       `db:"run_num" json:"run_num"`
	Day            int       `db:"day" json:"day"`
	Holiday        bool      `db:"holiday" json:"holiday"`
	Requests       int       `db:"requests" json:"requests"`
	Timeouts       int       `db:"timeouts" json:"timeouts"`
	TimeoutPercent float64   `db:"timeout_percent" json:"timeout_percent"`
	MeanDispatch   float64   `db:"mean_dispatch" json:"mean_dispatch"`
	MeanPickup     float64   `db:"mean_pickup" json:"mean_pickup"`
	MeanWait       float64   `db:"mean_wait" json:"mean_wait"`
	Sizes          []byte    `db:"sizes" json:"-"`
	RecordedAt     time.Time `db:"recorded_at" json:"recorded_at"`
}

// SizeHistogram decodes Sizes into a taxi-size -> count map.
func (r RunLog) SizeHistogram() (map[int]int, error) {
	hist := make(map[int]int)
	if len(r.Sizes) == 0 {
		return hist, nil
	}
	if err := json.Unmarshal(r.Sizes, &hist); err != nil {
		return nil, fmt.Errorf("decoding size histogram: %w", err)
	}
	return hist, nil
}

// GetRunCount returns the highest run_num recorded in the training log, or 0
// if training has never been initialized. Mirrors run_q_training_2000.py's
// logdict["run_count"] bookkeeping.
func GetRunCount(db *sqlx.DB) (int, error) {
	var runCount int
	err := db.Get(&runCount, "select coalesce(max(run_num), 0) from training_log")
	if err != nil {
		return 0, fmt.Errorf("fetching run count: %w", err)
	}
	return runCount, nil
}

// RecordRunLog inserts a completed episode's log row.
func RecordRunLog(db *sqlx.DB, log RunLog) error {
	statementString := "insert into training_log " +
		"(run_num, day, holiday, requests, timeouts, timeout_percent, mean_dispatch, mean_pickup, mean_wait, sizes, recorded_at) " +
		"values (:run_num, :day, :holiday, :requests, :timeouts, :timeout_percent, :mean_dispatch, :mean_pickup, :mean_wait, :sizes, :recorded_at)"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, log)
	if err != nil {
		return fmt.Errorf("recording run log for run %d: %w", log.RunNum, err)
	}
	return nil
}

// GetRunLog returns the log row for runNum.
func GetRunLog(db *sqlx.DB, runNum int) (*RunLog, error) {
	var log RunLog
	statementString := db.Rebind("select * from training_log where run_num = ?")
	if err := db.Get(&log, statementString, runNum); err != nil {
		return nil, fmt.Errorf("fetching run log %d: %w", runNum, err)
	}
	return &log, nil
}

// SaveFleetSnapshot persists the current state of every taxi in fleet under
// runNum, replacing any snapshot already recorded for that run.
func SaveFleetSnapshot(db *sqlx.DB, runNum int, fleet []*sim.Taxi) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning fleet snapshot transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	deleteString := tx.Rebind("delete from fleet_snapshot where run_num = ?")
	if _, err := tx.Exec(deleteString, runNum); err != nil {
		return fmt.Errorf("clearing fleet snapshot for run %d: %w", runNum, err)
	}

	insertString := tx.Rebind("insert into fleet_snapshot " +
		"(run_num, taxi_id, size, p_explore, last_state, last_action, last_choice, q_table, s_table) " +
		"values (?, ?, ?, ?, ?, ?, ?, ?, ?)")

	for _, taxi := range fleet {
		qTable, err := json.Marshal(taxi.QTable)
		if err != nil {
			return fmt.Errorf("marshaling q_table for taxi %d: %w", taxi.ID, err)
		}
		sTable, err := json.Marshal(taxi.STable)
		if err != nil {
			return fmt.Errorf("marshaling s_table for taxi %d: %w", taxi.ID, err)
		}
		_, err = tx.Exec(insertString, runNum, taxi.ID, taxi.Size, taxi.PExplore,
			taxi.LastState, taxi.LastAction, int(taxi.LastChoice), qTable, sTable)
		if err != nil {
			return fmt.Errorf("saving taxi %d for run %d: %w", taxi.ID, runNum, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing fleet snapshot for run %d: %w", runNum, err)
	}
	return nil
}

// LoadFleetSnapshot reconstructs the fleet recorded for runNum. Every taxi is
// placed at the zero Position. maxSize is passed to NewTaxi, but the
// persisted q_table replaces the seeded QTable as a whole; callers must call
// ResetTaxis on the world holding the returned taxis before running it.
func LoadFleetSnapshot(db *sqlx.DB, runNum int, maxSize int) ([]*sim.Taxi, error) {
	var rows []taxiRow
	statementString := db.Rebind("select * from fleet_snapshot where run_num = ? order by taxi_id")
	if err := db.Select(&rows, statementString, runNum); err != nil {
		return nil, fmt.Errorf("loading fleet snapshot for run %d: %w", runNum, err)
	}

	fleet := make([]*sim.Taxi, 0, len(rows))
	for _, row := range rows {
		taxi := sim.NewTaxi(row.TaxiID, row.Size, geo.Position{}, maxSize)
		taxi.PExplore = row.PExplore
		taxi.LastState = row.LastState
		taxi.LastAction = row.LastAction
		taxi.LastChoice = sim.Choice(row.LastChoice)
		if err := json.Unmarshal(row.QTable, taxi.QTable); err != nil {
			return nil, fmt.Errorf("decoding q_table for taxi %d: %w", row.TaxiID, err)
		}
		if err := json.Unmarshal(row.STable, taxi.STable); err != nil {
			return nil, fmt.Errorf("decoding s_table for taxi %d: %w", row.TaxiID, err)
		}
		fleet = append(fleet, taxi)
	}
	return fleet, nil
}

// SizesHistogram builds the JSON-encodable size histogram for a fleet, for
// embedding in a RunLog.
func SizesHistogram(fleet []*sim.Taxi) ([]byte, error) {
	sizes := make(map[int]int)
	for _, taxi := range fleet {
		sizes[taxi.Size]++
	}
	b, err := json.Marshal(sizes)
	if err != nil {
		return nil, fmt.Errorf("marshaling size histogram: %w", err)
	}
	return b, nil
}
