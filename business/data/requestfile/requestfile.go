// Package requestfile reads the pre-generated, pre-sorted per-day request
// files the simulation core consumes (spec.md §6's "Input - per-day request
// file"). Producing this file from raw trip data is out of scope (spec.md
// §1's non-goals); this package only reads one already produced offline.
package requestfile

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/OpenTransitTools/taxisim/business/data/geo"
	"github.com/OpenTransitTools/taxisim/business/sim"
)

// record is the on-disk JSON shape of one request file entry.
type record struct {
	RequestTime time.Time `json:"request_time"`
	Size        int       `json:"size"`
	SrcLat      float64   `json:"src_lat"`
	SrcLong     float64   `json:"src_long"`
	DstLat      float64   `json:"dst_lat"`
	DstLong     float64   `json:"dst_long"`
}

// Load reads path and returns its request tuples in file order. The core
// never re-sorts these; the file is assumed already sorted by request_time.
func Load(path string) ([]sim.Request, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	var records []record
	if err := json.NewDecoder(file).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding request file %s: %w", path, err)
	}

	requests := make([]sim.Request, len(records))
	for i, r := range records {
		requests[i] = sim.Request{
			RequestTime: r.RequestTime,
			Size:        r.Size,
			SrcPos:      geo.Position{Lat: r.SrcLat, Long: r.SrcLong},
			DstPos:      geo.Position{Lat: r.DstLat, Long: r.DstLong},
		}
	}
	return requests, nil
}

// DefaultZoneWeights is a small stand-in zone table covering Manhattan's
// bounding box; a deployment would load its historical pickup-frequency
// table instead.
func DefaultZoneWeights() []geo.ZoneWeight {
	return []geo.ZoneWeight{
		{Center: geo.Position{Lat: 40.75, Long: -73.98}, Weight: 1},
		{Center: geo.Position{Lat: 40.78, Long: -73.96}, Weight: 1},
		{Center: geo.Position{Lat: 40.72, Long: -74.00}, Weight: 1},
	}
}
