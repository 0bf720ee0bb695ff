package sim

import (
	"testing"
	"time"

	"github.com/OpenTransitTools/taxisim/business/data/geo"
	"github.com/matryer/is"
)

func TestNewPassengerGroupComputesRideshareLimit(t *testing.T) {
	is := is.New(t)
	ids := &GroupIDGenerator{}
	src := geo.Position{Lat: 40.7647, Long: -73.9732}
	dst := geo.Position{Lat: 40.7818, Long: -73.9714}

	pg := NewPassengerGroup(ids, time.Now(), 2, src, dst, 1.1)

	is.Equal(pg.GroupID, int64(1))
	is.Equal(pg.Size, 2)
	is.True(pg.RSDistanceLimit > geo.Distance(src, dst))
	is.True(pg.DispatchTime == nil)
}

func TestGroupIDGeneratorIncrements(t *testing.T) {
	is := is.New(t)
	ids := &GroupIDGenerator{}
	is.Equal(ids.Next(), int64(1))
	is.Equal(ids.Next(), int64(2))
	is.Equal(ids.Next(), int64(3))
}

func TestSplitPreservesTotalSizeAndGroupID(t *testing.T) {
	is := is.New(t)
	ids := &GroupIDGenerator{}
	src := geo.Position{Lat: 40.7647, Long: -73.9732}
	dst := geo.Position{Lat: 40.7818, Long: -73.9714}
	pg := NewPassengerGroup(ids, time.Now(), 4, src, dst, 1.1)

	newPG := pg.Split(2)

	is.Equal(pg.Size, 2)
	is.Equal(newPG.Size, 2)
	is.Equal(newPG.GroupID, pg.GroupID)
	is.Equal(newPG.RSDistanceLimit, pg.RSDistanceLimit)
}

func TestSplitInheritsExistingTimestamps(t *testing.T) {
	is := is.New(t)
	ids := &GroupIDGenerator{}
	src := geo.Position{Lat: 40.7647, Long: -73.9732}
	dst := geo.Position{Lat: 40.7818, Long: -73.9714}
	pg := NewPassengerGroup(ids, time.Now(), 5, src, dst, 1.1)
	dispatchTime := time.Now()
	pg.DispatchTime = &dispatchTime

	newPG := pg.Split(2)

	is.Equal(newPG.DispatchTime, pg.DispatchTime)
	is.True(newPG.PickupTime == nil)
}
