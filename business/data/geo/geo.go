// Package geo provides great-circle distance, interpolation and zone indexing
// helpers used to move taxis and index them spatially.
package geo

import "math"

// EarthRadiusMeters is the average radius of the earth in meters, used for all
// great-circle calculations.
const EarthRadiusMeters = 6371009

// Position is a (lat, long) pair in decimal degrees.
type Position struct {
	Lat  float64
	Long float64
}

// Zone identifies a 0.01deg x 0.01deg grid cell by the integer coordinates of
// its lower-left corner, e.g. pos(40.713, -74.005) -> zone(4071, -7401).
type Zone struct {
	Lat  int
	Long int
}

// Distance returns the great-circle distance in meters between a and b using
// the haversine formula. Remains well-conditioned for the short distances this
// simulation deals with, with an error of up to approx 0.5%.
// Ref: http://www.movable-type.co.uk/scripts/latlong.html
func Distance(a, b Position) float64 {
	phi1 := toRadians(a.Lat)
	phi2 := toRadians(b.Lat)
	deltaPhi := toRadians(b.Lat - a.Lat)
	deltaLambda := toRadians(b.Long - a.Long)

	sinHalfPhi := math.Sin(deltaPhi / 2)
	sinHalfLambda := math.Sin(deltaLambda / 2)
	h := sinHalfPhi*sinHalfPhi + math.Cos(phi1)*math.Cos(phi2)*sinHalfLambda*sinHalfLambda
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// TotalDistance sums the haversine distance between each consecutive pair of
// positions. Returns 0 for fewer than two positions.
func TotalDistance(positions ...Position) float64 {
	var total float64
	for i := 0; i+1 < len(positions); i++ {
		total += Distance(positions[i], positions[i+1])
	}
	return total
}

// InterpolatePosition returns the point dist meters from a along the
// great-circle path toward b. Longitude is normalized into (-180, 180].
// Ref: http://www.movable-type.co.uk/scripts/latlong.html
func InterpolatePosition(a, b Position, dist float64) Position {
	phi1 := toRadians(a.Lat)
	lambda1 := toRadians(a.Long)
	phi2 := toRadians(b.Lat)
	lambdaDelta := toRadians(b.Long - a.Long)

	// Initial bearing a -> b.
	y := math.Sin(lambdaDelta) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(lambdaDelta)
	theta := math.Atan2(y, x)

	// Destination given distance and bearing.
	delta := dist / EarthRadiusMeters
	phiI := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambdaI := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	lat := toDegrees(phiI)
	long := math.Mod(toDegrees(lambdaI)+540, 360) - 180
	return Position{Lat: lat, Long: long}
}

// GetZone returns the zone containing pos.
func GetZone(pos Position) Zone {
	return Zone{
		Lat:  int(math.Floor(pos.Lat * 100)),
		Long: int(math.Floor(pos.Long * 100)),
	}
}

// GetZoneCenter returns the (lat, long) position at the center of z.
func GetZoneCenter(z Zone) Position {
	return Position{
		Lat:  float64(z.Lat)/100 + 0.005,
		Long: float64(z.Long)/100 + 0.005,
	}
}

// GetNeighbouringZones returns pos's own zone followed by its eight
// neighbouring zones. pos's own zone is always first; the order of the
// remaining eight is not contractual.
func GetNeighbouringZones(pos Position) []Zone {
	zone := GetZone(pos)
	neighbours := make([]Zone, 0, 9)
	neighbours = append(neighbours, zone)
	for i := -1; i <= 1; i++ {
		for j := -1; j <= 1; j++ {
			if i == 0 && j == 0 {
				continue
			}
			neighbours = append(neighbours, Zone{Lat: zone.Lat + i, Long: zone.Long + j})
		}
	}
	return neighbours
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
