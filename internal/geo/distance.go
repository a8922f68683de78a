package geo

import (
	"math"
	"time"
)

const (
	// EarthRadiusKm is Earth's radius in kilometres for Haversine calculation.
	EarthRadiusKm = 6371.0
	// LocationMaxAge is how old a reported position may be before it is
	// treated as unknown.
	LocationMaxAge = 2 * time.Minute
)

// HaversineKm calculates the great-circle distance between two points
// on Earth in kilometres using the Haversine formula.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// IsWithinRadiusKm checks if two coordinates are within the specified radius (in km).
func IsWithinRadiusKm(lat1, lng1, lat2, lng2 float64, radiusKm float64) bool {
	return HaversineKm(lat1, lng1, lat2, lng2) <= radiusKm
}

// IsLocationFresh reports whether a position reported at reportedAt (unix
// seconds) is still usable at now. Absent reports never are.
func IsLocationFresh(reportedAt *int64, now time.Time) bool {
	if reportedAt == nil {
		return false
	}
	return now.Unix()-*reportedAt <= int64(LocationMaxAge/time.Second)
}
