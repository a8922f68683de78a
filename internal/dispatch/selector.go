package dispatch

import (
	"sort"
	"time"

	"pharmacyDispatch/internal/geo"
	"pharmacyDispatch/models"
)

// Candidate is a provider ranked for one broadcast. DistanceKm is measured
// from the broadcast origin.
type Candidate struct {
	Provider   models.Provider
	DistanceKm float64
}

// SelectCandidates filters a raw provider pool down to an ordered candidate
// list: verified, available, with a fresh known location inside radiusKm of
// the origin, sorted ascending by Haversine distance and truncated to max.
//
// Pure function over its inputs; the caller decides what an empty result
// means (escalate radius, or fail the broadcast).
func SelectCandidates(originLat, originLng float64, pool []models.Provider, radiusKm float64, max int, now time.Time) []Candidate {
	out := make([]Candidate, 0, len(pool))
	for _, p := range pool {
		if !p.Available || !p.Verified {
			continue
		}
		if p.Lat == nil || p.Lng == nil || !geo.IsLocationFresh(p.LocationAt, now) {
			continue
		}
		d := geo.HaversineKm(originLat, originLng, *p.Lat, *p.Lng)
		if d > radiusKm {
			continue
		}
		out = append(out, Candidate{Provider: p, DistanceKm: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Provider.ID < out[j].Provider.ID
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
