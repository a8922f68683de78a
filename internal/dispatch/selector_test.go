package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacyDispatch/models"
)

func provAt(id int64, lat, lng float64, locAt int64) models.Provider {
	return models.Provider{
		ID:         id,
		Name:       "p",
		Kind:       models.ProviderKindPharmacy,
		Lat:        &lat,
		Lng:        &lng,
		LocationAt: &locAt,
		Available:  true,
		Verified:   true,
	}
}

func TestSelectCandidatesRanksByDistanceAndCaps(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	at := now.Unix()

	// Eight eligible providers at increasing latitude offsets. 0.01 degrees
	// of latitude is about 1.11 km, so offsets up to 0.08 stay inside 10 km.
	pool := make([]models.Provider, 0, 8)
	for i := int64(1); i <= 8; i++ {
		pool = append(pool, provAt(i, float64(i)*0.01, 0, at))
	}

	got := SelectCandidates(0, 0, pool, 10, 5, now)
	require.Len(t, got, 5)
	for i, c := range got {
		assert.Equal(t, int64(i+1), c.Provider.ID, "candidates must be sorted nearest first")
	}
	assert.Less(t, got[0].DistanceKm, got[4].DistanceKm)
}

func TestSelectCandidatesRadius(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	at := now.Unix()
	pool := []models.Provider{
		provAt(1, 0.05, 0, at), // ~5.6 km
		provAt(2, 0.2, 0, at),  // ~22 km, outside
	}
	got := SelectCandidates(0, 0, pool, 10, 0, now)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Provider.ID)
}

func TestSelectCandidatesEligibility(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fresh := now.Unix()
	stale := now.Add(-3 * time.Minute).Unix()

	unavailable := provAt(1, 0.01, 0, fresh)
	unavailable.Available = false
	unverified := provAt(2, 0.01, 0, fresh)
	unverified.Verified = false
	noLocation := provAt(3, 0, 0, fresh)
	noLocation.Lat = nil
	noLocation.Lng = nil
	staleLocation := provAt(4, 0.01, 0, stale)
	eligible := provAt(5, 0.01, 0, fresh)

	pool := []models.Provider{unavailable, unverified, noLocation, staleLocation, eligible}
	got := SelectCandidates(0, 0, pool, 10, 0, now)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Provider.ID)
}

func TestSelectCandidatesTieBreaksByID(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	at := now.Unix()
	pool := []models.Provider{
		provAt(7, 0.01, 0, at),
		provAt(3, 0.01, 0, at),
	}
	got := SelectCandidates(0, 0, pool, 10, 0, now)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].Provider.ID)
	assert.Equal(t, int64(7), got[1].Provider.ID)
}
