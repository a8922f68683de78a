package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacyDispatch/models"
)

// startVendorBroadcast seeds a user, an order awaiting a vendor, the given
// pharmacies near the origin, and starts a cart broadcast over them.
func startVendorBroadcast(t *testing.T, env *testEnv, pharmacies int) (*models.Order, *models.BroadcastRecord, []*models.Provider) {
	t.Helper()
	u := env.seedUser(t, "patient")
	o := env.seedOrder(t, u.ID, models.OrderStatusAwaitingVendor, 0, 0)
	provs := make([]*models.Provider, 0, pharmacies)
	for i := 0; i < pharmacies; i++ {
		// 0.005 deg of latitude is roughly 550 m; even a dozen pharmacies
		// stay well inside the base search radius.
		provs = append(provs, env.seedProvider(t, "pharmacy-"+string(rune('a'+i)), models.ProviderKindPharmacy, float64(i+1)*0.005, 0))
	}
	b, err := env.engine.Start(context.Background(), o, models.BroadcastKindCartOrder)
	require.NoError(t, err)
	return o, b, provs
}

func TestRespondFirstAcceptWins(t *testing.T) {
	env := newTestEnv(t, "arbiter_first_accept", DefaultConfig())
	ctx := context.Background()
	o, b, provs := startVendorBroadcast(t, env, 2)

	res, err := env.arbiter.Respond(ctx, b.ID, provs[0].ID, models.OfferResponseAccept, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.ResultResourceID)

	got := env.reload(t, b.ID)
	assert.Equal(t, models.BroadcastStatusAccepted, got.Status)
	require.NotNil(t, got.AcceptedBy)
	assert.Equal(t, provs[0].ID, *got.AcceptedBy)
	assert.Equal(t, res.ResultResourceID, got.ResultResourceID)

	asg, err := env.assignments.GetByID(ctx, *res.ResultResourceID)
	require.NoError(t, err)
	require.NotNil(t, asg)
	assert.Equal(t, o.ID, asg.OrderID)
	assert.Equal(t, models.AssignmentKindFulfillment, asg.Kind)

	order, err := env.orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPlaced, order.Status)

	// Requester gets an acceptance notice.
	notes, err := env.notifications.ListUserNotifications(ctx, o.SubmittedBy, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
}

func TestRespondSecondAcceptLoses(t *testing.T) {
	env := newTestEnv(t, "arbiter_second_accept", DefaultConfig())
	ctx := context.Background()
	o, b, provs := startVendorBroadcast(t, env, 2)

	first, err := env.arbiter.Respond(ctx, b.ID, provs[0].ID, models.OfferResponseAccept, nil)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := env.arbiter.Respond(ctx, b.ID, provs[1].ID, models.OfferResponseAccept, nil)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, ReasonAlreadyResolved, second.Reason)
	assert.Nil(t, second.ResultResourceID)

	// The loser's offer is withdrawn, and exactly one assignment exists.
	offer, err := env.notifications.GetOffer(ctx, b.ID, provs[1].ID)
	require.NoError(t, err)
	assert.True(t, offer.Read)
	assert.False(t, offer.Responded)

	n, err := env.assignments.CountByOrder(ctx, o.ID, models.AssignmentKindFulfillment)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRespondConcurrentAcceptsSingleWinner(t *testing.T) {
	env := newFileTestEnv(t, DefaultConfig())
	ctx := context.Background()
	o, b, provs := startVendorBroadcast(t, env, 12)

	// Widen the pool so every provider holds an offer.
	require.NoError(t, env.engine.EscalatePhase(ctx, b.ID))

	results := make([]*RespondResult, len(provs))
	var wg sync.WaitGroup
	for i := range provs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.arbiter.Respond(ctx, b.ID, provs[i].ID, models.OfferResponseAccept, nil)
			if err != nil {
				t.Errorf("provider %d: %v", provs[i].ID, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, res := range results {
		if res != nil && res.Success {
			winners++
		} else if res != nil {
			assert.Equal(t, ReasonAlreadyResolved, res.Reason)
		}
	}
	assert.Equal(t, 1, winners, "exactly one accept must win")

	n, err := env.assignments.CountByOrder(ctx, o.ID, models.AssignmentKindFulfillment)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "no orphan assignments may survive the race")

	got := env.reload(t, b.ID)
	assert.Equal(t, models.BroadcastStatusAccepted, got.Status)
}

func TestRespondAcceptSurvivesBookkeepingFailure(t *testing.T) {
	env := newTestEnv(t, "arbiter_bookkeeping", DefaultConfig())
	ctx := context.Background()
	o, b, provs := startVendorBroadcast(t, env, 2)

	// Requester notification writes fail from here on. The accept already
	// commits at the status flip, so the winner must still get its result.
	_, err := env.db.Exec(`DROP TABLE user_notifications`)
	require.NoError(t, err)

	res, err := env.arbiter.Respond(ctx, b.ID, provs[0].ID, models.OfferResponseAccept, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.ResultResourceID)

	got := env.reload(t, b.ID)
	assert.Equal(t, models.BroadcastStatusAccepted, got.Status)

	n, err := env.assignments.CountByOrder(ctx, o.ID, models.AssignmentKindFulfillment)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRespondRejectIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "arbiter_reject", DefaultConfig())
	ctx := context.Background()
	_, b, provs := startVendorBroadcast(t, env, 3)

	reason := "too far"
	for i := 0; i < 2; i++ {
		res, err := env.arbiter.Respond(ctx, b.ID, provs[0].ID, models.OfferResponseReject, &reason)
		require.NoError(t, err)
		assert.True(t, res.Success)
	}

	offer, err := env.notifications.GetOffer(ctx, b.ID, provs[0].ID)
	require.NoError(t, err)
	assert.True(t, offer.Responded)
	require.NotNil(t, offer.Response)
	assert.Equal(t, models.OfferResponseReject, *offer.Response)
	require.NotNil(t, offer.Reason)
	assert.Equal(t, reason, *offer.Reason)

	// A reject does not terminate the broadcast while others are pending.
	got := env.reload(t, b.ID)
	assert.Equal(t, models.BroadcastStatusPending, got.Status)
}

func TestRespondRejectAfterResolutionStillSucceeds(t *testing.T) {
	env := newTestEnv(t, "arbiter_late_reject", DefaultConfig())
	ctx := context.Background()
	_, b, provs := startVendorBroadcast(t, env, 2)

	first, err := env.arbiter.Respond(ctx, b.ID, provs[0].ID, models.OfferResponseAccept, nil)
	require.NoError(t, err)
	require.True(t, first.Success)

	late, err := env.arbiter.Respond(ctx, b.ID, provs[1].ID, models.OfferResponseReject, nil)
	require.NoError(t, err)
	assert.True(t, late.Success)
}

func TestRespondAcceptWithoutOffer(t *testing.T) {
	env := newTestEnv(t, "arbiter_not_notified", DefaultConfig())
	ctx := context.Background()
	_, b, _ := startVendorBroadcast(t, env, 1)

	// A courier far outside the pool never received an offer.
	outsider := env.seedProvider(t, "outsider", models.ProviderKindPharmacy, 2.0, 2.0)
	_, err := env.arbiter.Respond(ctx, b.ID, outsider.ID, models.OfferResponseAccept, nil)
	assert.ErrorIs(t, err, ErrNotNotified)
}

func TestRespondAcceptExpiredOffer(t *testing.T) {
	env := newTestEnv(t, "arbiter_expired_offer", DefaultConfig())
	ctx := context.Background()
	_, b, provs := startVendorBroadcast(t, env, 1)

	// The priority-phase offer expires with the phase window; move just past
	// it but stay inside the overall budget.
	env.clock.Advance(env.engine.Cfg.PriorityWindow + time.Second)

	res, err := env.arbiter.Respond(ctx, b.ID, provs[0].ID, models.OfferResponseAccept, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonOfferExpired, res.Reason)

	got := env.reload(t, b.ID)
	assert.Equal(t, models.BroadcastStatusPending, got.Status)
}

func TestRespondAcceptPastOverallDeadlineFails(t *testing.T) {
	env := newTestEnv(t, "arbiter_overall_deadline", DefaultConfig())
	ctx := context.Background()
	o, b, provs := startVendorBroadcast(t, env, 1)

	env.clock.Advance(env.engine.Cfg.OverallWindow + time.Second)

	res, err := env.arbiter.Respond(ctx, b.ID, provs[0].ID, models.OfferResponseAccept, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonAlreadyResolved, res.Reason)

	// The late response triggered the terminal failure as a side effect.
	got := env.reload(t, b.ID)
	assert.Equal(t, models.BroadcastStatusFailed, got.Status)
	order, err := env.orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, order.Status)
}

func TestRespondUnknownBroadcast(t *testing.T) {
	env := newTestEnv(t, "arbiter_unknown", DefaultConfig())
	_, err := env.arbiter.Respond(context.Background(), 999, 1, models.OfferResponseAccept, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRespondLastRejectEscalatesEarly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCandidates = 2
	env := newTestEnv(t, "arbiter_early_escalation", cfg)
	ctx := context.Background()
	// Three pharmacies in radius; round 0 notifies the nearest two.
	_, b, provs := startVendorBroadcast(t, env, 3)

	notified, err := env.broadcasts.IsNotified(ctx, b.ID, provs[2].ID)
	require.NoError(t, err)
	require.False(t, notified, "third pharmacy must be outside the priority batch")

	for _, p := range provs[:2] {
		res, err := env.arbiter.Respond(ctx, b.ID, p.ID, models.OfferResponseReject, nil)
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	// Both priority candidates rejected before the window lapsed, so the
	// arbiter escalated immediately and the third pharmacy got its offer.
	got := env.reload(t, b.ID)
	assert.Equal(t, models.BroadcastPhaseExtended, got.Phase)
	notified, err = env.broadcasts.IsNotified(ctx, b.ID, provs[2].ID)
	require.NoError(t, err)
	assert.True(t, notified)
}

func TestRespondDeliveryAcceptAdvancesOrder(t *testing.T) {
	env := newTestEnv(t, "arbiter_delivery_accept", DefaultConfig())
	ctx := context.Background()
	u := env.seedUser(t, "patient")
	o := env.seedOrder(t, u.ID, models.OrderStatusReadyForPickup, 0, 0)
	courier := env.seedProvider(t, "courier-a", models.ProviderKindCourier, 0.01, 0)

	b, err := env.engine.Start(ctx, o, models.BroadcastKindDelivery)
	require.NoError(t, err)

	res, err := env.arbiter.Respond(ctx, b.ID, courier.ID, models.OfferResponseAccept, nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	order, err := env.orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOutForDelivery, order.Status)

	asg, err := env.assignments.GetByOrderAndKind(ctx, o.ID, models.AssignmentKindDelivery)
	require.NoError(t, err)
	require.NotNil(t, asg)
	assert.Equal(t, courier.ID, asg.ProviderID)
}
