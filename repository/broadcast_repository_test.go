package repository

import (
	"context"
	"testing"

	"pharmacyDispatch/models"
)

func TestBroadcastCreateDefaults(t *testing.T) {
	d := openTestDB(t, "broadcast_create")
	ctx := context.Background()
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusAwaitingVendor)

	b := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindCartOrder, 1000, 2000)
	if b.Phase != models.BroadcastPhasePriority {
		t.Fatalf("expected priority phase, got %s", b.Phase)
	}
	if b.Status != models.BroadcastStatusPending {
		t.Fatalf("expected pending status, got %s", b.Status)
	}
	if b.Round != 0 {
		t.Fatalf("expected round 0, got %d", b.Round)
	}
	if b.CreatedAt == "" {
		t.Fatalf("expected created_at to be set")
	}

	got, err := NewBroadcastRepository(d).GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.OrderID != o.ID || got.RequestedBy != u.ID {
		t.Fatalf("unexpected broadcast row: %+v", got)
	}
}

func TestBroadcastGetByIDNotFound(t *testing.T) {
	d := openTestDB(t, "broadcast_not_found")
	got, err := NewBroadcastRepository(d).GetByID(context.Background(), 4242)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing broadcast, got %+v", got)
	}
}

func TestCompareAndSetStatus(t *testing.T) {
	d := openTestDB(t, "broadcast_cas")
	ctx := context.Background()
	repo := NewBroadcastRepository(d)
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusAwaitingVendor)
	p := seedProvider(t, d, "alpha pharmacy", models.ProviderKindPharmacy)
	b := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindCartOrder, 1000, 2000)

	resultID := int64(77)
	ok, err := repo.CompareAndSetStatus(ctx, b.ID, models.BroadcastStatusPending, models.BroadcastStatusAccepted, &p.ID, &resultID)
	if err != nil {
		t.Fatalf("CompareAndSetStatus: %v", err)
	}
	if !ok {
		t.Fatalf("expected first transition to win")
	}

	// A second transition from pending must lose: the row is terminal now.
	ok, err = repo.CompareAndSetStatus(ctx, b.ID, models.BroadcastStatusPending, models.BroadcastStatusCancelled, nil, nil)
	if err != nil {
		t.Fatalf("CompareAndSetStatus: %v", err)
	}
	if ok {
		t.Fatalf("expected transition on terminal row to lose")
	}

	got, err := repo.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.BroadcastStatusAccepted {
		t.Fatalf("expected accepted, got %s", got.Status)
	}
	if got.AcceptedBy == nil || *got.AcceptedBy != p.ID {
		t.Fatalf("expected accepted_by %d, got %+v", p.ID, got.AcceptedBy)
	}
	if got.ResultResourceID == nil || *got.ResultResourceID != resultID {
		t.Fatalf("expected result_resource_id %d, got %+v", resultID, got.ResultResourceID)
	}
}

func TestAdvancePhaseOnlyWhilePending(t *testing.T) {
	d := openTestDB(t, "broadcast_advance_phase")
	ctx := context.Background()
	repo := NewBroadcastRepository(d)
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusAwaitingVendor)
	b := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindCartOrder, 1000, 2000)

	ok, err := repo.AdvancePhase(ctx, b.ID, models.BroadcastPhaseExtended, 2000)
	if err != nil {
		t.Fatalf("AdvancePhase: %v", err)
	}
	if !ok {
		t.Fatalf("expected phase advance on pending row")
	}
	got, _ := repo.GetByID(ctx, b.ID)
	if got.Phase != models.BroadcastPhaseExtended || got.PhaseDeadline != 2000 {
		t.Fatalf("unexpected row after advance: %+v", got)
	}

	if _, err := repo.CompareAndSetStatus(ctx, b.ID, models.BroadcastStatusPending, models.BroadcastStatusCancelled, nil, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	ok, err = repo.AdvancePhase(ctx, b.ID, models.BroadcastPhasePriority, 3000)
	if err != nil {
		t.Fatalf("AdvancePhase: %v", err)
	}
	if ok {
		t.Fatalf("phase advance must not revive a terminal broadcast")
	}
}

func TestStartRoundResetsPhaseAndDeadlines(t *testing.T) {
	d := openTestDB(t, "broadcast_start_round")
	ctx := context.Background()
	repo := NewBroadcastRepository(d)
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusReadyForPickup)
	b := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindDelivery, 1000, 2000)

	if _, err := repo.AdvancePhase(ctx, b.ID, models.BroadcastPhaseExtended, 2000); err != nil {
		t.Fatalf("AdvancePhase: %v", err)
	}
	ok, err := repo.StartRound(ctx, b.ID, 1, 20, 3000, 4000)
	if err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if !ok {
		t.Fatalf("expected round start on pending row")
	}
	got, _ := repo.GetByID(ctx, b.ID)
	if got.Round != 1 || got.RadiusKm != 20 || got.Phase != models.BroadcastPhasePriority {
		t.Fatalf("unexpected row after round start: %+v", got)
	}
	if got.PhaseDeadline != 3000 || got.OverallDeadline != 4000 {
		t.Fatalf("deadlines not refreshed: %+v", got)
	}
}

func TestAppendAndCheckNotified(t *testing.T) {
	d := openTestDB(t, "broadcast_notified")
	ctx := context.Background()
	repo := NewBroadcastRepository(d)
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusAwaitingVendor)
	b := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindCartOrder, 1000, 2000)

	for _, id := range []int64{3, 14, 1} {
		if err := repo.AppendNotified(ctx, b.ID, id); err != nil {
			t.Fatalf("AppendNotified(%d): %v", id, err)
		}
	}
	got, _ := repo.GetByID(ctx, b.ID)
	if got.NotifiedIDs != "3,14,1" {
		t.Fatalf("expected '3,14,1', got %q", got.NotifiedIDs)
	}

	cases := []struct {
		providerID int64
		want       bool
	}{
		{3, true},
		{14, true},
		{1, true},
		{4, false},  // substring of 14 must not match
		{31, false}, // 3 followed by 1 across entries must not match
	}
	for _, c := range cases {
		ok, err := repo.IsNotified(ctx, b.ID, c.providerID)
		if err != nil {
			t.Fatalf("IsNotified(%d): %v", c.providerID, err)
		}
		if ok != c.want {
			t.Fatalf("IsNotified(%d) = %v, want %v", c.providerID, ok, c.want)
		}
	}
}

func TestGetPendingByOrder(t *testing.T) {
	d := openTestDB(t, "broadcast_pending_by_order")
	ctx := context.Background()
	repo := NewBroadcastRepository(d)
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusAwaitingVendor)

	old := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindCartOrder, 1000, 2000)
	if _, err := repo.CompareAndSetStatus(ctx, old.ID, models.BroadcastStatusPending, models.BroadcastStatusFailed, nil, nil); err != nil {
		t.Fatalf("fail old: %v", err)
	}
	fresh := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindCartOrder, 3000, 4000)

	got, err := repo.GetPendingByOrder(ctx, o.ID, models.BroadcastKindCartOrder)
	if err != nil {
		t.Fatalf("GetPendingByOrder: %v", err)
	}
	if got == nil || got.ID != fresh.ID {
		t.Fatalf("expected broadcast %d, got %+v", fresh.ID, got)
	}

	got, err = repo.GetPendingByOrder(ctx, o.ID, models.BroadcastKindDelivery)
	if err != nil {
		t.Fatalf("GetPendingByOrder: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no pending delivery broadcast, got %+v", got)
	}
}
