package repository

import (
	"context"
	"testing"

	"pharmacyDispatch/models"
)

func TestCreateOfferIsIdempotentPerProvider(t *testing.T) {
	d := openTestDB(t, "offer_idempotent")
	ctx := context.Background()
	repo := NewNotificationRepository(d)
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusAwaitingVendor)
	p := seedProvider(t, d, "alpha pharmacy", models.ProviderKindPharmacy)
	b := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindCartOrder, 1000, 2000)

	first, err := repo.CreateOffer(ctx, b.ID, p.ID, 100, 115)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if first.Token == "" {
		t.Fatalf("expected a token")
	}

	// Re-notifying the same provider returns the original row untouched.
	again, err := repo.CreateOffer(ctx, b.ID, p.ID, 500, 515)
	if err != nil {
		t.Fatalf("CreateOffer again: %v", err)
	}
	if again.ID != first.ID || again.Token != first.Token || again.IssuedAt != 100 {
		t.Fatalf("expected original offer back, got %+v", again)
	}
}

func TestMarkRespondedFirstResponseWins(t *testing.T) {
	d := openTestDB(t, "offer_responded")
	ctx := context.Background()
	repo := NewNotificationRepository(d)
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusAwaitingVendor)
	p := seedProvider(t, d, "alpha pharmacy", models.ProviderKindPharmacy)
	b := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindCartOrder, 1000, 2000)
	if _, err := repo.CreateOffer(ctx, b.ID, p.ID, 100, 115); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	reason := "out of stock"
	if err := repo.MarkResponded(ctx, b.ID, p.ID, models.OfferResponseReject, &reason); err != nil {
		t.Fatalf("MarkResponded: %v", err)
	}
	// A conflicting second response is silently ignored.
	if err := repo.MarkResponded(ctx, b.ID, p.ID, models.OfferResponseAccept, nil); err != nil {
		t.Fatalf("MarkResponded again: %v", err)
	}

	got, err := repo.GetOffer(ctx, b.ID, p.ID)
	if err != nil {
		t.Fatalf("GetOffer: %v", err)
	}
	if !got.Read || !got.Responded {
		t.Fatalf("expected read+responded, got %+v", got)
	}
	if got.Response == nil || *got.Response != models.OfferResponseReject {
		t.Fatalf("expected the first response to stick, got %+v", got.Response)
	}
	if got.Reason == nil || *got.Reason != reason {
		t.Fatalf("expected reason %q, got %+v", reason, got.Reason)
	}
}

func TestExpireSiblingsSparesWinnerAndResponded(t *testing.T) {
	d := openTestDB(t, "offer_expire_siblings")
	ctx := context.Background()
	repo := NewNotificationRepository(d)
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusAwaitingVendor)
	winner := seedProvider(t, d, "winner pharmacy", models.ProviderKindPharmacy)
	loser := seedProvider(t, d, "loser pharmacy", models.ProviderKindPharmacy)
	rejected := seedProvider(t, d, "rejected pharmacy", models.ProviderKindPharmacy)
	b := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindCartOrder, 1000, 2000)

	for _, p := range []*models.Provider{winner, loser, rejected} {
		if _, err := repo.CreateOffer(ctx, b.ID, p.ID, 100, 2000); err != nil {
			t.Fatalf("CreateOffer: %v", err)
		}
	}
	if err := repo.MarkResponded(ctx, b.ID, rejected.ID, models.OfferResponseReject, nil); err != nil {
		t.Fatalf("MarkResponded: %v", err)
	}
	if err := repo.MarkResponded(ctx, b.ID, winner.ID, models.OfferResponseAccept, nil); err != nil {
		t.Fatalf("MarkResponded: %v", err)
	}
	if err := repo.ExpireSiblings(ctx, b.ID, winner.ID); err != nil {
		t.Fatalf("ExpireSiblings: %v", err)
	}

	got, _ := repo.GetOffer(ctx, b.ID, loser.ID)
	if !got.Read || got.Responded {
		t.Fatalf("loser's offer should be withdrawn unresponded, got %+v", got)
	}
	got, _ = repo.GetOffer(ctx, b.ID, winner.ID)
	if got.Response == nil || *got.Response != models.OfferResponseAccept {
		t.Fatalf("winner's response must survive, got %+v", got)
	}

	// The loser no longer sees an open offer.
	open, err := repo.ListOpenOffersForProvider(ctx, loser.ID, 500)
	if err != nil {
		t.Fatalf("ListOpenOffersForProvider: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open offers, got %+v", open)
	}
}

func TestListOpenOffersForProviderSkipsExpired(t *testing.T) {
	d := openTestDB(t, "offer_open_list")
	ctx := context.Background()
	repo := NewNotificationRepository(d)
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusReadyForPickup)
	courier := seedProvider(t, d, "courier one", models.ProviderKindCourier)
	b1 := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindDelivery, 1000, 2000)
	b2 := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindDelivery, 1000, 2000)

	if _, err := repo.CreateOffer(ctx, b1.ID, courier.ID, 100, 115); err != nil { // expired
		t.Fatalf("CreateOffer: %v", err)
	}
	if _, err := repo.CreateOffer(ctx, b2.ID, courier.ID, 300, 600); err != nil { // open
		t.Fatalf("CreateOffer: %v", err)
	}

	open, err := repo.ListOpenOffersForProvider(ctx, courier.ID, 500)
	if err != nil {
		t.Fatalf("ListOpenOffersForProvider: %v", err)
	}
	if len(open) != 1 || open[0].BroadcastID != b2.ID {
		t.Fatalf("expected only the open offer, got %+v", open)
	}
}

func TestCountUnresponded(t *testing.T) {
	d := openTestDB(t, "offer_count")
	ctx := context.Background()
	repo := NewNotificationRepository(d)
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusAwaitingVendor)
	p1 := seedProvider(t, d, "alpha pharmacy", models.ProviderKindPharmacy)
	p2 := seedProvider(t, d, "beta pharmacy", models.ProviderKindPharmacy)
	b := seedBroadcast(t, d, o.ID, u.ID, models.BroadcastKindCartOrder, 1000, 2000)

	for _, p := range []*models.Provider{p1, p2} {
		if _, err := repo.CreateOffer(ctx, b.ID, p.ID, 100, 2000); err != nil {
			t.Fatalf("CreateOffer: %v", err)
		}
	}
	n, err := repo.CountUnresponded(ctx, b.ID)
	if err != nil {
		t.Fatalf("CountUnresponded: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 unresponded, got %d", n)
	}
	if err := repo.MarkResponded(ctx, b.ID, p1.ID, models.OfferResponseReject, nil); err != nil {
		t.Fatalf("MarkResponded: %v", err)
	}
	n, err = repo.CountUnresponded(ctx, b.ID)
	if err != nil {
		t.Fatalf("CountUnresponded: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 unresponded, got %d", n)
	}
}

func TestUserNotifications(t *testing.T) {
	d := openTestDB(t, "user_notifications")
	ctx := context.Background()
	repo := NewNotificationRepository(d)
	u := seedUser(t, d, "alaa")
	o := seedOrder(t, d, u.ID, models.OrderStatusAwaitingVendor)

	if err := repo.CreateUserNotification(ctx, u.ID, o.ID, "Order accepted", "A pharmacy accepted your order."); err != nil {
		t.Fatalf("CreateUserNotification: %v", err)
	}
	if err := repo.CreateUserNotification(ctx, u.ID, o.ID, "Delivery partner assigned", "A courier is on the way."); err != nil {
		t.Fatalf("CreateUserNotification: %v", err)
	}

	got, err := repo.ListUserNotifications(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("ListUserNotifications: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(got))
	}
	if got[0].Title != "Delivery partner assigned" {
		t.Fatalf("expected newest first, got %+v", got[0])
	}
}
