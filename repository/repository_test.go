package repository

import (
	"context"
	"database/sql"
	"testing"

	"pharmacyDispatch/internal/testutil"
	"pharmacyDispatch/models"
)

func seedUser(t *testing.T, d *sql.DB, username string) *models.User {
	t.Helper()
	u, err := NewUserRepository(d).Create(context.Background(), username)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedOrder(t *testing.T, d *sql.DB, userID int64, status models.OrderStatus) *models.Order {
	t.Helper()
	o, err := NewOrderRepository(d).Create(context.Background(), &models.Order{
		DestLat:     31.95,
		DestLng:     35.91,
		Items:       "ibuprofen 200mg",
		SubmittedBy: userID,
		Status:      status,
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func seedProvider(t *testing.T, d *sql.DB, name string, kind models.ProviderKind) *models.Provider {
	t.Helper()
	p, err := NewProviderRepository(d).Create(context.Background(), &models.Provider{
		Name:      name,
		Kind:      kind,
		Available: true,
		Verified:  true,
	})
	if err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	return p
}

func seedBroadcast(t *testing.T, d *sql.DB, orderID, userID int64, kind models.BroadcastKind, phaseDeadline, overallDeadline int64) *models.BroadcastRecord {
	t.Helper()
	b, err := NewBroadcastRepository(d).Create(context.Background(), &models.BroadcastRecord{
		Kind:            kind,
		OrderID:         orderID,
		RequestedBy:     userID,
		OriginLat:       31.95,
		OriginLng:       35.91,
		RadiusKm:        10,
		MaxCandidates:   5,
		PhaseDeadline:   phaseDeadline,
		OverallDeadline: overallDeadline,
	})
	if err != nil {
		t.Fatalf("seed broadcast: %v", err)
	}
	return b
}

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	return testutil.OpenInMemoryDB(t, name)
}
