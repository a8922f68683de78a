package repository

import (
	"context"

	"pharmacyDispatch/models"
)

// UserRepositoryI defines operations on User entities.
type UserRepositoryI interface {
	Create(ctx context.Context, username string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]models.User, error)
}

// ProviderRepositoryI defines operations on Provider entities.
type ProviderRepositoryI interface {
	Create(ctx context.Context, p *models.Provider) (*models.Provider, error)
	GetByID(ctx context.Context, id int64) (*models.Provider, error)
	GetByName(ctx context.Context, name string) (*models.Provider, error)
	Heartbeat(ctx context.Context, id int64, lat, lng float64, at int64) error
	SetAvailable(ctx context.Context, id int64, available bool) error
	SetVerified(ctx context.Context, id int64, verified bool) error
	ListByKind(ctx context.Context, kind models.ProviderKind) ([]models.Provider, error)
}

// OrderRepositoryI defines operations on Order entities.
type OrderRepositoryI interface {
	Create(ctx context.Context, o *models.Order) (*models.Order, error)
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) error
	AdvanceStatus(ctx context.Context, id int64, from, to models.OrderStatus) (bool, error)
}

// BroadcastRepositoryI defines operations on BroadcastRecord entities.
// CompareAndSetStatus is the protocol's only mutual-exclusion primitive and
// must be atomic at the storage layer.
type BroadcastRepositoryI interface {
	Create(ctx context.Context, b *models.BroadcastRecord) (*models.BroadcastRecord, error)
	GetByID(ctx context.Context, id int64) (*models.BroadcastRecord, error)
	GetPendingByOrder(ctx context.Context, orderID int64, kind models.BroadcastKind) (*models.BroadcastRecord, error)
	CompareAndSetStatus(ctx context.Context, id int64, expected, next models.BroadcastStatus, acceptedBy, resultResourceID *int64) (bool, error)
	AdvancePhase(ctx context.Context, id int64, phase models.BroadcastPhase, phaseDeadline int64) (bool, error)
	StartRound(ctx context.Context, id int64, round int, radiusKm float64, phaseDeadline, overallDeadline int64) (bool, error)
	AppendNotified(ctx context.Context, id int64, providerID int64) error
	IsNotified(ctx context.Context, id int64, providerID int64) (bool, error)
	ListOverduePending(ctx context.Context, now int64) ([]models.BroadcastRecord, error)
	ListPhaseExpired(ctx context.Context, now int64) ([]models.BroadcastRecord, error)
	ListStaleDelivery(ctx context.Context, now int64, cooldownSec int64) ([]models.BroadcastRecord, error)
}

// NotificationRepositoryI defines operations on offer and user notifications.
type NotificationRepositoryI interface {
	CreateOffer(ctx context.Context, broadcastID, providerID, issuedAt, expiresAt int64) (*models.OfferNotification, error)
	GetOffer(ctx context.Context, broadcastID, providerID int64) (*models.OfferNotification, error)
	MarkResponded(ctx context.Context, broadcastID, providerID int64, response models.OfferResponse, reason *string) error
	ExpireSiblings(ctx context.Context, broadcastID int64, winnerProviderID int64) error
	ListOffersByBroadcast(ctx context.Context, broadcastID int64) ([]models.OfferNotification, error)
	CountUnresponded(ctx context.Context, broadcastID int64) (int, error)
	CreateUserNotification(ctx context.Context, userID, orderID int64, title, body string) error
}

// AssignmentRepositoryI defines operations on Assignment entities.
type AssignmentRepositoryI interface {
	Create(ctx context.Context, a *models.Assignment) (*models.Assignment, error)
	Delete(ctx context.Context, id int64) error
	GetByOrderAndKind(ctx context.Context, orderID int64, kind models.AssignmentKind) (*models.Assignment, error)
}
