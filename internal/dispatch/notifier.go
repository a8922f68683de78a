package dispatch

import (
	"context"
	"fmt"
	"log"

	"pharmacyDispatch/models"
	"pharmacyDispatch/repository"
)

// Pusher is the out-of-band push transport. Delivery is best-effort with no
// retries owned here; candidates poll their open offers as a backstop.
type Pusher interface {
	Send(ctx context.Context, providerIDs []int64, title, body string, data map[string]string) error
}

// NopPusher discards pushes. Used when no transport is configured and in tests.
type NopPusher struct{}

func (NopPusher) Send(ctx context.Context, providerIDs []int64, title, body string, data map[string]string) error {
	return nil
}

// Notifier dispatches an offer to a candidate: it persists the offer row
// (the durable source of truth) and then attempts a push. Push failure is
// logged and swallowed; it never blocks or fails arbitration.
type Notifier struct {
	Notifications *repository.NotificationRepository
	Pusher        Pusher
	Logger        *log.Logger
}

func NewNotifier(notifications *repository.NotificationRepository, pusher Pusher, logger *log.Logger) *Notifier {
	if pusher == nil {
		pusher = NopPusher{}
	}
	return &Notifier{Notifications: notifications, Pusher: pusher, Logger: logger}
}

// Notify offers a broadcast to one provider with the given expiry (unix
// seconds). The offer row must commit; the push may not.
func (n *Notifier) Notify(ctx context.Context, b *models.BroadcastRecord, providerID int64, issuedAt, expiresAt int64) error {
	offer, err := n.Notifications.CreateOffer(ctx, b.ID, providerID, issuedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	title, body := offerText(b.Kind)
	data := map[string]string{
		"broadcast_id": fmt.Sprintf("%d", b.ID),
		"order_id":     fmt.Sprintf("%d", b.OrderID),
		"token":        offer.Token,
		"expires_at":   fmt.Sprintf("%d", expiresAt),
	}
	if err := n.Pusher.Send(ctx, []int64{providerID}, title, body, data); err != nil && n.Logger != nil {
		n.Logger.Printf("push to provider %d failed (offer persisted): %v", providerID, err)
	}
	return nil
}

func offerText(kind models.BroadcastKind) (title, body string) {
	switch kind {
	case models.BroadcastKindDelivery:
		return "New delivery request", "An order nearby is ready for pickup."
	default:
		return "New order request", "A customer nearby placed an order."
	}
}
