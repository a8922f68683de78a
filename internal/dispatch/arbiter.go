package dispatch

import (
	"context"
	"fmt"
	"log"

	"pharmacyDispatch/models"
	"pharmacyDispatch/repository"
)

// RespondResult is the outcome of a candidate's accept/reject. Losing a race
// is not an error: Success is false and Reason carries the "no longer
// available" signal.
type RespondResult struct {
	Success          bool
	ResultResourceID *int64
	Reason           string
}

// Arbiter decides which candidate response wins a broadcast. Mutual
// exclusion rests entirely on the broadcast repository's CompareAndSetStatus:
// the assignment is created first, then the conditional update commits it,
// and a lost race deletes the speculative assignment again. No partial state
// survives: the broadcast is never 'accepted' without a committed assignment.
type Arbiter struct {
	Broadcasts    *repository.BroadcastRepository
	Orders        *repository.OrderRepository
	Notifications *repository.NotificationRepository
	Assignments   *repository.AssignmentRepository
	Hub           *Hub
	Clock         Clock
	// Engine, when set, is poked for early phase escalation after the last
	// outstanding candidate rejects. An optimization, not a correctness
	// requirement.
	Engine *Engine
	Logger *log.Logger
}

func NewArbiter(broadcasts *repository.BroadcastRepository, orders *repository.OrderRepository, notifications *repository.NotificationRepository, assignments *repository.AssignmentRepository, hub *Hub, clock Clock, engine *Engine, logger *log.Logger) *Arbiter {
	if clock == nil {
		clock = SystemClock()
	}
	if hub == nil {
		hub = NewHub()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Arbiter{
		Broadcasts:    broadcasts,
		Orders:        orders,
		Notifications: notifications,
		Assignments:   assignments,
		Hub:           hub,
		Clock:         clock,
		Engine:        engine,
		Logger:        logger,
	}
}

// Respond processes one candidate's decision on one broadcast.
//
// Rejects are commutative and idempotent: they mark the offer responded and
// always succeed, even after the broadcast terminated. Accepts go through
// the critical section: pre-flight double-commit check, assignment creation,
// then the compare-and-set on the broadcast row. Exactly one accept can win;
// every other accept observes ReasonAlreadyResolved.
func (a *Arbiter) Respond(ctx context.Context, broadcastID, providerID int64, decision models.OfferResponse, reason *string) (*RespondResult, error) {
	b, err := a.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}

	if b.Status.Terminal() {
		return a.respondResolved(ctx, b, providerID, decision, reason)
	}

	now := a.Clock.Now().Unix()
	if now > b.OverallDeadline {
		// Fail as a side effect; whoever raced us to a terminal state wins.
		if a.Engine != nil {
			_ = a.Engine.failBroadcast(ctx, b)
		} else {
			_, _ = a.Broadcasts.CompareAndSetStatus(ctx, b.ID, models.BroadcastStatusPending, models.BroadcastStatusFailed, nil, nil)
		}
		return a.respondResolved(ctx, b, providerID, decision, reason)
	}

	if decision == models.OfferResponseReject {
		return a.respondReject(ctx, b, providerID, reason)
	}
	return a.respondAccept(ctx, b, providerID, now)
}

// respondResolved handles responses that arrive after the broadcast is
// terminal (or past its overall deadline, which amounts to the same thing).
func (a *Arbiter) respondResolved(ctx context.Context, b *models.BroadcastRecord, providerID int64, decision models.OfferResponse, reason *string) (*RespondResult, error) {
	if decision == models.OfferResponseReject {
		// Idempotent no-op beyond marking the offer read.
		if err := a.Notifications.MarkResponded(ctx, b.ID, providerID, models.OfferResponseReject, reason); err != nil {
			return nil, err
		}
		return &RespondResult{Success: true}, nil
	}
	return &RespondResult{Reason: ReasonAlreadyResolved}, nil
}

func (a *Arbiter) respondReject(ctx context.Context, b *models.BroadcastRecord, providerID int64, reason *string) (*RespondResult, error) {
	if err := a.Notifications.MarkResponded(ctx, b.ID, providerID, models.OfferResponseReject, reason); err != nil {
		return nil, err
	}
	if a.Engine != nil {
		// If that was the last outstanding candidate, escalate now instead
		// of waiting out the phase deadline.
		unresponded, err := a.Notifications.CountUnresponded(ctx, b.ID)
		if err == nil && unresponded == 0 {
			_ = a.Engine.EscalatePhase(ctx, b.ID)
		}
	}
	return &RespondResult{Success: true}, nil
}

func (a *Arbiter) respondAccept(ctx context.Context, b *models.BroadcastRecord, providerID int64, now int64) (*RespondResult, error) {
	offer, err := a.Notifications.GetOffer(ctx, b.ID, providerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrNotNotified
	}
	if now > offer.ExpiresAt {
		return &RespondResult{Reason: ReasonOfferExpired}, nil
	}

	// Defense in depth: the status read above can race with a concurrent
	// accept, but an existing assignment is proof the broadcast is decided.
	kind := assignmentKind(b.Kind)
	existing, err := a.Assignments.GetByOrderAndKind(ctx, b.OrderID, kind)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &RespondResult{Reason: ReasonAlreadyResolved}, nil
	}

	created, err := a.Assignments.Create(ctx, &models.Assignment{
		OrderID:    b.OrderID,
		ProviderID: providerID,
		Kind:       kind,
	})
	if err != nil {
		// Includes losing to a concurrent accept at the UNIQUE(order_id,
		// kind) constraint; either way the broadcast row stays untouched.
		if again, gerr := a.Assignments.GetByOrderAndKind(ctx, b.OrderID, kind); gerr == nil && again != nil {
			return &RespondResult{Reason: ReasonAlreadyResolved}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrResourceCreation, err)
	}

	// The commit point. Only one concurrent accept can flip pending->accepted.
	won, err := a.Broadcasts.CompareAndSetStatus(ctx, b.ID, models.BroadcastStatusPending, models.BroadcastStatusAccepted, &providerID, &created.ID)
	if err != nil {
		_ = a.Assignments.Delete(ctx, created.ID)
		return nil, err
	}
	if !won {
		// Lost the race: discard the speculative assignment.
		if derr := a.Assignments.Delete(ctx, created.ID); derr != nil {
			return nil, derr
		}
		return &RespondResult{Reason: ReasonAlreadyResolved}, nil
	}

	// Post-commit bookkeeping. The CAS is authoritative; everything below is
	// visible-state cleanup that late responders do not depend on. Failures
	// here are logged, never returned: the winner's accept already committed
	// and a retry would only be told the broadcast is resolved.
	if err := a.Notifications.MarkResponded(ctx, b.ID, providerID, models.OfferResponseAccept, nil); err != nil {
		a.Logger.Printf("broadcast %d: mark winner responded: %v", b.ID, err)
	}
	if err := a.Notifications.ExpireSiblings(ctx, b.ID, providerID); err != nil {
		a.Logger.Printf("broadcast %d: expire sibling offers: %v", b.ID, err)
	}
	from, to := orderTransition(b.Kind)
	if _, err := a.Orders.AdvanceStatus(ctx, b.OrderID, from, to); err != nil {
		a.Logger.Printf("broadcast %d: advance order %d: %v", b.ID, b.OrderID, err)
	}
	title, body := acceptanceText(b.Kind)
	if err := a.Notifications.CreateUserNotification(ctx, b.RequestedBy, b.OrderID, title, body); err != nil {
		a.Logger.Printf("broadcast %d: notify requester: %v", b.ID, err)
	}
	if rec, err := a.Broadcasts.GetByID(ctx, b.ID); err == nil && rec != nil {
		a.Hub.Publish(*rec)
	}
	return &RespondResult{Success: true, ResultResourceID: &created.ID}, nil
}

func assignmentKind(kind models.BroadcastKind) models.AssignmentKind {
	if kind == models.BroadcastKindDelivery {
		return models.AssignmentKindDelivery
	}
	return models.AssignmentKindFulfillment
}

func orderTransition(kind models.BroadcastKind) (from, to models.OrderStatus) {
	if kind == models.BroadcastKindDelivery {
		return models.OrderStatusReadyForPickup, models.OrderStatusOutForDelivery
	}
	return models.OrderStatusAwaitingVendor, models.OrderStatusPlaced
}

func acceptanceText(kind models.BroadcastKind) (title, body string) {
	if kind == models.BroadcastKindDelivery {
		return "Delivery partner assigned", "A delivery partner accepted your order and is on the way."
	}
	return "Order accepted", "A pharmacy accepted your order and is preparing it."
}
