package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"pharmacyDispatch/internal/config"
	"pharmacyDispatch/models"
	"pharmacyDispatch/repository"
)

// Config holds the timing and search knobs of the broadcast state machine.
type Config struct {
	BaseRadiusKm        float64
	MaxCandidates       int
	PriorityWindow      time.Duration
	OverallWindow       time.Duration
	RebroadcastCooldown time.Duration
	// BatchClusterWindow is the maximum gap between offer timestamps that
	// still counts as one notification batch when reconstructing the round
	// number from history.
	BatchClusterWindow time.Duration
	MaxRounds          int
}

// DefaultConfig mirrors production behavior: five candidates within 10 km,
// 15 s priority window, 3 minute overall budget, 3 minute re-broadcast
// cooldown, at most 3 rounds.
func DefaultConfig() Config {
	return Config{
		BaseRadiusKm:        10,
		MaxCandidates:       5,
		PriorityWindow:      15 * time.Second,
		OverallWindow:       3 * time.Minute,
		RebroadcastCooldown: 3 * time.Minute,
		BatchClusterWindow:  10 * time.Second,
		MaxRounds:           3,
	}
}

// ConfigFromApp maps the application's env-derived dispatch settings onto a Config.
func ConfigFromApp(dc config.DispatchConfig) Config {
	c := DefaultConfig()
	if dc.BaseRadiusKm > 0 {
		c.BaseRadiusKm = dc.BaseRadiusKm
	}
	if dc.MaxCandidates > 0 {
		c.MaxCandidates = dc.MaxCandidates
	}
	if dc.PriorityWindowSec > 0 {
		c.PriorityWindow = time.Duration(dc.PriorityWindowSec) * time.Second
	}
	if dc.OverallWindowSec > 0 {
		c.OverallWindow = time.Duration(dc.OverallWindowSec) * time.Second
	}
	if dc.RebroadcastCooldown > 0 {
		c.RebroadcastCooldown = dc.RebroadcastCooldown
	}
	if dc.MaxRounds > 0 {
		c.MaxRounds = dc.MaxRounds
	}
	return c
}

// Engine drives the broadcast state machine: round 0 creation, phase
// escalation, overall-deadline failure, and the delivery re-broadcast sweep.
// Every write that could race with an accept or a cancel is conditioned on
// status = 'pending'; the engine never retracts an outstanding offer, it only
// adds candidates or widens the radius.
type Engine struct {
	Broadcasts    *repository.BroadcastRepository
	Orders        *repository.OrderRepository
	Providers     *repository.ProviderRepository
	Notifications *repository.NotificationRepository
	Notifier      *Notifier
	Hub           *Hub
	Clock         Clock
	Cfg           Config
	Logger        *log.Logger
}

func NewEngine(broadcasts *repository.BroadcastRepository, orders *repository.OrderRepository, providers *repository.ProviderRepository, notifications *repository.NotificationRepository, notifier *Notifier, hub *Hub, clock Clock, cfg Config, logger *log.Logger) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Engine{
		Broadcasts:    broadcasts,
		Orders:        orders,
		Providers:     providers,
		Notifications: notifications,
		Notifier:      notifier,
		Hub:           hub,
		Clock:         clock,
		Cfg:           cfg,
		Logger:        logger,
	}
}

// phaseWindow returns the priority-phase length for a broadcast kind.
// Prescription broadcasts are the degenerate phase-less flavor: their
// priority window spans the whole overall budget, so the extended phase is
// never entered.
func (e *Engine) phaseWindow(kind models.BroadcastKind) time.Duration {
	if kind == models.BroadcastKindPrescriptionOrder {
		return e.Cfg.OverallWindow
	}
	return e.Cfg.PriorityWindow
}

func (e *Engine) providerKind(kind models.BroadcastKind) models.ProviderKind {
	if kind == models.BroadcastKindDelivery {
		return models.ProviderKindCourier
	}
	return models.ProviderKindPharmacy
}

// Start creates a broadcast for an order (round 0, priority phase), selects
// the top candidates inside the base radius, and offers to each of them. An
// empty candidate set is not fatal: the broadcast stays pending and phase
// escalation or the sweep widens the search.
func (e *Engine) Start(ctx context.Context, order *models.Order, kind models.BroadcastKind) (*models.BroadcastRecord, error) {
	if order == nil {
		return nil, fmt.Errorf("order is nil")
	}
	now := e.Clock.Now()
	b, err := e.Broadcasts.Create(ctx, &models.BroadcastRecord{
		Kind:            kind,
		OrderID:         order.ID,
		RequestedBy:     order.SubmittedBy,
		OriginLat:       order.DestLat,
		OriginLng:       order.DestLng,
		RadiusKm:        e.Cfg.BaseRadiusKm,
		MaxCandidates:   e.Cfg.MaxCandidates,
		PhaseDeadline:   now.Add(e.phaseWindow(kind)).Unix(),
		OverallDeadline: now.Add(e.Cfg.OverallWindow).Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("create broadcast: %w", err)
	}

	if err := e.notifyBatch(ctx, b, b.RadiusKm, e.Cfg.MaxCandidates, b.PhaseDeadline); err != nil {
		return nil, err
	}
	return e.publish(ctx, b.ID)
}

// EscalatePhase moves a pending priority-phase broadcast to the extended
// phase when its phase deadline has passed or every notified candidate has
// already rejected (early exhaustion). The extended pool drops the candidate
// cap; already-notified providers keep their outstanding offers untouched.
func (e *Engine) EscalatePhase(ctx context.Context, broadcastID int64) error {
	b, err := e.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if b == nil || b.Status.Terminal() || b.Phase != models.BroadcastPhasePriority {
		return nil
	}
	now := e.Clock.Now().Unix()
	if now >= b.OverallDeadline {
		return e.failBroadcast(ctx, b)
	}
	if now < b.PhaseDeadline {
		unresponded, err := e.Notifications.CountUnresponded(ctx, b.ID)
		if err != nil {
			return err
		}
		if unresponded > 0 {
			return nil // phase still live
		}
	}

	ok, err := e.Broadcasts.AdvancePhase(ctx, b.ID, models.BroadcastPhaseExtended, b.OverallDeadline)
	if err != nil {
		return err
	}
	if !ok {
		return nil // terminated concurrently
	}
	if err := e.notifyBatch(ctx, b, b.RadiusKm, 0, b.OverallDeadline); err != nil {
		return err
	}
	_, err = e.publish(ctx, b.ID)
	return err
}

// EscalateDue runs EscalatePhase over every broadcast whose priority window
// has lapsed. Returns how many were examined.
func (e *Engine) EscalateDue(ctx context.Context) (int, error) {
	due, err := e.Broadcasts.ListPhaseExpired(ctx, e.Clock.Now().Unix())
	if err != nil {
		return 0, err
	}
	for i := range due {
		if err := e.EscalatePhase(ctx, due[i].ID); err != nil {
			return i, err
		}
	}
	return len(due), nil
}

// FailOverdue marks every pending broadcast past its overall deadline as
// failed. Returns how many terminal transitions it performed.
func (e *Engine) FailOverdue(ctx context.Context) (int, error) {
	overdue, err := e.Broadcasts.ListOverduePending(ctx, e.Clock.Now().Unix())
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range overdue {
		if err := e.failBroadcast(ctx, &overdue[i]); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Cancel is the requester-initiated terminal transition. It uses the same
// compare-and-set as acceptance, so a racing accept and cancel resolve to
// whichever writes first.
func (e *Engine) Cancel(ctx context.Context, broadcastID int64) (bool, error) {
	b, err := e.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, ErrNotFound
	}
	ok, err := e.Broadcasts.CompareAndSetStatus(ctx, b.ID, models.BroadcastStatusPending, models.BroadcastStatusCancelled, nil, nil)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := e.Notifications.ExpireSiblings(ctx, b.ID, 0); err != nil {
		return true, err
	}
	if b.Kind != models.BroadcastKindDelivery {
		_, _ = e.Orders.AdvanceStatus(ctx, b.OrderID, models.OrderStatusAwaitingVendor, models.OrderStatusCancelled)
	}
	_, err = e.publish(ctx, b.ID)
	return true, err
}

// Sweep re-broadcasts stuck delivery jobs: pending, every offer dead, and at
// least the cooldown elapsed since the last notification batch. The round
// number is reconstructed from offer history (batches of offers issued
// within BatchClusterWindow of each other); round >= MaxRounds leaves the
// job for manual handling. Each new round multiplies the base radius by
// round+1 and refreshes both deadlines.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	now := e.Clock.Now()
	stale, err := e.Broadcasts.ListStaleDelivery(ctx, now.Unix(), int64(e.Cfg.RebroadcastCooldown/time.Second))
	if err != nil {
		return 0, err
	}
	started := 0
	for i := range stale {
		b := &stale[i]
		offers, err := e.Notifications.ListOffersByBroadcast(ctx, b.ID)
		if err != nil {
			return started, err
		}
		round := e.countBatches(offers)
		if b.Round+1 > round {
			// A widened radius that found nobody leaves no new offer batch
			// behind; the stored round keeps the counter moving anyway.
			round = b.Round + 1
		}
		if round >= e.Cfg.MaxRounds {
			if e.Logger != nil {
				e.Logger.Printf("broadcast %d exhausted %d rounds, leaving for manual handling", b.ID, round)
			}
			continue
		}
		radius := e.Cfg.BaseRadiusKm * float64(round+1)
		phaseDeadline := now.Add(e.phaseWindow(b.Kind)).Unix()
		overallDeadline := now.Add(e.Cfg.OverallWindow).Unix()
		ok, err := e.Broadcasts.StartRound(ctx, b.ID, round, radius, phaseDeadline, overallDeadline)
		if err != nil {
			return started, err
		}
		if !ok {
			continue // terminated concurrently
		}
		b.RadiusKm = radius
		if err := e.notifyBatch(ctx, b, radius, e.Cfg.MaxCandidates, phaseDeadline); err != nil {
			return started, err
		}
		if _, err := e.publish(ctx, b.ID); err != nil {
			return started, err
		}
		started++
	}
	return started, nil
}

// notifyBatch selects up to max candidates inside radiusKm that have not yet
// been offered this broadcast, appends them to the notified set, and
// dispatches an offer to each. max <= 0 means no cap.
func (e *Engine) notifyBatch(ctx context.Context, b *models.BroadcastRecord, radiusKm float64, max int, expiresAt int64) error {
	now := e.Clock.Now()
	pool, err := e.Providers.ListByKind(ctx, e.providerKind(b.Kind))
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}
	candidates := SelectCandidates(b.OriginLat, b.OriginLng, pool, radiusKm, 0, now)

	sent := 0
	for _, c := range candidates {
		if max > 0 && sent >= max {
			break
		}
		seen, err := e.Broadcasts.IsNotified(ctx, b.ID, c.Provider.ID)
		if err != nil {
			return err
		}
		if seen {
			continue
		}
		if err := e.Broadcasts.AppendNotified(ctx, b.ID, c.Provider.ID); err != nil {
			return err
		}
		if err := e.Notifier.Notify(ctx, b, c.Provider.ID, now.Unix(), expiresAt); err != nil {
			return err
		}
		sent++
	}
	return nil
}

// countBatches reconstructs how many notification rounds a broadcast has had
// from the issue timestamps of its offers. Offers issued within
// BatchClusterWindow of the previous one belong to the same batch.
func (e *Engine) countBatches(offers []models.OfferNotification) int {
	if len(offers) == 0 {
		return 0
	}
	gap := int64(e.Cfg.BatchClusterWindow / time.Second)
	batches := 1
	prev := offers[0].IssuedAt
	for _, o := range offers[1:] {
		if o.IssuedAt-prev > gap {
			batches++
		}
		prev = o.IssuedAt
	}
	return batches
}

// failBroadcast terminally fails a broadcast, withdraws its outstanding
// offers, reflects the failure on the order (vendor broadcasts only; a
// failed delivery search leaves the order ready for pickup), and tells the
// requester. Conditioned on pending, so a concurrent accept wins.
func (e *Engine) failBroadcast(ctx context.Context, b *models.BroadcastRecord) error {
	ok, err := e.Broadcasts.CompareAndSetStatus(ctx, b.ID, models.BroadcastStatusPending, models.BroadcastStatusFailed, nil, nil)
	if err != nil {
		return err
	}
	if !ok {
		return nil // accepted or cancelled first
	}
	if err := e.Notifications.ExpireSiblings(ctx, b.ID, 0); err != nil {
		return err
	}
	if b.Kind != models.BroadcastKindDelivery {
		_, _ = e.Orders.AdvanceStatus(ctx, b.OrderID, models.OrderStatusAwaitingVendor, models.OrderStatusFailed)
	}
	title, body := failureText(b.Kind)
	if err := e.Notifications.CreateUserNotification(ctx, b.RequestedBy, b.OrderID, title, body); err != nil {
		return err
	}
	_, err = e.publish(ctx, b.ID)
	return err
}

func failureText(kind models.BroadcastKind) (title, body string) {
	if kind == models.BroadcastKindDelivery {
		return "Delivery search failed", "No delivery partner accepted your order. We are looking into it."
	}
	return "Order not accepted", "No pharmacy accepted your order. Please try again."
}

// publish reloads the row and fans the committed snapshot out on the hub.
func (e *Engine) publish(ctx context.Context, broadcastID int64) (*models.BroadcastRecord, error) {
	b, err := e.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b != nil {
		e.Hub.Publish(*b)
	}
	return b, nil
}
