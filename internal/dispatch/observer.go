package dispatch

import (
	"context"
	"time"

	"pharmacyDispatch/models"
	"pharmacyDispatch/repository"
)

// Observer follows one broadcast on behalf of a requester. It merges two
// update sources, the in-process hub and a periodic poll of the row, into a
// single ordered stream through an idempotent reducer: duplicate and
// out-of-order snapshots collapse, and once a terminal status is seen no
// later update can override it.
//
// If the overall deadline passes without a terminal status arriving, the
// observer synthesizes a failed snapshot so the watcher never waits forever
// on a stalled backend.
type Observer struct {
	Broadcasts   *repository.BroadcastRepository
	Hub          *Hub
	Clock        Clock
	PollInterval time.Duration
}

func NewObserver(broadcasts *repository.BroadcastRepository, hub *Hub, clock Clock, pollInterval time.Duration) *Observer {
	if clock == nil {
		clock = SystemClock()
	}
	if hub == nil {
		hub = NewHub()
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Observer{
		Broadcasts:   broadcasts,
		Hub:          hub,
		Clock:        clock,
		PollInterval: pollInterval,
	}
}

// Watch streams state snapshots for broadcastID until it reaches a terminal
// status or ctx is done. The first element is the current state; every later
// element strictly advances it. The channel closes after the terminal
// snapshot is delivered.
func (o *Observer) Watch(ctx context.Context, broadcastID int64) (<-chan models.BroadcastRecord, error) {
	initial, err := o.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if initial == nil {
		return nil, ErrNotFound
	}

	out := make(chan models.BroadcastRecord, 8)
	updates, cancel := o.Hub.Subscribe(broadcastID)

	go func() {
		defer close(out)
		defer cancel()

		current := *initial
		out <- current
		if current.Status.Terminal() {
			return
		}

		ticker := time.NewTicker(o.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case next := <-updates:
				if o.emit(ctx, out, &current, next) {
					return
				}
			case <-ticker.C:
				if b, err := o.Broadcasts.GetByID(ctx, broadcastID); err == nil && b != nil {
					if o.emit(ctx, out, &current, *b) {
						return
					}
				}
				// The countdown is local wall time so the watcher resolves
				// even when the poll itself keeps failing.
				if o.Clock.Now().Unix() > current.OverallDeadline {
					timedOut := current
					timedOut.Status = models.BroadcastStatusFailed
					o.emit(ctx, out, &current, timedOut)
					return
				}
			}
		}
	}()
	return out, nil
}

// emit applies one incoming snapshot to the current state and forwards it if
// it changed anything. Returns true when the stream reached a terminal state.
func (o *Observer) emit(ctx context.Context, out chan<- models.BroadcastRecord, current *models.BroadcastRecord, incoming models.BroadcastRecord) bool {
	next, changed := applyBroadcastUpdate(*current, incoming)
	if !changed {
		return current.Status.Terminal()
	}
	*current = next
	select {
	case out <- next:
	case <-ctx.Done():
		return true
	}
	return next.Status.Terminal()
}

// applyBroadcastUpdate is the reducer shared by hub events and poll results.
// A terminal current state is sticky: nothing replaces it. Non-terminal
// updates must actually move the state machine forward (terminal status,
// later phase, higher round, or a grown notified set) to count as a change,
// which makes replayed and reordered snapshots harmless.
func applyBroadcastUpdate(current, incoming models.BroadcastRecord) (models.BroadcastRecord, bool) {
	if current.Status.Terminal() {
		return current, false
	}
	if incoming.Status.Terminal() {
		return incoming, true
	}
	if incoming.Round < current.Round {
		return current, false
	}
	if incoming.Round == current.Round {
		if current.Phase == models.BroadcastPhaseExtended && incoming.Phase == models.BroadcastPhasePriority {
			return current, false
		}
		if incoming.Phase == current.Phase && len(incoming.NotifiedIDs) <= len(current.NotifiedIDs) {
			return current, false
		}
	}
	return incoming, true
}
