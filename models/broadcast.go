package models

// BroadcastKind distinguishes the three broadcast flavors. Cart and
// prescription broadcasts look for a pharmacy to fulfil the order; delivery
// broadcasts look for a courier once the order is ready for pickup.
type BroadcastKind string

const (
	BroadcastKindCartOrder         BroadcastKind = "cart_order"
	BroadcastKindPrescriptionOrder BroadcastKind = "prescription_order"
	BroadcastKindDelivery          BroadcastKind = "delivery"
)

// BroadcastPhase is the current notification phase within a round.
type BroadcastPhase string

const (
	// BroadcastPhasePriority is the tight parallel window offered to the
	// top-ranked candidates.
	BroadcastPhasePriority BroadcastPhase = "priority"
	// BroadcastPhaseExtended widens the pool after the priority window
	// expires or exhausts.
	BroadcastPhaseExtended BroadcastPhase = "extended"
)

// BroadcastStatus is the lifecycle state of a broadcast. Any value other
// than pending is terminal and never changes again.
type BroadcastStatus string

const (
	BroadcastStatusPending   BroadcastStatus = "pending"
	BroadcastStatusAccepted  BroadcastStatus = "accepted"
	BroadcastStatusFailed    BroadcastStatus = "failed"
	BroadcastStatusCancelled BroadcastStatus = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s BroadcastStatus) Terminal() bool {
	return s == BroadcastStatusAccepted || s == BroadcastStatusFailed || s == BroadcastStatusCancelled
}

// BroadcastRecord is the persistent state of one outstanding assignment
// attempt: which order is being offered, to whom, under what deadlines, and
// how it ended. Rows are never deleted; terminal records are kept for audit.
//
// NotifiedIDs is a comma-delimited list of provider IDs that have been
// offered this broadcast. It only ever grows; round escalation appends, it
// never resets.
type BroadcastRecord struct {
	ID               int64           `db:"id" json:"id"`
	Kind             BroadcastKind   `db:"kind" json:"kind"`
	OrderID          int64           `db:"order_id" json:"order_id"`
	RequestedBy      int64           `db:"requested_by" json:"requested_by"`
	OriginLat        float64         `db:"origin_lat" json:"origin_lat"`
	OriginLng        float64         `db:"origin_lng" json:"origin_lng"`
	RadiusKm         float64         `db:"radius_km" json:"radius_km"`
	MaxCandidates    int             `db:"max_candidates" json:"max_candidates"`
	Phase            BroadcastPhase  `db:"phase" json:"phase"`
	Round            int             `db:"round" json:"round"`
	Status           BroadcastStatus `db:"status" json:"status"`
	AcceptedBy       *int64          `db:"accepted_by" json:"accepted_by,omitempty"`
	ResultResourceID *int64          `db:"result_resource_id" json:"result_resource_id,omitempty"`
	NotifiedIDs      string          `db:"notified_ids" json:"notified_ids,omitempty"`
	PhaseDeadline    int64           `db:"phase_deadline" json:"phase_deadline"`     // unix seconds
	OverallDeadline  int64           `db:"overall_deadline" json:"overall_deadline"` // unix seconds
	CreatedAt        string          `db:"created_at" json:"created_at"`
}
