package models

// OfferResponse is a candidate's recorded decision on an offer.
type OfferResponse string

const (
	OfferResponseAccept OfferResponse = "accept"
	OfferResponseReject OfferResponse = "reject"
)

// OfferNotification is one offer to one provider for one broadcast. It is
// created when the scheduler notifies a candidate and marked read when the
// candidate responds, when its own deadline passes, or when another candidate
// wins and the offer is withdrawn. There is at most one row per
// (broadcast, provider) pair, so re-notifying is naturally idempotent.
type OfferNotification struct {
	ID          int64          `db:"id" json:"id"`
	BroadcastID int64          `db:"broadcast_id" json:"broadcast_id"`
	ProviderID  int64          `db:"provider_id" json:"provider_id"`
	Token       string         `db:"token" json:"token"` // uuid, audit/idempotency key
	IssuedAt    int64          `db:"issued_at" json:"issued_at"`   // unix seconds
	ExpiresAt   int64          `db:"expires_at" json:"expires_at"` // unix seconds
	Read        bool           `db:"read" json:"read"`
	Responded   bool           `db:"responded" json:"responded"`
	Response    *OfferResponse `db:"response" json:"response,omitempty"`
	Reason      *string        `db:"reason" json:"reason,omitempty"`
}

// UserNotification is a requester-facing notice inserted on terminal
// broadcast transitions.
type UserNotification struct {
	ID        int64  `db:"id" json:"id"`
	UserID    int64  `db:"user_id" json:"user_id"`
	OrderID   int64  `db:"order_id" json:"order_id"`
	Title     string `db:"title" json:"title"`
	Body      string `db:"body" json:"body"`
	Read      bool   `db:"read" json:"read"`
	CreatedAt string `db:"created_at" json:"created_at"`
}
