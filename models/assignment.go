package models

// AssignmentKind is the flavor of downstream resource a winning accept creates.
type AssignmentKind string

const (
	// AssignmentKindFulfillment binds a pharmacy to an order.
	AssignmentKindFulfillment AssignmentKind = "fulfillment"
	// AssignmentKindDelivery binds a courier to a ready order.
	AssignmentKindDelivery AssignmentKind = "delivery"
)

// Assignment is the downstream resource created exactly once per broadcast
// when an accept wins arbitration. The schema enforces UNIQUE(order_id, kind)
// as a backstop against double-commit; an assignment created by an accept that
// then loses the compare-and-set race is deleted again.
type Assignment struct {
	ID         int64          `db:"id" json:"id"`
	OrderID    int64          `db:"order_id" json:"order_id"`
	ProviderID int64          `db:"provider_id" json:"provider_id"`
	Kind       AssignmentKind `db:"kind" json:"kind"`
	CreatedAt  string         `db:"created_at" json:"created_at"`
}
