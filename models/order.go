package models

// OrderStatus represents the current progress of an order.
type OrderStatus string

const (
	// OrderStatusAwaitingVendor means a vendor broadcast is outstanding.
	OrderStatusAwaitingVendor OrderStatus = "awaiting vendor"
	OrderStatusPlaced         OrderStatus = "placed"
	OrderStatusReadyForPickup OrderStatus = "ready for pickup"
	OrderStatusOutForDelivery OrderStatus = "out for delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusFailed         OrderStatus = "failed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// Order represents a pharmacy order (cart or prescription) with a one-to-one
// relation to User via SubmittedBy. DestLat/DestLng is the delivery address,
// which doubles as the broadcast origin for candidate selection.
type Order struct {
	ID          int64       `db:"id" json:"id"`
	DestLat     float64     `db:"dest_lat" json:"dest_lat"`
	DestLng     float64     `db:"dest_lng" json:"dest_lng"`
	Items       string      `db:"items" json:"items"`
	SubmittedBy int64       `db:"submitted_by" json:"submitted_by"`
	Status      OrderStatus `db:"status" json:"status"`
	PlacementAt string      `db:"placement_date" json:"placement_date"`
}
