package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pharmacyDispatch/models"
)

// OrderRepository is the core repository for Order entities.
// It handles basic CRUD operations and query building.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order. Status defaults to 'awaiting vendor' if empty:
// a fresh order has no pharmacy yet and a vendor broadcast is expected.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) (*models.Order, error) {
	if o == nil {
		return nil, errors.New("order is nil")
	}
	if o.Status == "" {
		o.Status = models.OrderStatusAwaitingVendor
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// Use INSERT and then query back to capture placement_date
	res, err := r.db.ExecContext(ctx, `INSERT INTO orders (dest_lat, dest_lng, items, status, submitted_by) VALUES (?,?,?,?,?)`,
		o.DestLat, o.DestLng, o.Items, string(o.Status), o.SubmittedBy)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	o2, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o2 == nil {
		return nil, fmt.Errorf("created order not found: id=%d", id)
	}
	return o2, nil
}

// GetByID fetches an order by its ID.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var o models.Order
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT id, dest_lat, dest_lng, items, status, placement_date, submitted_by FROM orders WHERE id = ?`, id).
		Scan(&o.ID, &o.DestLat, &o.DestLng, &o.Items, &status, &o.PlacementAt, &o.SubmittedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	return &o, nil
}

// UpdateStatus updates the status of an order unconditionally.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, string(status), id)
	return err
}

// AdvanceStatus moves an order from one status to another in a single
// conditional UPDATE. Returns false when the order was not in the expected
// status, which callers treat as losing a race rather than an error.
func (r *OrderRepository) AdvanceStatus(ctx context.Context, id int64, from, to models.OrderStatus) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ? AND status = ?`, string(to), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByUserIDPage returns a page of orders for a user ordered by placement_date desc, id desc.
// Uses keyset pagination with a numeric cursor (placement unix seconds, id).
func (r *OrderRepository) ListByUserIDPage(ctx context.Context, userID int64, pageSize int, afterSeconds int64, afterID int64) ([]models.Order, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rows *sql.Rows
	var err error
	if afterSeconds > 0 && afterID > 0 {
		// Keyset pagination using numeric time to avoid string-format pitfalls
		rows, err = r.db.QueryContext(ctx, `
SELECT id, dest_lat, dest_lng, items, status, placement_date, submitted_by
FROM orders
WHERE submitted_by = ?
  AND (
        CAST(strftime('%s', placement_date) AS INTEGER) < ?
        OR (CAST(strftime('%s', placement_date) AS INTEGER) = ? AND id < ?)
      )
ORDER BY placement_date DESC, id DESC
LIMIT ?`, userID, afterSeconds, afterSeconds, afterID, pageSize)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT id, dest_lat, dest_lng, items, status, placement_date, submitted_by
FROM orders
WHERE submitted_by = ?
ORDER BY placement_date DESC, id DESC
LIMIT ?`, userID, pageSize)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanOrderRows(rows)
}

// ListOrdersAdminParams represents filters and pagination for ListAdmin (admin).
type ListOrdersAdminParams struct {
	Statuses     []models.OrderStatus
	SubmittedBy  *int64
	PageSize     int
	AfterSeconds int64 // keyset cursor: placement_date unix seconds
	AfterID      int64 // keyset cursor: order id
}

// ListAdmin returns orders matching filters ordered by placement_date desc, id desc with keyset pagination.
func (r *OrderRepository) ListAdmin(ctx context.Context, p ListOrdersAdminParams) ([]models.Order, error) {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var where []string
	var args []any

	if len(p.Statuses) > 0 {
		placeholders := make([]string, len(p.Statuses))
		for i, s := range p.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if p.SubmittedBy != nil {
		where = append(where, "submitted_by = ?")
		args = append(args, *p.SubmittedBy)
	}
	if p.AfterSeconds > 0 && p.AfterID > 0 {
		where = append(where, "(CAST(strftime('%s', placement_date) AS INTEGER) < ? OR (CAST(strftime('%s', placement_date) AS INTEGER) = ? AND id < ?))")
		args = append(args, p.AfterSeconds, p.AfterSeconds, p.AfterID)
	}

	query := `SELECT id, dest_lat, dest_lng, items, status, placement_date, submitted_by FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY placement_date DESC, id DESC LIMIT ?"
	args = append(args, p.PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanOrderRows(rows)
}

// scanOrderRows is a helper to scan rows into Order objects.
func (r *OrderRepository) scanOrderRows(rows *sql.Rows) ([]models.Order, error) {
	var out []models.Order
	for rows.Next() {
		var o models.Order
		var status string
		if err := rows.Scan(&o.ID, &o.DestLat, &o.DestLng, &o.Items, &status, &o.PlacementAt, &o.SubmittedBy); err != nil {
			return nil, err
		}
		o.Status = models.OrderStatus(status)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
