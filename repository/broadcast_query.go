package repository

import (
	"context"
	"strings"
	"time"

	"pharmacyDispatch/models"
)

// ListOverduePending returns pending broadcasts whose overall deadline has
// passed at the given time (unix seconds). The caller fails each of them via
// CompareAndSetStatus so a concurrent accept still wins cleanly.
func (r *BroadcastRepository) ListOverduePending(ctx context.Context, now int64) ([]models.BroadcastRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+broadcastColumns+` FROM broadcasts WHERE status = 'pending' AND overall_deadline <= ? ORDER BY id ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// ListPhaseExpired returns pending priority-phase broadcasts whose phase
// deadline has passed but whose overall deadline has not. These are due for
// escalation to the extended phase.
func (r *BroadcastRepository) ListPhaseExpired(ctx context.Context, now int64) ([]models.BroadcastRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
SELECT `+broadcastColumns+` FROM broadcasts
WHERE status = 'pending' AND phase = 'priority' AND phase_deadline <= ? AND overall_deadline > ?
ORDER BY id ASC`, now, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// ListStaleDelivery finds pending delivery broadcasts that are stuck: every
// outstanding offer has been read (responded, expired, or withdrawn) and the
// most recent offer batch was issued at least cooldownSec ago. These are the
// inputs to the re-broadcast sweep.
func (r *BroadcastRepository) ListStaleDelivery(ctx context.Context, now int64, cooldownSec int64) ([]models.BroadcastRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
SELECT `+broadcastColumns+` FROM broadcasts b
WHERE b.status = 'pending'
  AND b.kind = 'delivery'
  AND NOT EXISTS (
        SELECT 1 FROM offer_notifications n
        WHERE n.broadcast_id = b.id AND n.read = 0 AND n.expires_at > ?
      )
  AND COALESCE((SELECT MAX(n.issued_at) FROM offer_notifications n WHERE n.broadcast_id = b.id), CAST(strftime('%s', b.created_at) AS INTEGER)) <= ?
ORDER BY b.id ASC`, now, now-cooldownSec)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// ListBroadcastsAdminParams represents filters and pagination for ListAdmin.
type ListBroadcastsAdminParams struct {
	Statuses []models.BroadcastStatus
	Kind     *models.BroadcastKind
	OrderID  *int64
	PageSize int
	AfterID  int64 // keyset cursor
}

// ListAdmin returns broadcasts matching filters ordered by id desc with keyset pagination.
func (r *BroadcastRepository) ListAdmin(ctx context.Context, p ListBroadcastsAdminParams) ([]models.BroadcastRecord, error) {
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
	if p.Kind != nil {
		where = append(where, "kind = ?")
		args = append(args, string(*p.Kind))
	}
	if p.OrderID != nil {
		where = append(where, "order_id = ?")
		args = append(args, *p.OrderID)
	}
	if p.AfterID > 0 {
		where = append(where, "id < ?")
		args = append(args, p.AfterID)
	}

	query := `SELECT ` + broadcastColumns + ` FROM broadcasts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, p.PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}
