package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pharmacyDispatch/models"
)

// BroadcastRepository persists BroadcastRecord rows. The broadcast row is the
// only shared mutable resource in the dispatch protocol, and every write that
// can race (acceptance, cancellation, phase escalation, deadline failure) goes
// through a conditional UPDATE on the current status. CompareAndSetStatus is
// the sole mutual-exclusion mechanism; there is no lock manager anywhere else.
type BroadcastRepository struct {
	db *sql.DB
}

func NewBroadcastRepository(db *sql.DB) *BroadcastRepository {
	return &BroadcastRepository{db: db}
}

const broadcastColumns = `id, kind, order_id, requested_by, origin_lat, origin_lng, radius_km, max_candidates, phase, round, status, accepted_by, result_resource_id, notified_ids, phase_deadline, overall_deadline, created_at`

// Create inserts a new broadcast. Phase defaults to 'priority' and status to
// 'pending' if empty.
func (r *BroadcastRepository) Create(ctx context.Context, b *models.BroadcastRecord) (*models.BroadcastRecord, error) {
	if b == nil {
		return nil, errors.New("broadcast is nil")
	}
	if b.Phase == "" {
		b.Phase = models.BroadcastPhasePriority
	}
	if b.Status == "" {
		b.Status = models.BroadcastStatusPending
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `INSERT INTO broadcasts (kind, order_id, requested_by, origin_lat, origin_lng, radius_km, max_candidates, phase, round, status, notified_ids, phase_deadline, overall_deadline) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		string(b.Kind), b.OrderID, b.RequestedBy, b.OriginLat, b.OriginLng, b.RadiusKm, b.MaxCandidates,
		string(b.Phase), b.Round, string(b.Status), b.NotifiedIDs, b.PhaseDeadline, b.OverallDeadline)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	b2, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b2 == nil {
		return nil, fmt.Errorf("created broadcast not found: id=%d", id)
	}
	return b2, nil
}

// GetByID fetches a broadcast by its ID.
func (r *BroadcastRepository) GetByID(ctx context.Context, id int64) (*models.BroadcastRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.scanOne(r.db.QueryRowContext(ctx, `SELECT `+broadcastColumns+` FROM broadcasts WHERE id = ?`, id))
}

// GetPendingByOrder returns the pending broadcast of the given kind for an
// order, if one exists.
func (r *BroadcastRepository) GetPendingByOrder(ctx context.Context, orderID int64, kind models.BroadcastKind) (*models.BroadcastRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+broadcastColumns+` FROM broadcasts WHERE order_id = ? AND kind = ? AND status = 'pending' ORDER BY id DESC LIMIT 1`,
		orderID, string(kind)))
}

// CompareAndSetStatus atomically transitions a broadcast from expected status
// to a new status, optionally setting accepted_by and result_resource_id in
// the same statement. It returns false when the row was no longer in the
// expected status, i.e. the caller lost the race. The single conditional
// UPDATE is atomic at the storage layer; two concurrent accepts cannot both
// see RowsAffected == 1.
func (r *BroadcastRepository) CompareAndSetStatus(ctx context.Context, id int64, expected, next models.BroadcastStatus, acceptedBy, resultResourceID *int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx,
		`UPDATE broadcasts SET status = ?, accepted_by = ?, result_resource_id = ? WHERE id = ? AND status = ?`,
		string(next), acceptedBy, resultResourceID, id, string(expected))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AdvancePhase moves a pending broadcast to the given phase with a fresh
// phase deadline. Conditioned on status = 'pending' so escalation cannot
// revive a broadcast that terminated in the meantime.
func (r *BroadcastRepository) AdvancePhase(ctx context.Context, id int64, phase models.BroadcastPhase, phaseDeadline int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx,
		`UPDATE broadcasts SET phase = ?, phase_deadline = ? WHERE id = ? AND status = 'pending'`,
		string(phase), phaseDeadline, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// StartRound bumps a pending broadcast to a new escalation round, resetting
// the phase to 'priority' with a widened radius and fresh deadlines.
func (r *BroadcastRepository) StartRound(ctx context.Context, id int64, round int, radiusKm float64, phaseDeadline, overallDeadline int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx,
		`UPDATE broadcasts SET round = ?, radius_km = ?, phase = 'priority', phase_deadline = ?, overall_deadline = ? WHERE id = ? AND status = 'pending'`,
		round, radiusKm, phaseDeadline, overallDeadline, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendNotified adds a provider ID to the broadcast's notified_ids
// (comma-delimited). The list only ever grows.
func (r *BroadcastRepository) AppendNotified(ctx context.Context, id int64, providerID int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	providerIDStr := fmt.Sprintf("%d", providerID)
	_, err := r.db.ExecContext(ctx, `
UPDATE broadcasts SET notified_ids = CASE
  WHEN notified_ids IS NULL OR notified_ids = '' THEN ?
  ELSE notified_ids || ',' || ?
END WHERE id = ?`, providerIDStr, providerIDStr, id)
	return err
}

// IsNotified checks if a provider ID is already in the broadcast's notified_ids.
func (r *BroadcastRepository) IsNotified(ctx context.Context, id int64, providerID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM broadcasts WHERE id = ? AND instr(',' || COALESCE(notified_ids,'') || ',', ',' || ? || ',') > 0`,
		id, fmt.Sprintf("%d", providerID)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *BroadcastRepository) scanOne(row *sql.Row) (*models.BroadcastRecord, error) {
	var b models.BroadcastRecord
	var kind, phase, status string
	var acceptedBy, resultID sql.NullInt64
	var notified sql.NullString
	err := row.Scan(&b.ID, &kind, &b.OrderID, &b.RequestedBy, &b.OriginLat, &b.OriginLng, &b.RadiusKm, &b.MaxCandidates,
		&phase, &b.Round, &status, &acceptedBy, &resultID, &notified, &b.PhaseDeadline, &b.OverallDeadline, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	b.Kind = models.BroadcastKind(kind)
	b.Phase = models.BroadcastPhase(phase)
	b.Status = models.BroadcastStatus(status)
	if acceptedBy.Valid {
		v := acceptedBy.Int64
		b.AcceptedBy = &v
	}
	if resultID.Valid {
		v := resultID.Int64
		b.ResultResourceID = &v
	}
	if notified.Valid {
		b.NotifiedIDs = notified.String
	}
	return &b, nil
}

func (r *BroadcastRepository) scanRows(rows *sql.Rows) ([]models.BroadcastRecord, error) {
	var out []models.BroadcastRecord
	for rows.Next() {
		var b models.BroadcastRecord
		var kind, phase, status string
		var acceptedBy, resultID sql.NullInt64
		var notified sql.NullString
		if err := rows.Scan(&b.ID, &kind, &b.OrderID, &b.RequestedBy, &b.OriginLat, &b.OriginLng, &b.RadiusKm, &b.MaxCandidates,
			&phase, &b.Round, &status, &acceptedBy, &resultID, &notified, &b.PhaseDeadline, &b.OverallDeadline, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Kind = models.BroadcastKind(kind)
		b.Phase = models.BroadcastPhase(phase)
		b.Status = models.BroadcastStatus(status)
		if acceptedBy.Valid {
			v := acceptedBy.Int64
			b.AcceptedBy = &v
		}
		if resultID.Valid {
			v := resultID.Int64
			b.ResultResourceID = &v
		}
		if notified.Valid {
			b.NotifiedIDs = notified.String
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
