package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pharmacyDispatch/models"
)

// AssignmentRepository persists the downstream resources created by winning
// accepts. UNIQUE(order_id, kind) in the schema backs up the arbiter's
// compare-and-set: even a logic bug cannot produce two fulfillments for one
// order.
type AssignmentRepository struct {
	db *sql.DB
}

func NewAssignmentRepository(db *sql.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Create inserts an assignment and returns it with its generated ID.
func (r *AssignmentRepository) Create(ctx context.Context, a *models.Assignment) (*models.Assignment, error) {
	if a == nil {
		return nil, errors.New("assignment is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO assignments (order_id, provider_id, kind) VALUES (?,?,?)`,
		a.OrderID, a.ProviderID, string(a.Kind))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	a.ID = id
	return a, nil
}

// Delete removes an assignment by ID. Used to roll back a speculative
// assignment whose accept lost the broadcast race.
func (r *AssignmentRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = ?`, id)
	return err
}

// GetByID fetches an assignment by its ID.
func (r *AssignmentRepository) GetByID(ctx context.Context, id int64) (*models.Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, order_id, provider_id, kind, created_at FROM assignments WHERE id = ?`, id))
}

// GetByOrderAndKind returns the assignment of one kind for an order, if any.
// The arbiter uses this as a pre-flight double-commit check.
func (r *AssignmentRepository) GetByOrderAndKind(ctx context.Context, orderID int64, kind models.AssignmentKind) (*models.Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, order_id, provider_id, kind, created_at FROM assignments WHERE order_id = ? AND kind = ?`, orderID, string(kind)))
}

// CountByOrder returns how many assignments of one kind exist for an order.
func (r *AssignmentRepository) CountByOrder(ctx context.Context, orderID int64, kind models.AssignmentKind) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM assignments WHERE order_id = ? AND kind = ?`, orderID, string(kind)).Scan(&n)
	return n, err
}

// ListByProvider returns a provider's assignments, newest first.
func (r *AssignmentRepository) ListByProvider(ctx context.Context, providerID int64, limit int) ([]models.Assignment, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, provider_id, kind, created_at FROM assignments WHERE provider_id = ? ORDER BY id DESC LIMIT ?`,
		providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Assignment
	for rows.Next() {
		var a models.Assignment
		var kind string
		if err := rows.Scan(&a.ID, &a.OrderID, &a.ProviderID, &kind, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = models.AssignmentKind(kind)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AssignmentRepository) scanOne(row *sql.Row) (*models.Assignment, error) {
	var a models.Assignment
	var kind string
	err := row.Scan(&a.ID, &a.OrderID, &a.ProviderID, &kind, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Kind = models.AssignmentKind(kind)
	return &a, nil
}
