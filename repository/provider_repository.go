package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pharmacyDispatch/models"
)

type ProviderRepository struct {
	db *sql.DB
}

func NewProviderRepository(db *sql.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// Create inserts a new provider. Providers start unavailable and unverified
// unless the model says otherwise.
func (r *ProviderRepository) Create(ctx context.Context, p *models.Provider) (*models.Provider, error) {
	if p == nil {
		return nil, errors.New("provider is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `INSERT INTO providers (name, kind, lat, lng, location_at, available, verified) VALUES (?,?,?,?,?,?,?)`,
		p.Name, string(p.Kind), p.Lat, p.Lng, p.LocationAt, p.Available, p.Verified)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	p.ID = id
	return p, nil
}

func (r *ProviderRepository) GetByID(ctx context.Context, id int64) (*models.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.scanOne(r.db.QueryRowContext(ctx, `SELECT id, name, kind, lat, lng, location_at, available, verified FROM providers WHERE id = ?`, id))
}

func (r *ProviderRepository) GetByName(ctx context.Context, name string) (*models.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.scanOne(r.db.QueryRowContext(ctx, `SELECT id, name, kind, lat, lng, location_at, available, verified FROM providers WHERE name = ?`, name))
}

// Heartbeat records a provider's current position and stamps location_at with
// the supplied time (unix seconds). Selection treats old stamps as unknown.
func (r *ProviderRepository) Heartbeat(ctx context.Context, id int64, lat, lng float64, at int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE providers SET lat = ?, lng = ?, location_at = ? WHERE id = ?`, lat, lng, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *ProviderRepository) SetAvailable(ctx context.Context, id int64, available bool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE providers SET available = ? WHERE id = ?`, available, id)
	return err
}

func (r *ProviderRepository) SetVerified(ctx context.Context, id int64, verified bool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE providers SET verified = ? WHERE id = ?`, verified, id)
	return err
}

// ListByKind returns the raw candidate pool for one provider kind. Flag,
// radius and staleness filtering happen in the selector, not here.
func (r *ProviderRepository) ListByKind(ctx context.Context, kind models.ProviderKind) ([]models.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, kind, lat, lng, location_at, available, verified FROM providers WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}

// ListProvidersAdminParams contains filters and pagination for admin listing.
type ListProvidersAdminParams struct {
	Kind          *models.ProviderKind
	AvailableOnly bool
	VerifiedOnly  bool
	PageSize      int
	AfterID       int64
}

// ListAdmin returns providers matching filters ordered by id asc with keyset pagination by id.
func (r *ProviderRepository) ListAdmin(ctx context.Context, p ListProvidersAdminParams) ([]models.Provider, error) {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `SELECT id, name, kind, lat, lng, location_at, available, verified FROM providers WHERE id > ?`
	args := []any{p.AfterID}
	if p.Kind != nil {
		query += ` AND kind = ?`
		args = append(args, string(*p.Kind))
	}
	if p.AvailableOnly {
		query += ` AND available = 1`
	}
	if p.VerifiedOnly {
		query += ` AND verified = 1`
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, p.PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanRows(rows)
}

func (r *ProviderRepository) scanOne(row *sql.Row) (*models.Provider, error) {
	var p models.Provider
	var kind string
	var lat, lng sql.NullFloat64
	var locAt sql.NullInt64
	err := row.Scan(&p.ID, &p.Name, &kind, &lat, &lng, &locAt, &p.Available, &p.Verified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Kind = models.ProviderKind(kind)
	if lat.Valid {
		v := lat.Float64
		p.Lat = &v
	}
	if lng.Valid {
		v := lng.Float64
		p.Lng = &v
	}
	if locAt.Valid {
		v := locAt.Int64
		p.LocationAt = &v
	}
	return &p, nil
}

func (r *ProviderRepository) scanRows(rows *sql.Rows) ([]models.Provider, error) {
	var out []models.Provider
	for rows.Next() {
		var p models.Provider
		var kind string
		var lat, lng sql.NullFloat64
		var locAt sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Name, &kind, &lat, &lng, &locAt, &p.Available, &p.Verified); err != nil {
			return nil, err
		}
		p.Kind = models.ProviderKind(kind)
		if lat.Valid {
			v := lat.Float64
			p.Lat = &v
		}
		if lng.Valid {
			v := lng.Float64
			p.Lng = &v
		}
		if locAt.Valid {
			v := locAt.Int64
			p.LocationAt = &v
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
