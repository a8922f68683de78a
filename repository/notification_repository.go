package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"pharmacyDispatch/models"
)

// NotificationRepository persists per-candidate offer notifications and
// requester-facing notices.
type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const offerColumns = `id, broadcast_id, provider_id, token, issued_at, expires_at, read, responded, response, reason`

// CreateOffer inserts an offer row for one provider on one broadcast. The
// UNIQUE(broadcast_id, provider_id) constraint makes re-notification a no-op;
// in that case the existing row is returned.
func (r *NotificationRepository) CreateOffer(ctx context.Context, broadcastID, providerID, issuedAt, expiresAt int64) (*models.OfferNotification, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	token := uuid.NewString()
	res, err := r.db.ExecContext(ctx, `
INSERT INTO offer_notifications (broadcast_id, provider_id, token, issued_at, expires_at)
VALUES (?,?,?,?,?)
ON CONFLICT(broadcast_id, provider_id) DO NOTHING`,
		broadcastID, providerID, token, issuedAt, expiresAt)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.GetOffer(ctx, broadcastID, providerID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.OfferNotification{ID: id, BroadcastID: broadcastID, ProviderID: providerID, Token: token, IssuedAt: issuedAt, ExpiresAt: expiresAt}, nil
}

// GetOffer fetches the offer for one provider on one broadcast.
func (r *NotificationRepository) GetOffer(ctx context.Context, broadcastID, providerID int64) (*models.OfferNotification, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.scanOffer(r.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offer_notifications WHERE broadcast_id = ? AND provider_id = ?`, broadcastID, providerID))
}

// MarkResponded records a provider's decision on its offer and marks it read.
// Safe to call repeatedly; a second identical response changes nothing.
func (r *NotificationRepository) MarkResponded(ctx context.Context, broadcastID, providerID int64, response models.OfferResponse, reason *string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
UPDATE offer_notifications SET read = 1, responded = 1, response = ?, reason = ?
WHERE broadcast_id = ? AND provider_id = ? AND responded = 0`,
		string(response), reason, broadcastID, providerID)
	return err
}

// ExpireSiblings marks every unresponded offer on a broadcast as read, except
// the winner's. Losing candidates see the offer withdrawn on their next poll.
func (r *NotificationRepository) ExpireSiblings(ctx context.Context, broadcastID int64, winnerProviderID int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
UPDATE offer_notifications SET read = 1
WHERE broadcast_id = ? AND provider_id != ? AND responded = 0`,
		broadcastID, winnerProviderID)
	return err
}

// ListOffersByBroadcast returns every offer issued for a broadcast, oldest first.
func (r *NotificationRepository) ListOffersByBroadcast(ctx context.Context, broadcastID int64) ([]models.OfferNotification, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offer_notifications WHERE broadcast_id = ? ORDER BY issued_at ASC, id ASC`, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanOfferRows(rows)
}

// ListOpenOffersForProvider returns unread, unexpired offers for a provider.
// This is the poll path for candidates that missed the push.
func (r *NotificationRepository) ListOpenOffersForProvider(ctx context.Context, providerID int64, now int64) ([]models.OfferNotification, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
SELECT `+offerColumns+` FROM offer_notifications
WHERE provider_id = ? AND read = 0 AND expires_at > ?
ORDER BY issued_at ASC, id ASC`, providerID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanOfferRows(rows)
}

// CountUnresponded returns how many offers on a broadcast still await a reply.
func (r *NotificationRepository) CountUnresponded(ctx context.Context, broadcastID int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM offer_notifications WHERE broadcast_id = ? AND responded = 0`, broadcastID).Scan(&n)
	return n, err
}

// CreateUserNotification inserts a requester-facing notice.
func (r *NotificationRepository) CreateUserNotification(ctx context.Context, userID, orderID int64, title, body string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_notifications (user_id, order_id, title, body) VALUES (?,?,?,?)`,
		userID, orderID, title, body)
	return err
}

// ListUserNotifications returns a user's notices, newest first.
func (r *NotificationRepository) ListUserNotifications(ctx context.Context, userID int64, limit int) ([]models.UserNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, order_id, title, body, read, created_at FROM user_notifications
WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.UserNotification
	for rows.Next() {
		var n models.UserNotification
		if err := rows.Scan(&n.ID, &n.UserID, &n.OrderID, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *NotificationRepository) scanOffer(row *sql.Row) (*models.OfferNotification, error) {
	var n models.OfferNotification
	var response, reason sql.NullString
	err := row.Scan(&n.ID, &n.BroadcastID, &n.ProviderID, &n.Token, &n.IssuedAt, &n.ExpiresAt, &n.Read, &n.Responded, &response, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if response.Valid {
		v := models.OfferResponse(response.String)
		n.Response = &v
	}
	if reason.Valid {
		v := reason.String
		n.Reason = &v
	}
	return &n, nil
}

func (r *NotificationRepository) scanOfferRows(rows *sql.Rows) ([]models.OfferNotification, error) {
	var out []models.OfferNotification
	for rows.Next() {
		var n models.OfferNotification
		var response, reason sql.NullString
		if err := rows.Scan(&n.ID, &n.BroadcastID, &n.ProviderID, &n.Token, &n.IssuedAt, &n.ExpiresAt, &n.Read, &n.Responded, &response, &reason); err != nil {
			return nil, err
		}
		if response.Valid {
			v := models.OfferResponse(response.String)
			n.Response = &v
		}
		if reason.Valid {
			v := reason.String
			n.Reason = &v
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
