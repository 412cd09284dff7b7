package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// AppendTrackingPoint serialises appends per request through the request row
// lock so timestamps stay strictly increasing and a concurrent transition out
// of ON_THE_WAY is never followed by a point.
func (s *Storage) AppendTrackingPoint(ctx context.Context, p *models.TrackingPoint) (*models.TrackingPoint, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storage.Unavailable(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		status    string
		collector *string
	)
	err = tx.QueryRow(ctx, `SELECT status, collector_id FROM pickup_requests WHERE id = $1 FOR UPDATE`, p.RequestID).
		Scan(&status, &collector)
	if isNoRows(err) {
		return nil, storage.NotFound("request", p.RequestID)
	}
	if err != nil {
		return nil, storage.Unavailable(err, "lock request")
	}
	if err := storage.CheckTracking(models.RequestStatus(status), collector, p.RequestID, p.CollectorID); err != nil {
		return nil, err
	}

	c := *p
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Timestamp = c.Timestamp.UTC()

	var last *time.Time
	if err := tx.QueryRow(ctx, `SELECT max(ts) FROM tracking_points WHERE request_id = $1`, c.RequestID).Scan(&last); err != nil {
		return nil, storage.Unavailable(err, "select last tracking point")
	}
	if last != nil {
		c.Timestamp = storage.NextTimestamp(*last, c.Timestamp)
	}

	_, err = tx.Exec(ctx, `
INSERT INTO tracking_points (id, request_id, collector_id, lat, lng, ts)
VALUES ($1,$2,$3,$4,$5,$6)
`, c.ID, c.RequestID, c.CollectorID, c.Lat, c.Lng, c.Timestamp)
	if err != nil {
		return nil, storage.Unavailable(err, "insert tracking point")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storage.Unavailable(err, "commit tx")
	}
	return &c, nil
}

// ListTrackingPoints returns points in timestamp order; limit keeps only the newest ones.
func (s *Storage) ListTrackingPoints(ctx context.Context, requestID string, limit int) ([]*models.TrackingPoint, error) {
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}

	rows, err := s.db.Query(ctx, `
SELECT id, request_id, collector_id, lat, lng, ts FROM (
  SELECT id, request_id, collector_id, lat, lng, ts
  FROM tracking_points
  WHERE request_id = $1
  ORDER BY ts DESC
  LIMIT $2
) newest
ORDER BY ts ASC
`, requestID, limit)
	if err != nil {
		return nil, storage.Unavailable(err, "select tracking points")
	}
	defer rows.Close()

	var out []*models.TrackingPoint
	for rows.Next() {
		var p models.TrackingPoint
		if err := rows.Scan(&p.ID, &p.RequestID, &p.CollectorID, &p.Lat, &p.Lng, &p.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan tracking point")
		}
		out = append(out, &p)
	}
	if rows.Err() != nil {
		return nil, storage.Unavailable(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CreateNotification(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	c := *n
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO notifications (id, user_id, request_id, title, message, read, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, c.ID, c.UserID, c.RequestID, c.Title, c.Message, c.Read, c.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return nil, errors.Wrapf(models.ErrAlreadyExists, "notification %s", c.ID)
	}
	if err != nil {
		return nil, storage.Unavailable(err, "insert notification")
	}
	return &c, nil
}

func (s *Storage) ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT id, user_id, request_id, title, message, read, created_at
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, storage.Unavailable(err, "select notifications")
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.RequestID, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan notification")
		}
		out = append(out, &n)
	}
	if rows.Err() != nil {
		return nil, storage.Unavailable(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) MarkNotificationRead(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return storage.Unavailable(err, "update notification")
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("notification", id)
	}
	return nil
}
