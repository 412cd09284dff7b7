package pgstore

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const userColumns = `id, name, role, phone, address, is_online, version, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &role, &u.Phone, &u.Address, &u.IsOnline, &u.Version, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, storage.NotFound("user", id)
	}
	if err != nil {
		return nil, storage.Unavailable(err, "select user")
	}
	return u, nil
}

func (s *Storage) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	c := u.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	out, err := scanUser(s.db.QueryRow(ctx, `
INSERT INTO users (id, name, role, phone, address, is_online, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,1,$7,$8)
RETURNING `+userColumns, c.ID, c.Name, string(c.Role), c.Phone, c.Address, c.IsOnline, c.CreatedAt, c.UpdatedAt))
	if isUniqueViolation(err) {
		return nil, errors.Wrapf(models.ErrAlreadyExists, "user %s", c.ID)
	}
	if err != nil {
		return nil, storage.Unavailable(err, "insert user")
	}
	return out, nil
}

func (s *Storage) MutateUser(ctx context.Context, id string, expectedVersion int64, fn storage.UserMutation) (*models.User, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storage.Unavailable(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if isNoRows(err) {
		return nil, storage.NotFound("user", id)
	}
	if err != nil {
		return nil, storage.Unavailable(err, "select user for update")
	}
	if err := storage.CheckVersion("user", id, expectedVersion, cur.Version); err != nil {
		return nil, err
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	out, err := scanUser(tx.QueryRow(ctx, `
UPDATE users
SET
  name = $3,
  role = $4,
  phone = $5,
  address = $6,
  is_online = $7,
  updated_at = $8,
  version = version + 1
WHERE id = $1 AND version = $2
RETURNING `+userColumns, id, cur.Version, next.Name, string(next.Role), next.Phone, next.Address, next.IsOnline, next.UpdatedAt))
	if isNoRows(err) {
		return nil, errors.Wrapf(models.ErrConflict, "user %s", id)
	}
	if err != nil {
		return nil, storage.Unavailable(err, "update user")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storage.Unavailable(err, "commit tx")
	}
	return out, nil
}

func (s *Storage) ListUsers(ctx context.Context, f storage.UserFilter) ([]*models.User, error) {
	var where []string
	var args []any
	if f.Role != "" {
		args = append(args, string(f.Role))
		where = append(where, "role = $1")
	}
	if f.OnlineOnly {
		where = append(where, "is_online")
	}
	q := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, storage.Unavailable(err, "select users")
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		out = append(out, u)
	}
	if rows.Err() != nil {
		return nil, storage.Unavailable(rows.Err(), "rows")
	}
	return out, nil
}
