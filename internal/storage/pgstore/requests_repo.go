package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const requestColumns = `
  id, resident_id, collector_id, status, waste_type, weight_estimate,
  lat, lng, address, photos, proof_photo,
  created_at, updated_at, completed_at, version`

func scanRequest(row pgx.Row) (*models.PickupRequest, error) {
	var r models.PickupRequest
	var status, wasteType string
	if err := row.Scan(
		&r.ID, &r.ResidentID, &r.CollectorID, &status, &wasteType, &r.WeightEstimate,
		&r.Location.Lat, &r.Location.Lng, &r.Location.Address, &r.Photos, &r.ProofPhoto,
		&r.CreatedAt, &r.UpdatedAt, &r.CompletedAt, &r.Version,
	); err != nil {
		return nil, err
	}
	r.Status = models.RequestStatus(status)
	r.WasteType = models.WasteType(wasteType)
	if r.Photos == nil {
		r.Photos = []string{}
	}
	return &r, nil
}

func (s *Storage) GetRequest(ctx context.Context, id string) (*models.PickupRequest, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM pickup_requests WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, storage.NotFound("request", id)
	}
	if err != nil {
		return nil, storage.Unavailable(err, "select request")
	}
	return r, nil
}

func (s *Storage) CreateRequest(ctx context.Context, r *models.PickupRequest) (*models.PickupRequest, error) {
	c := r.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	out, err := scanRequest(s.db.QueryRow(ctx, `
INSERT INTO pickup_requests (
  id, resident_id, collector_id, status, waste_type, weight_estimate,
  lat, lng, address, photos, proof_photo, created_at, updated_at, completed_at, version
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1)
RETURNING `+requestColumns,
		c.ID, c.ResidentID, c.CollectorID, string(c.Status), string(c.WasteType), c.WeightEstimate,
		c.Location.Lat, c.Location.Lng, c.Location.Address, c.Photos, c.ProofPhoto,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(), c.CompletedAt))
	if isUniqueViolation(err) {
		return nil, errors.Wrapf(models.ErrAlreadyExists, "request %s", c.ID)
	}
	if err != nil {
		return nil, storage.Unavailable(err, "insert request")
	}
	return out, nil
}

// MutateRequest locks the row, checks the version and writes the new state
// with a version-guarded UPDATE inside one transaction.
func (s *Storage) MutateRequest(ctx context.Context, id string, expectedVersion int64, fn storage.RequestMutation) (*models.PickupRequest, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storage.Unavailable(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM pickup_requests WHERE id = $1 FOR UPDATE`, id))
	if isNoRows(err) {
		return nil, storage.NotFound("request", id)
	}
	if err != nil {
		return nil, storage.Unavailable(err, "select request for update")
	}
	if err := storage.CheckVersion("request", id, expectedVersion, cur.Version); err != nil {
		return nil, err
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	out, err := scanRequest(tx.QueryRow(ctx, `
UPDATE pickup_requests
SET
  collector_id = $3,
  status = $4,
  waste_type = $5,
  weight_estimate = $6,
  lat = $7,
  lng = $8,
  address = $9,
  photos = $10,
  proof_photo = $11,
  updated_at = $12,
  completed_at = $13,
  version = version + 1
WHERE id = $1 AND version = $2
RETURNING `+requestColumns,
		id, cur.Version, next.CollectorID, string(next.Status), string(next.WasteType), next.WeightEstimate,
		next.Location.Lat, next.Location.Lng, next.Location.Address, next.Photos, next.ProofPhoto,
		next.UpdatedAt.UTC(), next.CompletedAt))
	if isNoRows(err) {
		return nil, errors.Wrapf(models.ErrConflict, "request %s", id)
	}
	if err != nil {
		return nil, storage.Unavailable(err, "update request")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storage.Unavailable(err, "commit tx")
	}
	return out, nil
}

func (s *Storage) ListRequests(ctx context.Context, f storage.RequestFilter) ([]*models.PickupRequest, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ResidentID != "" {
		where = append(where, "resident_id = "+arg(f.ResidentID))
	}
	if f.CollectorID != "" {
		cond := "collector_id = " + arg(f.CollectorID)
		if f.IncludePending {
			cond = "(" + cond + " OR status = " + arg(string(models.StatusPending)) + ")"
		}
		where = append(where, cond)
	}
	if len(f.Statuses) > 0 {
		sts := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			sts = append(sts, string(st))
		}
		where = append(where, "status = ANY("+arg(sts)+")")
	}

	q := `SELECT ` + requestColumns + ` FROM pickup_requests`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, storage.Unavailable(err, "select requests")
	}
	defer rows.Close()

	var out []*models.PickupRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan request")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, storage.Unavailable(rows.Err(), "rows")
	}
	return out, nil
}
