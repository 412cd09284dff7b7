package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  role TEXT NOT NULL,
  phone TEXT NULL,
  address TEXT NULL,
  is_online BOOLEAN NOT NULL DEFAULT FALSE,
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_users_role_online ON users(role, is_online)`,
		`
CREATE TABLE IF NOT EXISTS pickup_requests (
  id TEXT PRIMARY KEY,
  resident_id TEXT NOT NULL,
  collector_id TEXT NULL,
  status TEXT NOT NULL,
  waste_type TEXT NOT NULL,
  weight_estimate DOUBLE PRECISION NOT NULL,
  lat DOUBLE PRECISION NOT NULL,
  lng DOUBLE PRECISION NOT NULL,
  address TEXT NOT NULL,
  photos TEXT[] NOT NULL DEFAULT '{}',
  proof_photo TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ NULL,
  version BIGINT NOT NULL DEFAULT 1,
  CHECK (updated_at >= created_at)
)`,
		`CREATE INDEX IF NOT EXISTS idx_pickup_requests_resident ON pickup_requests(resident_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_pickup_requests_collector ON pickup_requests(collector_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_pickup_requests_status ON pickup_requests(status)`,
		`
CREATE TABLE IF NOT EXISTS tracking_points (
  id TEXT PRIMARY KEY,
  request_id TEXT NOT NULL REFERENCES pickup_requests(id),
  collector_id TEXT NOT NULL,
  lat DOUBLE PRECISION NOT NULL,
  lng DOUBLE PRECISION NOT NULL,
  ts TIMESTAMPTZ NOT NULL,
  UNIQUE (request_id, ts)
)`,
		`
CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  request_id TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  read BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

// Seed installs the demo users and requests; existing rows are left alone.
func (s *Storage) Seed(ctx context.Context) error {
	now := time.Now().UTC()
	for _, u := range storage.SeedUsers(now) {
		_, err := s.db.Exec(ctx, `
INSERT INTO users (id, name, role, phone, address, is_online, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,1,$7,$7)
ON CONFLICT (id) DO NOTHING
`, u.ID, u.Name, string(u.Role), u.Phone, u.Address, u.IsOnline, u.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "seed user")
		}
	}
	for _, r := range storage.SeedRequests(now) {
		_, err := s.db.Exec(ctx, `
INSERT INTO pickup_requests (
  id, resident_id, collector_id, status, waste_type, weight_estimate,
  lat, lng, address, photos, proof_photo, created_at, updated_at, completed_at, version
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL,$11,$12,NULL,1)
ON CONFLICT (id) DO NOTHING
`, r.ID, r.ResidentID, r.CollectorID, string(r.Status), string(r.WasteType), r.WeightEstimate,
			r.Location.Lat, r.Location.Lng, r.Location.Address, r.Photos, r.CreatedAt, r.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, "seed request")
		}
	}
	return nil
}
