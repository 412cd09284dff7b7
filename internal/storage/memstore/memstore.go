// Package memstore is the in-process Entity Store used for demos and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Store struct {
	mu sync.RWMutex

	users         map[string]*models.User
	requests      map[string]*models.PickupRequest
	points        map[string][]*models.TrackingPoint
	notifications map[string][]*models.Notification

	seed     bool
	seedOnce sync.Once
	now      func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store. WithSeed installs the demo data on first access.
func New() *Store {
	return &Store{
		users:         make(map[string]*models.User),
		requests:      make(map[string]*models.PickupRequest),
		points:        make(map[string][]*models.TrackingPoint),
		notifications: make(map[string][]*models.Notification),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) WithSeed() *Store {
	s.seed = true
	return s
}

func (s *Store) ensureSeed() {
	if !s.seed {
		return
	}
	s.seedOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		now := s.now()
		for _, u := range storage.SeedUsers(now) {
			if _, ok := s.users[u.ID]; !ok {
				s.users[u.ID] = u
			}
		}
		for _, r := range storage.SeedRequests(now) {
			if _, ok := s.requests[r.ID]; !ok {
				s.requests[r.ID] = r
			}
		}
	})
}

func (s *Store) GetUser(_ context.Context, id string) (*models.User, error) {
	s.ensureSeed()
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.NotFound("user", id)
	}
	return u.Clone(), nil
}

func (s *Store) CreateUser(_ context.Context, u *models.User) (*models.User, error) {
	s.ensureSeed()
	s.mu.Lock()
	defer s.mu.Unlock()
	c := u.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := s.users[c.ID]; ok {
		return nil, errors.Wrapf(models.ErrAlreadyExists, "user %s", c.ID)
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c.Version = 1
	s.users[c.ID] = c
	return c.Clone(), nil
}

func (s *Store) MutateUser(_ context.Context, id string, expectedVersion int64, fn storage.UserMutation) (*models.User, error) {
	s.ensureSeed()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[id]
	if !ok {
		return nil, storage.NotFound("user", id)
	}
	if err := storage.CheckVersion("user", id, expectedVersion, cur.Version); err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.Version = cur.Version + 1
	s.users[id] = next
	return next.Clone(), nil
}

func (s *Store) ListUsers(_ context.Context, f storage.UserFilter) ([]*models.User, error) {
	s.ensureSeed()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		if f.Match(u) {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetRequest(_ context.Context, id string) (*models.PickupRequest, error) {
	s.ensureSeed()
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, storage.NotFound("request", id)
	}
	return r.Clone(), nil
}

func (s *Store) CreateRequest(_ context.Context, r *models.PickupRequest) (*models.PickupRequest, error) {
	s.ensureSeed()
	s.mu.Lock()
	defer s.mu.Unlock()
	c := r.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := s.requests[c.ID]; ok {
		return nil, errors.Wrapf(models.ErrAlreadyExists, "request %s", c.ID)
	}
	c.Version = 1
	s.requests[c.ID] = c
	return c.Clone(), nil
}

func (s *Store) MutateRequest(_ context.Context, id string, expectedVersion int64, fn storage.RequestMutation) (*models.PickupRequest, error) {
	s.ensureSeed()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[id]
	if !ok {
		return nil, storage.NotFound("request", id)
	}
	if err := storage.CheckVersion("request", id, expectedVersion, cur.Version); err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.ResidentID = cur.ResidentID
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	s.requests[id] = next
	return next.Clone(), nil
}

func (s *Store) ListRequests(_ context.Context, f storage.RequestFilter) ([]*models.PickupRequest, error) {
	s.ensureSeed()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PickupRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if f.Match(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) AppendTrackingPoint(_ context.Context, p *models.TrackingPoint) (*models.TrackingPoint, error) {
	s.ensureSeed()
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[p.RequestID]
	if !ok {
		return nil, storage.NotFound("request", p.RequestID)
	}
	if err := storage.CheckTracking(req.Status, req.CollectorID, p.RequestID, p.CollectorID); err != nil {
		return nil, err
	}
	c := *p
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	pts := s.points[c.RequestID]
	if n := len(pts); n > 0 {
		c.Timestamp = storage.NextTimestamp(pts[n-1].Timestamp, c.Timestamp)
	}
	s.points[c.RequestID] = append(pts, &c)
	out := c
	return &out, nil
}

func (s *Store) ListTrackingPoints(_ context.Context, requestID string, limit int) ([]*models.TrackingPoint, error) {
	s.ensureSeed()
	s.mu.RLock()
	defer s.mu.RUnlock()
	pts := s.points[requestID]
	if limit > 0 && len(pts) > limit {
		pts = pts[len(pts)-limit:]
	}
	out := make([]*models.TrackingPoint, 0, len(pts))
	for _, p := range pts {
		c := *p
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) CreateNotification(_ context.Context, n *models.Notification) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *n
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	for _, existing := range s.notifications[c.UserID] {
		if existing.ID == c.ID {
			return nil, errors.Wrapf(models.ErrAlreadyExists, "notification %s", c.ID)
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.notifications[c.UserID] = append(s.notifications[c.UserID], &c)
	out := c
	return &out, nil
}

// ListNotifications returns the newest notifications first.
func (s *Store) ListNotifications(_ context.Context, userID string, limit int) ([]*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.notifications[userID]
	out := make([]*models.Notification, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		c := *all[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications[userID] {
		if n.ID == id {
			n.Read = true
			return nil
		}
	}
	return storage.NotFound("notification", id)
}
