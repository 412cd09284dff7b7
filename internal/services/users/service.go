// Package users covers mock login, the user directory and collector availability.
package users

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) (*models.User, error)
	MutateUser(ctx context.Context, id string, expectedVersion int64, fn storage.UserMutation) (*models.User, error)
	ListUsers(ctx context.Context, f storage.UserFilter) ([]*models.User, error)
	ListRequests(ctx context.Context, f storage.RequestFilter) ([]*models.PickupRequest, error)
}

type TokenIssuer interface {
	Generate(actor models.Actor) (string, time.Time, error)
}

// ProfileCache is told about every user change so cached profiles stay fresh.
type ProfileCache interface {
	Refresh(ctx context.Context, u *models.User)
}

type Service struct {
	store    Store
	tokens   TokenIssuer
	profiles ProfileCache
	now      func() time.Time
}

func New(store Store, tokens TokenIssuer, profiles ProfileCache) *Service {
	return &Service{store: store, tokens: tokens, profiles: profiles, now: func() time.Time { return time.Now().UTC() }}
}

type Session struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// Login is the demo sign-in: any existing user id gets a session token.
func (s *Service) Login(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, models.Validationf("id is required")
	}
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.Validationf("user not found")
	}
	if err != nil {
		return nil, err
	}
	token, exp, err := s.tokens.Generate(models.Actor{ID: u.ID, Role: u.Role})
	if err != nil {
		return nil, errors.Wrap(err, "issue token")
	}
	log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("user logged in")
	return &Session{User: u, Token: token, ExpiresAt: exp}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Service) List(ctx context.Context, f storage.UserFilter) ([]*models.User, error) {
	return s.store.ListUsers(ctx, f)
}

type CreateInput struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Role    string  `json:"role"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

func (s *Service) Create(ctx context.Context, actor models.Actor, in CreateInput) (*models.User, error) {
	if actor.Role != models.RoleAdmin {
		return nil, errors.Wrap(models.ErrForbidden, "only admins create users")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, models.Validationf("name is required")
	}
	role, ok := models.ParseRole(in.Role)
	if !ok {
		return nil, models.Validationf("unknown role %q", in.Role)
	}

	now := s.now()
	u, err := s.store.CreateUser(ctx, &models.User{
		ID:        strings.TrimSpace(in.ID),
		Name:      name,
		Role:      role,
		Phone:     trimmed(in.Phone),
		Address:   trimmed(in.Address),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Str("by", actor.ID).Msg("user created")
	return u, nil
}

// UpdateInput is a partial update; nil fields are left alone.
type UpdateInput struct {
	Name    *string `json:"name"`
	Role    *string `json:"role"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
	Version int64   `json:"version"`
}

func (s *Service) Update(ctx context.Context, actor models.Actor, id string, in UpdateInput) (*models.User, error) {
	if actor.Role != models.RoleAdmin {
		return nil, errors.Wrap(models.ErrForbidden, "only admins update users")
	}

	var role models.Role
	if in.Role != nil {
		r, ok := models.ParseRole(*in.Role)
		if !ok {
			return nil, models.Validationf("unknown role %q", *in.Role)
		}
		role = r
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, models.Validationf("name must not be empty")
	}
	if role != "" && role != models.RoleCollector {
		if err := s.checkNoActiveJobs(ctx, id); err != nil {
			return nil, err
		}
	}

	u, err := s.store.MutateUser(ctx, id, in.Version, func(u *models.User) error {
		if in.Name != nil {
			u.Name = strings.TrimSpace(*in.Name)
		}
		if role != "" {
			u.Role = role
			if role != models.RoleCollector {
				u.IsOnline = false
			}
		}
		if in.Phone != nil {
			u.Phone = trimmed(in.Phone)
		}
		if in.Address != nil {
			u.Address = trimmed(in.Address)
		}
		u.UpdatedAt = s.touch(u.UpdatedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, u)
	return u, nil
}

// checkNoActiveJobs refuses to take the collector role away from a user who
// still has unfinished requests assigned.
func (s *Service) checkNoActiveJobs(ctx context.Context, id string) error {
	rs, err := s.store.ListRequests(ctx, storage.RequestFilter{CollectorID: id})
	if err != nil {
		return err
	}
	n := 0
	for _, r := range rs {
		if r.Status.Active() {
			n++
		}
	}
	if n > 0 {
		return models.Validationf("collector %s still has %d active requests; reassign or finish them first", id, n)
	}
	return nil
}

// SetOnline toggles collector availability. Collectors toggle themselves,
// admins may toggle any collector.
func (s *Service) SetOnline(ctx context.Context, actor models.Actor, id string, online bool) (*models.User, error) {
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleCollector:
		if actor.ID != id {
			return nil, errors.Wrap(models.ErrForbidden, "collectors change only their own status")
		}
	case models.RoleResident:
		return nil, errors.Wrap(models.ErrForbidden, "residents have no availability")
	default:
		return nil, errors.Wrapf(models.ErrForbidden, "unknown role %q", actor.Role)
	}

	u, err := s.store.MutateUser(ctx, id, storage.AnyVersion, func(u *models.User) error {
		if !u.IsCollector() {
			return models.Validationf("user %s is not a collector", u.ID)
		}
		u.IsOnline = online
		u.UpdatedAt = s.touch(u.UpdatedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("user_id", id).Bool("online", online).Msg("collector availability changed")
	s.refresh(ctx, u)
	return u, nil
}

func (s *Service) touch(prev time.Time) time.Time {
	now := s.now()
	if now.Before(prev) {
		return prev
	}
	return now
}

func (s *Service) refresh(ctx context.Context, u *models.User) {
	if s.profiles != nil {
		s.profiles.Refresh(ctx, u)
	}
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
