// Package enrichment joins pickup requests with their collector's public profile.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/PickupBox/internal/cache"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/rs/zerolog/log"
)

type UserGetter interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Request is the read projection of a pickup request.
type Request struct {
	*models.PickupRequest
	CollectorName  *string `json:"collectorName,omitempty"`
	CollectorPhone *string `json:"collectorPhone,omitempty"`
}

// Profile is the cached public part of a user.
type Profile struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Phone *string `json:"phone,omitempty"`
}

type Service struct {
	users UserGetter
	cache cache.BytesCache
	ttl   time.Duration
}

func New(users UserGetter, c cache.BytesCache, ttl time.Duration) *Service {
	return &Service{users: users, cache: c, ttl: ttl}
}

// Enrich attaches collector name and phone when they can be found. It never fails.
// A request whose collector no longer exists comes back unenriched, except
// that a cached profile keeps being served until its ttl runs out.
func (s *Service) Enrich(ctx context.Context, r *models.PickupRequest) Request {
	out := Request{PickupRequest: r}
	if r == nil || r.CollectorID == nil {
		return out
	}
	p, ok := s.profile(ctx, *r.CollectorID)
	if !ok {
		return out
	}
	name := p.Name
	out.CollectorName = &name
	if p.Phone != nil {
		phone := *p.Phone
		out.CollectorPhone = &phone
	}
	return out
}

// EnrichAll enriches a listing, looking each collector up once.
func (s *Service) EnrichAll(ctx context.Context, rs []*models.PickupRequest) []Request {
	seen := make(map[string]*Profile)
	out := make([]Request, 0, len(rs))
	for _, r := range rs {
		item := Request{PickupRequest: r}
		if r.CollectorID != nil {
			id := *r.CollectorID
			p, cached := seen[id]
			if !cached {
				p, _ = s.profile(ctx, id)
				seen[id] = p
			}
			if p != nil {
				name := p.Name
				item.CollectorName = &name
				item.CollectorPhone = p.Phone
			}
		}
		out = append(out, item)
	}
	return out
}

func (s *Service) profile(ctx context.Context, id string) (*Profile, bool) {
	if s.cache != nil && s.ttl > 0 {
		b, ok, err := s.cache.Get(ctx, profileKey(id))
		if err == nil && ok {
			var p Profile
			if json.Unmarshal(b, &p) == nil {
				return &p, true
			}
		}
	}

	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		log.Debug().Err(err).Str("collector_id", id).Msg("enrichment lookup failed")
		return nil, false
	}
	p := &Profile{ID: u.ID, Name: u.Name, Phone: u.Phone}
	s.store(ctx, p)
	return p, true
}

// Refresh rewrites the cached profile after a user change.
func (s *Service) Refresh(ctx context.Context, u *models.User) {
	if u == nil {
		return
	}
	s.store(ctx, &Profile{ID: u.ID, Name: u.Name, Phone: u.Phone})
}

func (s *Service) store(ctx context.Context, p *Profile) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, profileKey(p.ID), b, s.ttl); err != nil {
		log.Debug().Err(err).Str("user_id", p.ID).Msg("profile cache set failed")
	}
}

func profileKey(id string) string {
	return fmt.Sprintf("user:%s:profile", id)
}
