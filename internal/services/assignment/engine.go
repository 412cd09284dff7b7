// Package assignment matches pending requests with collectors, either by a
// collector claiming a job or by an admin directing one.
package assignment

import (
	"context"
	"sort"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/services/lifecycle"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context, f storage.UserFilter) ([]*models.User, error)
	GetRequest(ctx context.Context, id string) (*models.PickupRequest, error)
	ListRequests(ctx context.Context, f storage.RequestFilter) ([]*models.PickupRequest, error)
}

type Lifecycle interface {
	ApplyTransition(ctx context.Context, id string, target models.RequestStatus, actor models.Actor, opts lifecycle.TransitionOptions) (*models.PickupRequest, error)
	Reassign(ctx context.Context, id, collectorID string, actor models.Actor, expectedVersion int64) (*models.PickupRequest, error)
}

type Engine struct {
	store Store
	lc    Lifecycle
}

func New(store Store, lc Lifecycle) *Engine {
	return &Engine{store: store, lc: lc}
}

// Candidate is an online collector with its current load.
type Candidate struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Phone    *string `json:"phone,omitempty"`
	IsOnline bool    `json:"isOnline"`
	Load     int     `json:"load"`
}

// Assignment is the outcome of an admin-directed assignment. Load is the
// collector's load when the decision was taken.
type Assignment struct {
	Request   *models.PickupRequest `json:"request"`
	Collector Candidate             `json:"collector"`
}

// SelfAccept lets a collector claim a PENDING request. Of two racing
// collectors exactly one wins; the other gets models.ErrConflict.
func (e *Engine) SelfAccept(ctx context.Context, requestID string, actor models.Actor) (*models.PickupRequest, error) {
	if actor.Role != models.RoleCollector {
		return nil, errors.Wrap(models.ErrForbidden, "only collectors accept jobs")
	}
	return e.lc.ApplyTransition(ctx, requestID, models.StatusAccepted, actor, lifecycle.TransitionOptions{
		CollectorID:  actor.ID,
		ExpectedFrom: models.StatusPending,
	})
}

// ManualAssign binds collectorID to a PENDING request on behalf of an admin.
func (e *Engine) ManualAssign(ctx context.Context, requestID, collectorID string, actor models.Actor) (*Assignment, error) {
	if actor.Role != models.RoleAdmin {
		return nil, errors.Wrap(models.ErrForbidden, "only admins assign collectors")
	}

	r, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusPending {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "request %s is %s, not PENDING", r.ID, r.Status)
	}

	c, err := e.eligible(ctx, collectorID)
	if err != nil {
		return nil, err
	}

	updated, err := e.lc.ApplyTransition(ctx, requestID, models.StatusAccepted, actor, lifecycle.TransitionOptions{
		CollectorID:  collectorID,
		ExpectedFrom: models.StatusPending,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("request_id", requestID).Str("collector_id", collectorID).Int("load", c.Load).Msg("collector assigned")
	return &Assignment{Request: updated, Collector: *c}, nil
}

// Reassign moves an ACCEPTED request to another online collector.
func (e *Engine) Reassign(ctx context.Context, requestID, collectorID string, actor models.Actor) (*Assignment, error) {
	if actor.Role != models.RoleAdmin {
		return nil, errors.Wrap(models.ErrForbidden, "only admins reassign collectors")
	}

	r, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusAccepted {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "request %s is %s, not ACCEPTED", r.ID, r.Status)
	}
	if r.AssignedTo(collectorID) {
		return nil, models.Validationf("request %s is already assigned to %s", r.ID, collectorID)
	}

	c, err := e.eligible(ctx, collectorID)
	if err != nil {
		return nil, err
	}

	updated, err := e.lc.Reassign(ctx, requestID, collectorID, actor, r.Version)
	if err != nil {
		return nil, err
	}
	return &Assignment{Request: updated, Collector: *c}, nil
}

// eligible checks that collectorID names an online collector and returns it with its load.
func (e *Engine) eligible(ctx context.Context, collectorID string) (*Candidate, error) {
	online, err := e.store.ListUsers(ctx, storage.UserFilter{Role: models.RoleCollector, OnlineOnly: true})
	if err != nil {
		return nil, err
	}
	if len(online) == 0 {
		return nil, errors.Wrap(models.ErrNoAvailableCollector, "no collector is online")
	}

	u, err := e.store.GetUser(ctx, collectorID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.Validationf("collector %s does not exist", collectorID)
	}
	if err != nil {
		return nil, err
	}
	switch u.Role {
	case models.RoleCollector:
	case models.RoleResident, models.RoleAdmin:
		return nil, models.Validationf("user %s is a %s, not a collector", u.ID, u.Role)
	default:
		return nil, models.Validationf("user %s has unknown role %q", u.ID, u.Role)
	}
	if !u.IsOnline {
		return nil, errors.Wrapf(models.ErrNoAvailableCollector, "collector %s is offline", u.ID)
	}

	load, err := e.Load(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &Candidate{ID: u.ID, Name: u.Name, Phone: u.Phone, IsOnline: u.IsOnline, Load: load}, nil
}

// Load counts the collector's requests that are not COMPLETED, VALIDATED or CANCELLED.
func (e *Engine) Load(ctx context.Context, collectorID string) (int, error) {
	rs, err := e.store.ListRequests(ctx, storage.RequestFilter{CollectorID: collectorID})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rs {
		if r.Status.Active() {
			n++
		}
	}
	return n, nil
}

// Candidates lists online collectors ordered by load, lightest first. The
// ordering is advisory; the engine never picks on its own.
func (e *Engine) Candidates(ctx context.Context) ([]Candidate, error) {
	online, err := e.store.ListUsers(ctx, storage.UserFilter{Role: models.RoleCollector, OnlineOnly: true})
	if err != nil {
		return nil, err
	}
	rs, err := e.store.ListRequests(ctx, storage.RequestFilter{})
	if err != nil {
		return nil, err
	}

	loads := make(map[string]int, len(online))
	for _, r := range rs {
		if r.CollectorID != nil && r.Status.Active() {
			loads[*r.CollectorID]++
		}
	}

	out := make([]Candidate, 0, len(online))
	for _, u := range online {
		out = append(out, Candidate{ID: u.ID, Name: u.Name, Phone: u.Phone, IsOnline: u.IsOnline, Load: loads[u.ID]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Load != out[j].Load {
			return out[i].Load < out[j].Load
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
