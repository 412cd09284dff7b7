// Package lifecycle owns the pickup request state machine. Every status
// change goes through Manager.ApplyTransition, which validates the move,
// commits it with a version-checked mutate and then fires status listeners.
package lifecycle

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BearBump/PickupBox/internal/feed"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetRequest(ctx context.Context, id string) (*models.PickupRequest, error)
	CreateRequest(ctx context.Context, r *models.PickupRequest) (*models.PickupRequest, error)
	MutateRequest(ctx context.Context, id string, expectedVersion int64, fn storage.RequestMutation) (*models.PickupRequest, error)
	ListRequests(ctx context.Context, f storage.RequestFilter) ([]*models.PickupRequest, error)
}

// StatusListener observes committed transitions. Errors are logged and never
// undo the transition.
type StatusListener interface {
	OnStatusChanged(ctx context.Context, req *models.PickupRequest, from, to models.RequestStatus) error
}

type ListenerFunc func(ctx context.Context, req *models.PickupRequest, from, to models.RequestStatus) error

func (f ListenerFunc) OnStatusChanged(ctx context.Context, req *models.PickupRequest, from, to models.RequestStatus) error {
	return f(ctx, req, from, to)
}

// TransitionOptions carries the optional inputs of a transition.
type TransitionOptions struct {
	// CollectorID is bound on entering ACCEPTED when the request has no collector yet.
	CollectorID string
	ProofPhoto  string
	// ExpectedFrom, when set, turns a status mismatch into ErrConflict.
	ExpectedFrom models.RequestStatus
}

type Manager struct {
	store     Store
	feed      *feed.Hub
	listeners []StatusListener

	now             func() time.Time
	listenerTimeout time.Duration

	transitions    atomic.Int64
	listenerErrors atomic.Int64
}

func New(store Store, hub *feed.Hub) *Manager {
	return &Manager{
		store:           store,
		feed:            hub,
		now:             func() time.Time { return time.Now().UTC() },
		listenerTimeout: 2 * time.Second,
	}
}

func (m *Manager) WithSettings(listenerTimeout time.Duration) *Manager {
	if listenerTimeout > 0 {
		m.listenerTimeout = listenerTimeout
	}
	return m
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// AddListener registers l. Not safe to call concurrently with transitions.
func (m *Manager) AddListener(l StatusListener) {
	m.listeners = append(m.listeners, l)
}

func (m *Manager) CreateRequest(ctx context.Context, actor models.Actor, in models.RequestCreateInput) (*models.PickupRequest, error) {
	residentID, err := m.ownerFor(ctx, actor, in.ResidentID)
	if err != nil {
		return nil, err
	}
	wasteType, err := validateCreate(in)
	if err != nil {
		return nil, err
	}

	now := m.now()
	photos := make([]string, 0, len(in.Photos))
	for _, p := range in.Photos {
		if p = strings.TrimSpace(p); p != "" {
			photos = append(photos, p)
		}
	}

	created, err := m.store.CreateRequest(ctx, &models.PickupRequest{
		ResidentID:     residentID,
		Status:         models.StatusPending,
		WasteType:      wasteType,
		WeightEstimate: in.WeightEstimate,
		Location: models.Location{
			Lat:     in.Location.Lat,
			Lng:     in.Location.Lng,
			Address: strings.TrimSpace(in.Location.Address),
		},
		Photos:    photos,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	if m.feed != nil {
		m.feed.PublishRequest(created)
	}
	log.Info().Str("request_id", created.ID).Str("resident_id", residentID).Str("waste_type", string(created.WasteType)).Msg("pickup request created")
	return created, nil
}

func (m *Manager) ownerFor(ctx context.Context, actor models.Actor, residentID string) (string, error) {
	switch actor.Role {
	case models.RoleResident:
		if residentID != "" && residentID != actor.ID {
			return "", errors.Wrap(models.ErrForbidden, "residents create requests only for themselves")
		}
		return actor.ID, nil
	case models.RoleAdmin:
		if residentID == "" {
			return "", models.Validationf("residentId is required")
		}
		u, err := m.store.GetUser(ctx, residentID)
		if errors.Is(err, models.ErrNotFound) {
			return "", models.Validationf("resident %s does not exist", residentID)
		}
		if err != nil {
			return "", err
		}
		if u.Role != models.RoleResident {
			return "", models.Validationf("user %s is not a resident", residentID)
		}
		return residentID, nil
	case models.RoleCollector:
		return "", errors.Wrap(models.ErrForbidden, "collectors cannot create requests")
	default:
		return "", errors.Wrapf(models.ErrForbidden, "unknown role %q", actor.Role)
	}
}

// validateCreate returns the canonical waste type of a valid input.
func validateCreate(in models.RequestCreateInput) (models.WasteType, error) {
	if !(in.WeightEstimate > 0) {
		return "", models.Validationf("weightEstimate must be positive")
	}
	if strings.TrimSpace(in.Location.Address) == "" {
		return "", models.Validationf("location.address is required")
	}
	wt, ok := models.ParseWasteType(string(in.WasteType))
	if !ok {
		return "", models.Validationf("unknown wasteType %q", in.WasteType)
	}
	if in.Location.Lat < -90 || in.Location.Lat > 90 {
		return "", models.Validationf("location.lat out of range")
	}
	if in.Location.Lng < -180 || in.Location.Lng > 180 {
		return "", models.Validationf("location.lng out of range")
	}
	return wt, nil
}

func (m *Manager) GetRequest(ctx context.Context, actor models.Actor, id string) (*models.PickupRequest, error) {
	r, err := m.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(actor, r) {
		return nil, errors.Wrapf(models.ErrForbidden, "request %s", id)
	}
	return r, nil
}

// ListFor returns the requests actor may see, newest first.
func (m *Manager) ListFor(ctx context.Context, actor models.Actor) ([]*models.PickupRequest, error) {
	var f storage.RequestFilter
	switch actor.Role {
	case models.RoleResident:
		f.ResidentID = actor.ID
	case models.RoleCollector:
		f.CollectorID = actor.ID
		f.IncludePending = true
	case models.RoleAdmin:
	default:
		return nil, errors.Wrapf(models.ErrForbidden, "unknown role %q", actor.Role)
	}
	return m.store.ListRequests(ctx, f)
}

// Subscribe streams the request state after every committed change.
func (m *Manager) Subscribe(ctx context.Context, actor models.Actor, id string) (*feed.Subscription, *models.PickupRequest, error) {
	if m.feed == nil {
		return nil, nil, errors.New("push feed is disabled")
	}
	r, err := m.GetRequest(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	return m.feed.Subscribe(id), r, nil
}

// ApplyTransition moves a request to target on behalf of actor.
//
// Checks run in this order: unknown request (ErrNotFound), ExpectedFrom
// mismatch or lost version race (ErrConflict), target outside the allowed
// set (ErrInvalidTransition), actor policy (ErrForbidden), missing or
// ineligible collector (ErrValidation).
func (m *Manager) ApplyTransition(ctx context.Context, id string, target models.RequestStatus, actor models.Actor, opts TransitionOptions) (*models.PickupRequest, error) {
	cur, err := m.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	if target == models.StatusAccepted && opts.CollectorID == "" && actor.Role == models.RoleCollector {
		opts.CollectorID = actor.ID
	}

	binding := target == models.StatusAccepted && opts.CollectorID != ""

	var collectorErr error
	if binding && cur.CollectorID == nil {
		collectorErr = m.checkCollector(ctx, opts.CollectorID)
		if errors.Is(collectorErr, models.ErrStoreUnavailable) {
			return nil, collectorErr
		}
	}

	var from models.RequestStatus
	updated, err := m.store.MutateRequest(ctx, id, cur.Version, func(r *models.PickupRequest) error {
		from = r.Status
		if opts.ExpectedFrom != "" && r.Status != opts.ExpectedFrom {
			return errors.Wrapf(models.ErrConflict, "request %s is %s, expected %s", r.ID, r.Status, opts.ExpectedFrom)
		}
		if !CanTransition(r.Status, target) {
			return errors.Wrapf(models.ErrInvalidTransition, "%s -> %s", r.Status, target)
		}
		if err := authorize(actor, r, target, opts.CollectorID); err != nil {
			return err
		}

		if binding && r.CollectorID == nil {
			if collectorErr != nil {
				return collectorErr
			}
			c := opts.CollectorID
			r.CollectorID = &c
		}
		if target == models.StatusAccepted && r.CollectorID == nil {
			return models.Validationf("collectorId is required to accept request %s", r.ID)
		}
		if p := strings.TrimSpace(opts.ProofPhoto); p != "" {
			r.ProofPhoto = &p
		}

		now := m.now()
		if now.Before(r.UpdatedAt) {
			now = r.UpdatedAt
		}
		r.Status = target
		r.UpdatedAt = now
		if target == models.StatusCompleted && r.CompletedAt == nil {
			t := now
			r.CompletedAt = &t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.transitions.Add(1)
	log.Info().
		Str("request_id", id).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("actor", actor.ID).
		Msg("request status changed")

	m.notify(ctx, updated, from, target)
	return updated, nil
}

func (m *Manager) checkCollector(ctx context.Context, id string) error {
	u, err := m.store.GetUser(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return models.Validationf("collector %s does not exist", id)
	}
	if err != nil {
		return err
	}
	if !u.IsCollector() {
		return models.Validationf("user %s is not a collector", id)
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, r *models.PickupRequest, from, to models.RequestStatus) {
	if m.feed != nil {
		m.feed.PublishRequest(r)
	}
	for _, l := range m.listeners {
		m.runListener(ctx, l, r.Clone(), from, to)
	}
}

func (m *Manager) runListener(ctx context.Context, l StatusListener, r *models.PickupRequest, from, to models.RequestStatus) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.listenerTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			m.listenerErrors.Add(1)
			log.Error().Interface("panic", p).Str("request_id", r.ID).Msg("status listener panicked")
		}
	}()

	if err := l.OnStatusChanged(hctx, r, from, to); err != nil {
		m.listenerErrors.Add(1)
		log.Warn().Err(err).Str("request_id", r.ID).Str("to", string(to)).Msg("status listener failed")
	}
}

type Stats struct {
	Transitions    int64 `json:"transitions"`
	ListenerErrors int64 `json:"listenerErrors"`
}

func (m *Manager) Stats() Stats {
	return Stats{Transitions: m.transitions.Load(), ListenerErrors: m.listenerErrors.Load()}
}

// Reassign binds an ACCEPTED request to another collector. Only admins may
// reassign; eligibility of the new collector is the caller's concern.
func (m *Manager) Reassign(ctx context.Context, id, collectorID string, actor models.Actor, expectedVersion int64) (*models.PickupRequest, error) {
	if actor.Role != models.RoleAdmin {
		return nil, errors.Wrap(models.ErrForbidden, "only admins reassign requests")
	}
	if err := m.checkCollector(ctx, collectorID); err != nil {
		return nil, err
	}

	var previous string
	updated, err := m.store.MutateRequest(ctx, id, expectedVersion, func(r *models.PickupRequest) error {
		if r.Status != models.StatusAccepted {
			return errors.Wrapf(models.ErrInvalidTransition, "cannot reassign a %s request", r.Status)
		}
		if r.CollectorID != nil {
			previous = *r.CollectorID
		}
		c := collectorID
		r.CollectorID = &c
		now := m.now()
		if now.Before(r.UpdatedAt) {
			now = r.UpdatedAt
		}
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("request_id", id).Str("from_collector", previous).Str("to_collector", collectorID).Msg("request reassigned")
	m.notify(ctx, updated, models.StatusAccepted, models.StatusAccepted)
	return updated, nil
}
