// Package tracking drives the synthetic live position of collectors that are
// on their way to a pickup.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PickupBox/internal/broker/messages"
	"github.com/BearBump/PickupBox/internal/cache"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyRunning = errors.New("tracking already running for request")
	ErrRateLimited    = errors.New("tracking rate limit exceeded")
)

type Repository interface {
	GetRequest(ctx context.Context, id string) (*models.PickupRequest, error)
	ListRequests(ctx context.Context, f storage.RequestFilter) ([]*models.PickupRequest, error)
	AppendTrackingPoint(ctx context.Context, p *models.TrackingPoint) (*models.TrackingPoint, error)
	ListTrackingPoints(ctx context.Context, requestID string, limit int) ([]*models.TrackingPoint, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Feed interface {
	PublishPosition(p models.Position)
}

// Runner keeps one ticking simulator per ON_THE_WAY request.
type Runner struct {
	repo     Repository
	producer Producer
	cache    cache.BytesCache
	feed     Feed
	rl       RateLimiter

	topic string

	sim                Config
	tickInterval       time.Duration
	positionTTL        time.Duration
	publishTimeout     time.Duration
	postLimitPerMinute int64

	rndMu sync.Mutex
	rnd   Rand
	now   func() time.Time

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]*run

	triggerCh chan struct{}

	startedAtUnixNano int64
	lastTickUnixNano  atomic.Int64
	totalStarted      atomic.Int64
	totalStopped      atomic.Int64
	totalArrived      atomic.Int64
	totalTicks        atomic.Int64
	totalPosted       atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

type run struct {
	requestID   string
	collectorID string
	cancel      context.CancelFunc
	done        chan struct{}

	mu  sync.Mutex
	sim *Simulator
}

func NewRunner(repo Repository, producer Producer, c cache.BytesCache, feed Feed, rl RateLimiter, topic string) *Runner {
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		repo: repo, producer: producer, cache: c, feed: feed, rl: rl, topic: topic,
		sim:                DefaultConfig(),
		tickInterval:       2 * time.Second,
		positionTTL:        10 * time.Minute,
		publishTimeout:     time.Second,
		postLimitPerMinute: 60,
		rnd:                rand.New(rand.NewSource(time.Now().UnixNano())),
		now:                func() time.Time { return time.Now().UTC() },
		base:               base,
		cancel:             cancel,
		active:             make(map[string]*run),
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (r *Runner) WithSettings(tickInterval, positionTTL time.Duration, postLimitPerMinute int64) *Runner {
	if tickInterval > 0 {
		r.tickInterval = tickInterval
	}
	if positionTTL > 0 {
		r.positionTTL = positionTTL
	}
	if postLimitPerMinute > 0 {
		r.postLimitPerMinute = postLimitPerMinute
	}
	return r
}

func (r *Runner) WithSimulator(cfg Config) *Runner {
	r.sim = cfg.normalized()
	return r
}

func (r *Runner) WithClock(now func() time.Time) *Runner {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *Runner) WithRand(rnd Rand) *Runner {
	if rnd != nil {
		r.rnd = rnd
	}
	return r
}

// Trigger asks Run to resume simulators for ON_THE_WAY requests (best-effort, non-blocking).
func (r *Runner) Trigger() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

// Run resumes tracking for requests already ON_THE_WAY and blocks until ctx
// is done, then stops every simulator.
func (r *Runner) Run(ctx context.Context) error {
	r.resume(ctx)
	for {
		select {
		case <-ctx.Done():
			r.StopAll()
			return ctx.Err()
		case <-r.triggerCh:
			r.resume(ctx)
		}
	}
}

func (r *Runner) resume(ctx context.Context) {
	rs, err := r.repo.ListRequests(ctx, storage.RequestFilter{Statuses: []models.RequestStatus{models.StatusOnTheWay}})
	if err != nil {
		r.recordError(errors.Wrap(err, "list on-the-way requests"))
		return
	}
	for _, req := range rs {
		if err := r.Start(ctx, req); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			r.recordError(err)
		}
	}
}

// Start launches the simulator of an ON_THE_WAY request. It resumes from the
// last recorded point when there is one, otherwise from a random offset.
// The stored request is authoritative: a snapshot that has since left
// ON_THE_WAY, or changed collector, is refused.
func (r *Runner) Start(ctx context.Context, req *models.PickupRequest) error {
	if req.Status != models.StatusOnTheWay {
		return errors.Wrapf(models.ErrInvalidTransition, "request %s is %s, not ON_THE_WAY", req.ID, req.Status)
	}

	r.mu.Lock()
	if _, ok := r.active[req.ID]; ok {
		r.mu.Unlock()
		return errors.Wrap(ErrAlreadyRunning, req.ID)
	}
	// reserve the slot before any I/O so concurrent starts are refused and a
	// Stop racing with this Start finds something to cancel
	runCtx, cancel := context.WithCancel(r.base)
	rn := &run{requestID: req.ID, cancel: cancel, done: make(chan struct{})}
	r.active[req.ID] = rn
	r.mu.Unlock()

	cur, start, err := r.prepare(ctx, req)
	if err != nil {
		r.release(rn)
		cancel()
		close(rn.done)
		return err
	}
	dest := Point{Lat: cur.Location.Lat, Lng: cur.Location.Lng}
	rn.mu.Lock()
	rn.collectorID = *cur.CollectorID
	rn.sim = NewSimulator(start, dest, r.sim)
	rn.mu.Unlock()
	r.totalStarted.Add(1)

	log.Info().Str("request_id", req.ID).Str("collector_id", rn.collectorID).Dur("tick", r.tickInterval).Msg("tracking started")
	go r.loop(runCtx, rn)
	return nil
}

// prepare re-reads the request and picks the simulator start point.
func (r *Runner) prepare(ctx context.Context, req *models.PickupRequest) (*models.PickupRequest, Point, error) {
	cur, err := r.repo.GetRequest(ctx, req.ID)
	if err != nil {
		return nil, Point{}, err
	}
	if cur.Status != models.StatusOnTheWay {
		return nil, Point{}, errors.Wrapf(models.ErrInvalidTransition, "request %s is %s, not ON_THE_WAY", cur.ID, cur.Status)
	}
	if cur.CollectorID == nil {
		return nil, Point{}, models.Validationf("request %s has no collector", cur.ID)
	}
	if req.CollectorID != nil && *req.CollectorID != *cur.CollectorID {
		return nil, Point{}, errors.Wrapf(models.ErrConflict, "request %s is now assigned to %s", cur.ID, *cur.CollectorID)
	}
	start, err := r.startPoint(ctx, cur.ID, Point{Lat: cur.Location.Lat, Lng: cur.Location.Lng})
	if err != nil {
		return nil, Point{}, err
	}
	return cur, start, nil
}

// release drops rn from the active set unless a newer run replaced it.
func (r *Runner) release(rn *run) {
	r.mu.Lock()
	if r.active[rn.requestID] == rn {
		delete(r.active, rn.requestID)
	}
	r.mu.Unlock()
}

func (r *Runner) startPoint(ctx context.Context, requestID string, dest Point) (Point, error) {
	pts, err := r.repo.ListTrackingPoints(ctx, requestID, 1)
	if err != nil {
		return Point{}, err
	}
	if len(pts) > 0 {
		last := pts[len(pts)-1]
		return Point{Lat: last.Lat, Lng: last.Lng}, nil
	}
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return RandomStart(dest, r.sim.MaxStartOffset, r.rnd), nil
}

func (r *Runner) loop(ctx context.Context, rn *run) {
	defer close(rn.done)
	if ctx.Err() != nil {
		return
	}
	if pos, ok := r.snapshot(rn); ok {
		r.broadcast(ctx, pos, "simulator")
	}

	t := time.NewTicker(r.tickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if ctx.Err() != nil {
			return
		}

		rn.mu.Lock()
		rn.sim.Step()
		arrived := rn.sim.Arrived()
		rn.mu.Unlock()

		r.totalTicks.Add(1)
		r.lastTickUnixNano.Store(r.now().UnixNano())

		pos, _ := r.snapshot(rn)
		if _, err := r.repo.AppendTrackingPoint(ctx, &models.TrackingPoint{
			RequestID:   rn.requestID,
			CollectorID: rn.collectorID,
			Lat:         pos.Lat,
			Lng:         pos.Lng,
			Timestamp:   pos.UpdatedAt,
		}); err != nil {
			if stale(err) {
				// the request moved on before its listener stopped us
				log.Info().Err(err).Str("request_id", rn.requestID).Msg("tracking ended by request state")
				r.release(rn)
				return
			}
			r.recordError(errors.Wrapf(err, "append tracking point for %s", rn.requestID))
		}
		r.broadcast(ctx, pos, "simulator")

		if arrived {
			r.totalArrived.Add(1)
			log.Info().Str("request_id", rn.requestID).Int("ticks", pos.Tick).Msg("collector reached pickup location")
			r.release(rn)
			return
		}
	}
}

func (r *Runner) snapshot(rn *run) (models.Position, bool) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.sim == nil {
		return models.Position{}, false
	}
	return rn.sim.Snapshot(rn.requestID, rn.collectorID, r.tickInterval, r.now()), true
}

// broadcast caches the position, pushes it to subscribers and publishes it to Kafka.
func (r *Runner) broadcast(ctx context.Context, pos models.Position, source string) {
	if r.cache != nil {
		if b, err := json.Marshal(pos); err == nil {
			if err := r.cache.Set(ctx, positionKey(pos.RequestID), b, r.positionTTL); err != nil {
				r.recordError(err)
			}
		}
	}
	if r.feed != nil {
		r.feed.PublishPosition(pos)
	}
	if r.producer != nil && r.topic != "" {
		b, err := json.Marshal(messages.TrackingUpdated{
			RequestID:   pos.RequestID,
			CollectorID: pos.CollectorID,
			Lat:         pos.Lat,
			Lng:         pos.Lng,
			Progress:    pos.Progress,
			ETASeconds:  pos.ETASeconds,
			Arrived:     pos.Arrived,
			Source:      source,
			Timestamp:   pos.UpdatedAt,
		})
		if err != nil {
			r.recordError(errors.Wrap(err, "marshal kafka msg"))
			return
		}
		pctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
		defer cancel()
		if err := r.producer.Publish(pctx, r.topic, []byte(pos.RequestID), b); err != nil {
			r.recordError(err)
		}
	}
}

// Stop cancels the simulator of requestID and waits for it, so nothing is
// emitted for the request once Stop returns.
func (r *Runner) Stop(requestID string) bool {
	r.mu.Lock()
	rn, ok := r.active[requestID]
	if ok {
		delete(r.active, requestID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	rn.cancel()
	<-rn.done
	r.totalStopped.Add(1)
	log.Info().Str("request_id", requestID).Msg("tracking stopped")
	return true
}

func (r *Runner) StopAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Stop(id)
	}
}

// Close stops every simulator. Runs started afterwards end immediately.
func (r *Runner) Close() {
	r.cancel()
	r.StopAll()
}

func (r *Runner) Running(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[requestID]
	return ok
}

// OnStatusChanged starts tracking on entering ON_THE_WAY and stops it on any other target.
func (r *Runner) OnStatusChanged(ctx context.Context, req *models.PickupRequest, _, to models.RequestStatus) error {
	if to != models.StatusOnTheWay {
		r.Stop(req.ID)
		return nil
	}
	err := r.Start(ctx, req)
	switch {
	case err == nil, errors.Is(err, ErrAlreadyRunning):
		return nil
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrConflict):
		// a later transition already committed; its own notification stops or restarts us
		log.Info().Err(err).Str("request_id", req.ID).Msg("ignoring stale tracking start")
		return nil
	default:
		return err
	}
}

// stale reports whether err means the stored request no longer accepts
// simulator points.
func stale(err error) bool {
	return errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrForbidden) || errors.Is(err, models.ErrNotFound)
}

// Position returns the live simulator state, falling back to the cached one.
func (r *Runner) Position(ctx context.Context, requestID string) (models.Position, error) {
	r.mu.Lock()
	rn, ok := r.active[requestID]
	r.mu.Unlock()
	if ok {
		if pos, ok := r.snapshot(rn); ok {
			return pos, nil
		}
	}

	if r.cache != nil {
		b, found, err := r.cache.Get(ctx, positionKey(requestID))
		if err == nil && found {
			var pos models.Position
			if json.Unmarshal(b, &pos) == nil {
				return pos, nil
			}
		}
	}
	return models.Position{}, storage.NotFound("position", requestID)
}

// RecordPosition stores a position posted by the assigned collector itself.
func (r *Runner) RecordPosition(ctx context.Context, actor models.Actor, requestID string, lat, lng float64) (*models.TrackingPoint, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, models.Validationf("coordinates out of range")
	}
	req, err := r.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleCollector:
		if !req.AssignedTo(actor.ID) {
			return nil, errors.Wrapf(models.ErrForbidden, "request %s is not assigned to %s", requestID, actor.ID)
		}
	case models.RoleResident, models.RoleAdmin:
		return nil, errors.Wrap(models.ErrForbidden, "only the assigned collector posts positions")
	default:
		return nil, errors.Wrapf(models.ErrForbidden, "unknown role %q", actor.Role)
	}
	if req.Status != models.StatusOnTheWay {
		return nil, models.Validationf("request %s is %s; positions are accepted only while ON_THE_WAY", requestID, req.Status)
	}

	if r.rl != nil && r.postLimitPerMinute > 0 {
		key := fmt.Sprintf("rl:tracking:%s:%s", actor.ID, r.now().Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, key, r.postLimitPerMinute, 70*time.Second)
		if err != nil {
			// limiter outage must not block collectors
			log.Warn().Err(err).Str("collector_id", actor.ID).Msg("tracking rate limiter unavailable")
		} else if !allowed {
			return nil, errors.Wrapf(ErrRateLimited, "collector %s posted %d points this minute", actor.ID, n)
		}
	}

	p, err := r.repo.AppendTrackingPoint(ctx, &models.TrackingPoint{
		RequestID:   requestID,
		CollectorID: actor.ID,
		Lat:         lat,
		Lng:         lng,
		Timestamp:   r.now(),
	})
	if err != nil {
		return nil, err
	}
	r.totalPosted.Add(1)

	sim := NewSimulator(Point{Lat: lat, Lng: lng}, Point{Lat: req.Location.Lat, Lng: req.Location.Lng}, r.sim)
	pos := sim.Snapshot(requestID, actor.ID, r.tickInterval, p.Timestamp)
	r.broadcast(ctx, pos, "collector")
	return p, nil
}

func (r *Runner) Points(ctx context.Context, requestID string, limit int) ([]*models.TrackingPoint, error) {
	if _, err := r.repo.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return r.repo.ListTrackingPoints(ctx, requestID, limit)
}

func (r *Runner) recordError(err error) {
	r.totalErrors.Add(1)
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
	log.Error().Err(err).Msg("tracking")
}

type Stats struct {
	StartedAt    time.Time  `json:"startedAt"`
	LastTickAt   *time.Time `json:"lastTickAt,omitempty"`
	Active       int        `json:"active"`
	TotalStarted int64      `json:"totalStarted"`
	TotalStopped int64      `json:"totalStopped"`
	TotalArrived int64      `json:"totalArrived"`
	TotalTicks   int64      `json:"totalTicks"`
	TotalPosted  int64      `json:"totalPosted"`
	TotalErrors  int64      `json:"totalErrors"`
	LastError    string     `json:"lastError,omitempty"`
}

func (r *Runner) Stats() Stats {
	r.mu.Lock()
	active := len(r.active)
	r.mu.Unlock()

	st := Stats{
		StartedAt:    time.Unix(0, r.startedAtUnixNano).UTC(),
		Active:       active,
		TotalStarted: r.totalStarted.Load(),
		TotalStopped: r.totalStopped.Load(),
		TotalArrived: r.totalArrived.Load(),
		TotalTicks:   r.totalTicks.Load(),
		TotalPosted:  r.totalPosted.Load(),
		TotalErrors:  r.totalErrors.Load(),
	}
	if n := r.lastTickUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTickAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func positionKey(requestID string) string {
	return fmt.Sprintf("tracking:%s:position", requestID)
}
