// Package feed fans request state and live positions out to subscribers of a request.
package feed

import (
	"sync"
	"sync/atomic"

	"github.com/BearBump/PickupBox/internal/models"
)

type Kind string

const (
	KindRequest  Kind = "request"
	KindPosition Kind = "position"
)

// Event is one push update for a request. Exactly one of Request/Position is set.
type Event struct {
	Kind     Kind                  `json:"kind"`
	Request  *models.PickupRequest `json:"request,omitempty"`
	Position *models.Position      `json:"position,omitempty"`
}

// Hub delivers events per request id. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int

	published atomic.Int64
	dropped   atomic.Int64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

type Subscription struct {
	RequestID string

	hub  *Hub
	ch   chan Event
	once sync.Once
}

// C is closed when the subscription is closed.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

func (h *Hub) Subscribe(requestID string) *Subscription {
	s := &Subscription{RequestID: requestID, hub: h, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[requestID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[requestID] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.RequestID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.RequestID)
		}
	}
	close(s.ch)
}

func (h *Hub) Publish(requestID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published.Add(1)
	for s := range h.subs[requestID] {
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) PublishRequest(r *models.PickupRequest) {
	if r == nil {
		return
	}
	h.Publish(r.ID, Event{Kind: KindRequest, Request: r.Clone()})
}

func (h *Hub) PublishPosition(p models.Position) {
	h.Publish(p.RequestID, Event{Kind: KindPosition, Position: &p})
}

type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	h.mu.Unlock()
	return Stats{Subscribers: n, Published: h.published.Load(), Dropped: h.dropped.Load()}
}
