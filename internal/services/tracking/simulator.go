package tracking

import (
	"math"
	"time"

	"github.com/BearBump/PickupBox/internal/models"
)

// Rand is the only source of randomness: it picks the start offset once.
type Rand interface {
	Float64() float64
}

type Config struct {
	// StepFraction is the share of the remaining distance closed per tick, in (0,1).
	StepFraction float64
	// Epsilon is the snap distance in degrees.
	Epsilon float64
	// MaxStartOffset bounds the random start offset per axis, in degrees.
	MaxStartOffset float64
}

func DefaultConfig() Config {
	return Config{
		StepFraction:   0.09,
		Epsilon:        1e-5,
		MaxStartOffset: 0.01,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if !(c.StepFraction > 0 && c.StepFraction < 1) {
		c.StepFraction = def.StepFraction
	}
	if !(c.Epsilon > 0) {
		c.Epsilon = def.Epsilon
	}
	if c.MaxStartOffset < 0 {
		c.MaxStartOffset = 0
	}
	return c
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance is the straight-line distance in degree space.
func Distance(a, b Point) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lng-b.Lng)
}

// RandomStart offsets dest by up to maxOffset on each axis.
func RandomStart(dest Point, maxOffset float64, r Rand) Point {
	if r == nil || maxOffset <= 0 {
		return dest
	}
	return Point{
		Lat: dest.Lat + (r.Float64()*2-1)*maxOffset,
		Lng: dest.Lng + (r.Float64()*2-1)*maxOffset,
	}
}

// Simulator moves a point towards a destination closing a fixed fraction of
// the remaining distance each tick. It is deterministic for a given start,
// destination and config. Not safe for concurrent use.
type Simulator struct {
	cfg     Config
	cur     Point
	dest    Point
	initial float64
	eta     int
	ticks   int
	arrived bool
}

func NewSimulator(start, dest Point, cfg Config) *Simulator {
	s := &Simulator{cfg: cfg.normalized(), cur: start, dest: dest}
	s.initial = Distance(start, dest)
	if s.initial < s.cfg.Epsilon {
		s.cur = dest
		s.arrived = true
		return s
	}
	s.eta = s.ticksLeft()
	return s
}

// Step advances one tick. It returns false once the destination is reached.
func (s *Simulator) Step() bool {
	if s.arrived {
		return false
	}
	f := s.cfg.StepFraction
	s.cur = Point{
		Lat: s.cur.Lat + (s.dest.Lat-s.cur.Lat)*f,
		Lng: s.cur.Lng + (s.dest.Lng-s.cur.Lng)*f,
	}
	s.ticks++

	if Distance(s.cur, s.dest) < s.cfg.Epsilon {
		s.cur = s.dest
		s.arrived = true
		s.eta = 0
		return true
	}
	if n := s.ticksLeft(); n < s.eta {
		s.eta = n
	}
	return true
}

func (s *Simulator) ticksLeft() int {
	r := Distance(s.cur, s.dest)
	n := int(math.Ceil(math.Log(s.cfg.Epsilon/r) / math.Log(1-s.cfg.StepFraction)))
	if n < 1 {
		n = 1
	}
	return n
}

func (s *Simulator) Current() Point { return s.cur }

func (s *Simulator) Destination() Point { return s.dest }

func (s *Simulator) Remaining() float64 { return Distance(s.cur, s.dest) }

func (s *Simulator) Arrived() bool { return s.arrived }

func (s *Simulator) Ticks() int { return s.ticks }

// Progress is 100*(1-remaining/initial) clamped to [0,100], exactly 100 on arrival.
func (s *Simulator) Progress() float64 {
	if s.arrived || s.initial == 0 {
		return 100
	}
	p := 100 * (1 - s.Remaining()/s.initial)
	return math.Max(0, math.Min(100, p))
}

// ETATicks never increases and is 0 exactly when arrived.
func (s *Simulator) ETATicks() int {
	if s.arrived {
		return 0
	}
	return s.eta
}

// Snapshot renders the state for a request; tick converts ETA ticks into seconds.
func (s *Simulator) Snapshot(requestID, collectorID string, tick time.Duration, now time.Time) models.Position {
	eta := s.ETATicks()
	return models.Position{
		RequestID:   requestID,
		CollectorID: collectorID,
		Lat:         s.cur.Lat,
		Lng:         s.cur.Lng,
		DestLat:     s.dest.Lat,
		DestLng:     s.dest.Lng,
		Progress:    s.Progress(),
		ETATicks:    eta,
		ETASeconds:  (time.Duration(eta) * tick).Seconds(),
		Arrived:     s.arrived,
		Tick:        s.ticks,
		UpdatedAt:   now,
	}
}
