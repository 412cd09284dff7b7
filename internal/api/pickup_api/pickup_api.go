// Package pickup_api is the HTTP+JSON boundary of the dispatch engine.
package pickup_api

import (
	"net/http"

	"github.com/BearBump/PickupBox/internal/services/assignment"
	"github.com/BearBump/PickupBox/internal/services/enrichment"
	"github.com/BearBump/PickupBox/internal/services/lifecycle"
	"github.com/BearBump/PickupBox/internal/services/notifier"
	"github.com/BearBump/PickupBox/internal/services/reports"
	"github.com/BearBump/PickupBox/internal/services/tracking"
	"github.com/BearBump/PickupBox/internal/services/users"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Deps struct {
	Lifecycle     *lifecycle.Manager
	Assignment    *assignment.Engine
	Tracking      *tracking.Runner
	Enrichment    *enrichment.Service
	Users         *users.Service
	Reports       *reports.Service
	Notifications *notifier.Service
	Tokens        TokenParser
}

type PickupAPI struct {
	lc       *lifecycle.Manager
	assign   *assignment.Engine
	tracking *tracking.Runner
	enrich   *enrichment.Service
	users    *users.Service
	reports  *reports.Service
	notes    *notifier.Service
	tokens   TokenParser

	limiter *ipLimiter
}

func New(d Deps) *PickupAPI {
	return &PickupAPI{
		lc:       d.Lifecycle,
		assign:   d.Assignment,
		tracking: d.Tracking,
		enrich:   d.Enrichment,
		users:    d.Users,
		reports:  d.Reports,
		notes:    d.Notifications,
		tokens:   d.Tokens,
	}
}

// WithRateLimit enables the per-client limiter. perSecond <= 0 disables it.
func (a *PickupAPI) WithRateLimit(perSecond float64, burst int) *PickupAPI {
	if perSecond > 0 {
		a.limiter = newIPLimiter(perSecond, burst)
	} else {
		a.limiter = nil
	}
	return a
}

// Mount registers the /api routes on r.
func (a *PickupAPI) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequestID, accessLog, recoverer)
		if a.limiter != nil {
			r.Use(a.limiter.middleware)
		}

		r.Post("/auth/login", a.login)
		r.Get("/users/list", a.listUsers)

		r.Group(func(r chi.Router) {
			r.Use(requireActor(a.tokens))

			r.Get("/auth/me", a.me)
			r.Post("/users", a.createUser)
			r.Patch("/users/{id}", a.updateUser)
			r.Patch("/users/{id}/status", a.setOnline)

			r.Get("/requests", a.listRequests)
			r.Post("/requests", a.createRequest)
			r.Get("/requests/{id}", a.getRequest)
			r.Patch("/requests/{id}/status", a.updateStatus)
			r.Patch("/requests/{id}/assign", a.assignCollector)
			r.Patch("/requests/{id}/reassign", a.reassignCollector)
			r.Get("/requests/{id}/tracking", a.listTracking)
			r.Post("/requests/{id}/tracking", a.postTracking)
			r.Get("/requests/{id}/position", a.position)
			r.Get("/requests/{id}/ws", a.subscribe)

			r.Get("/admin/stats", a.adminStats)
			r.Get("/admin/collectors", a.collectors)

			r.Get("/notifications", a.listNotifications)
			r.Patch("/notifications/{id}/read", a.markNotificationRead)
		})
	})
}

// Handler returns a router serving only the API routes.
func (a *PickupAPI) Handler() http.Handler {
	r := chi.NewRouter()
	a.Mount(r)
	return r
}
