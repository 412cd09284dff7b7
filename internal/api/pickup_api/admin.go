package pickup_api

import (
	"net/http"
	"strconv"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

func (a *PickupAPI) adminStats(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	st, err := a.reports.Stats(r.Context(), actor)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// collectors lists online collectors by ascending load, the admin's assignment picker.
func (a *PickupAPI) collectors(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	if actor.Role != models.RoleAdmin {
		writeErr(w, r, errors.Wrap(models.ErrForbidden, "collector roster is admin only"))
		return
	}
	cs, err := a.assign.Candidates(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (a *PickupAPI) listNotifications(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErr(w, r, models.Validationf("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	ns, err := a.notes.ListForUser(r.Context(), actor, limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (a *PickupAPI) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	if err := a.notes.MarkRead(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"read": true})
}
