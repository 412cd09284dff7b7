package pickup_api

import (
	"net/http"
	"strconv"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/services/users"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/go-chi/chi/v5"
)

type loginBody struct {
	ID string `json:"id"`
}

func (a *PickupAPI) login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := decode(w, r, &body); err != nil {
		writeErr(w, r, err)
		return
	}
	sess, err := a.users.Login(r.Context(), body.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// listUsers backs the demo sign-in picker, so it is served without a token.
func (a *PickupAPI) listUsers(w http.ResponseWriter, r *http.Request) {
	var f storage.UserFilter
	if raw := r.URL.Query().Get("role"); raw != "" {
		role, ok := models.ParseRole(raw)
		if !ok {
			writeErr(w, r, models.Validationf("unknown role %q", raw))
			return
		}
		f.Role = role
	}
	if raw := r.URL.Query().Get("online"); raw != "" {
		online, err := strconv.ParseBool(raw)
		if err != nil {
			writeErr(w, r, models.Validationf("online must be a boolean"))
			return
		}
		f.OnlineOnly = online
	}
	us, err := a.users.List(r.Context(), f)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, us)
}

func (a *PickupAPI) me(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	u, err := a.users.Get(r.Context(), actor.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *PickupAPI) createUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var in users.CreateInput
	if err := decode(w, r, &in); err != nil {
		writeErr(w, r, err)
		return
	}
	u, err := a.users.Create(r.Context(), actor, in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (a *PickupAPI) updateUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var in users.UpdateInput
	if err := decode(w, r, &in); err != nil {
		writeErr(w, r, err)
		return
	}
	u, err := a.users.Update(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type onlineBody struct {
	IsOnline *bool `json:"isOnline"`
}

func (a *PickupAPI) setOnline(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var body onlineBody
	if err := decode(w, r, &body); err != nil {
		writeErr(w, r, err)
		return
	}
	if body.IsOnline == nil {
		writeErr(w, r, models.Validationf("isOnline is required"))
		return
	}
	u, err := a.users.SetOnline(r.Context(), actor, chi.URLParam(r, "id"), *body.IsOnline)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
