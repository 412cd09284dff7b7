package pickup_api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/services/lifecycle"
	"github.com/go-chi/chi/v5"
)

type createRequestBody struct {
	ResidentID string `json:"residentId"`
	// UserID is the older name of ResidentID.
	UserID         string          `json:"userId"`
	WasteType      string          `json:"wasteType"`
	WeightEstimate float64         `json:"weightEstimate"`
	Location       models.Location `json:"location"`
	Photos         []string        `json:"photos"`
}

func (a *PickupAPI) listRequests(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var statuses []models.RequestStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, ok := models.ParseRequestStatus(part)
			if !ok {
				writeErr(w, r, models.Validationf("unknown status %q", part))
				return
			}
			statuses = append(statuses, st)
		}
	}

	rs, err := a.lc.ListFor(r.Context(), actor)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if len(statuses) > 0 {
		kept := rs[:0]
		for _, req := range rs {
			for _, st := range statuses {
				if req.Status == st {
					kept = append(kept, req)
					break
				}
			}
		}
		rs = kept
	}
	writeJSON(w, http.StatusOK, a.enrich.EnrichAll(r.Context(), rs))
}

func (a *PickupAPI) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var body createRequestBody
	if err := decode(w, r, &body); err != nil {
		writeErr(w, r, err)
		return
	}
	residentID := body.ResidentID
	if residentID == "" {
		residentID = body.UserID
	}
	created, err := a.lc.CreateRequest(r.Context(), actor, models.RequestCreateInput{
		ResidentID:     residentID,
		WasteType:      models.WasteType(body.WasteType),
		WeightEstimate: body.WeightEstimate,
		Location:       body.Location,
		Photos:         body.Photos,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.enrich.Enrich(r.Context(), created))
}

func (a *PickupAPI) getRequest(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	req, err := a.lc.GetRequest(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.enrich.Enrich(r.Context(), req))
}

type statusBody struct {
	Status       string `json:"status"`
	CollectorID  string `json:"collectorId"`
	ProofPhoto   string `json:"proofPhoto"`
	ExpectedFrom string `json:"expectedFrom"`
}

// updateStatus routes ACCEPTED through the assignment engine: a collector
// claims the job, an admin naming a collector assigns it.
func (a *PickupAPI) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id := chi.URLParam(r, "id")

	var body statusBody
	if err := decode(w, r, &body); err != nil {
		writeErr(w, r, err)
		return
	}
	target, ok := models.ParseRequestStatus(body.Status)
	if !ok {
		writeErr(w, r, models.Validationf("unknown status %q", body.Status))
		return
	}
	var expected models.RequestStatus
	if body.ExpectedFrom != "" {
		if expected, ok = models.ParseRequestStatus(body.ExpectedFrom); !ok {
			writeErr(w, r, models.Validationf("unknown expectedFrom %q", body.ExpectedFrom))
			return
		}
	}

	var (
		updated *models.PickupRequest
		err     error
	)
	switch {
	case target == models.StatusAccepted && actor.Role == models.RoleCollector:
		updated, err = a.assign.SelfAccept(r.Context(), id, actor)
	case target == models.StatusAccepted && actor.Role == models.RoleAdmin && body.CollectorID != "":
		res, aerr := a.assign.ManualAssign(r.Context(), id, body.CollectorID, actor)
		if aerr == nil {
			updated = res.Request
		}
		err = aerr
	default:
		updated, err = a.lc.ApplyTransition(r.Context(), id, target, actor, lifecycle.TransitionOptions{
			CollectorID:  body.CollectorID,
			ProofPhoto:   body.ProofPhoto,
			ExpectedFrom: expected,
		})
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.enrich.Enrich(r.Context(), updated))
}

type assignBody struct {
	CollectorID string `json:"collectorId"`
}

type assignmentResponse struct {
	Request   any `json:"request"`
	Collector any `json:"collector"`
}

func (a *PickupAPI) assignCollector(w http.ResponseWriter, r *http.Request) {
	a.doAssign(w, r, false)
}

func (a *PickupAPI) reassignCollector(w http.ResponseWriter, r *http.Request) {
	a.doAssign(w, r, true)
}

func (a *PickupAPI) doAssign(w http.ResponseWriter, r *http.Request, reassign bool) {
	actor, _ := ActorFrom(r.Context())
	var body assignBody
	if err := decode(w, r, &body); err != nil {
		writeErr(w, r, err)
		return
	}
	if strings.TrimSpace(body.CollectorID) == "" {
		writeErr(w, r, models.Validationf("collectorId is required"))
		return
	}

	id := chi.URLParam(r, "id")
	assign := a.assign.ManualAssign
	if reassign {
		assign = a.assign.Reassign
	}
	res, err := assign(r.Context(), id, body.CollectorID, actor)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentResponse{
		Request:   a.enrich.Enrich(r.Context(), res.Request),
		Collector: res.Collector,
	})
}

func (a *PickupAPI) listTracking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id := chi.URLParam(r, "id")
	if _, err := a.lc.GetRequest(r.Context(), actor, id); err != nil {
		writeErr(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErr(w, r, models.Validationf("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	pts, err := a.tracking.Points(r.Context(), id, limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pts)
}

type pointBody struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (a *PickupAPI) postTracking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var body pointBody
	if err := decode(w, r, &body); err != nil {
		writeErr(w, r, err)
		return
	}
	if body.Lat == nil || body.Lng == nil {
		writeErr(w, r, models.Validationf("lat and lng are required"))
		return
	}
	p, err := a.tracking.RecordPosition(r.Context(), actor, chi.URLParam(r, "id"), *body.Lat, *body.Lng)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *PickupAPI) position(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id := chi.URLParam(r, "id")
	if _, err := a.lc.GetRequest(r.Context(), actor, id); err != nil {
		writeErr(w, r, err)
		return
	}
	pos, err := a.tracking.Position(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
