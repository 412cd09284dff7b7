package pickup_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/PickupBox/internal/auth"
	"github.com/BearBump/PickupBox/internal/feed"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/services/assignment"
	"github.com/BearBump/PickupBox/internal/services/enrichment"
	"github.com/BearBump/PickupBox/internal/services/lifecycle"
	"github.com/BearBump/PickupBox/internal/services/notifier"
	"github.com/BearBump/PickupBox/internal/services/reports"
	"github.com/BearBump/PickupBox/internal/services/tracking"
	"github.com/BearBump/PickupBox/internal/services/users"
	"github.com/BearBump/PickupBox/internal/storage/memstore"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type APISuite struct {
	suite.Suite

	store  *memstore.Store
	runner *tracking.Runner
	tokens *auth.TokenManager
	api    *PickupAPI
	srv    *httptest.Server
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	s.store = memstore.New().WithSeed()
	hub := feed.NewHub(64)
	s.tokens = auth.NewTokenManager("test-secret", "pickupbox", time.Hour)

	lc := lifecycle.New(s.store, hub)
	s.runner = tracking.NewRunner(s.store, nil, nil, hub, nil, "").
		WithSettings(10*time.Millisecond, time.Minute, 100)
	notes := notifier.New(s.store)
	lc.AddListener(s.runner)
	lc.AddListener(notifier.NewInline(notes))

	enrich := enrichment.New(s.store, nil, 0)
	s.api = New(Deps{
		Lifecycle:     lc,
		Assignment:    assignment.New(s.store, lc),
		Tracking:      s.runner,
		Enrichment:    enrich,
		Users:         users.New(s.store, s.tokens, enrich),
		Reports:       reports.New(s.store),
		Notifications: notes,
		Tokens:        s.tokens,
	})
	s.srv = httptest.NewServer(s.api.Handler())
}

func (s *APISuite) TearDownTest() {
	s.srv.Close()
	s.runner.Close()
}

func (s *APISuite) token(id string) string {
	resp, env := s.call(http.MethodPost, "/api/auth/login", "", map[string]string{"id": id})
	s.Require().Equal(http.StatusOK, resp.StatusCode, env.Error)
	var sess struct {
		Token string `json:"token"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &sess))
	return sess.Token
}

func (s *APISuite) call(method, path, token string, body any) (*http.Response, envelope) {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var env envelope
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func (s *APISuite) createRequest(token string) string {
	resp, env := s.call(http.MethodPost, "/api/requests", token, map[string]any{
		"wasteType":      "B3",
		"weightEstimate": 2.5,
		"location":       map[string]any{"lat": -6.2, "lng": 106.8, "address": "Blok A No. 12"},
		"photos":         []string{"p1.jpg"},
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode, env.Error)
	var req models.PickupRequest
	s.Require().NoError(json.Unmarshal(env.Data, &req))
	s.Require().Equal(models.StatusPending, req.Status)
	s.Require().Equal(models.WasteHazardous, req.WasteType)
	return req.ID
}

func (s *APISuite) TestLoginAndAuth() {
	resp, env := s.call(http.MethodPost, "/api/auth/login", "", map[string]string{"id": "nobody"})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
	s.Require().False(env.Success)
	s.Require().Equal("VALIDATION", env.Code)

	resp, env = s.call(http.MethodGet, "/api/requests", "", nil)
	s.Require().Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Require().Equal("AUTH", env.Code)

	resp, _ = s.call(http.MethodGet, "/api/requests", "garbage", nil)
	s.Require().Equal(http.StatusUnauthorized, resp.StatusCode)

	tok := s.token("warga-1")
	resp, env = s.call(http.MethodGet, "/api/auth/me", tok, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var me models.User
	s.Require().NoError(json.Unmarshal(env.Data, &me))
	s.Require().Equal("Budi Santoso", me.Name)
}

func (s *APISuite) TestUsersListIsPublic() {
	resp, env := s.call(http.MethodGet, "/api/users/list?role=TPU", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var us []models.User
	s.Require().NoError(json.Unmarshal(env.Data, &us))
	s.Require().Len(us, 1)
	s.Require().Equal("tpu-1", us[0].ID)

	resp, _ = s.call(http.MethodGet, "/api/users/list?role=DRIVER", "", nil)
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APISuite) TestDispatchScenario() {
	resident := s.token("warga-1")
	collector := s.token("tpu-1")
	admin := s.token("admin-1")

	id := s.createRequest(resident)

	// a second collector, online
	resp, env := s.call(http.MethodPost, "/api/users", admin, map[string]any{"id": "tpu-2", "name": "Dedi", "role": "COLLECTOR"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode, env.Error)
	resp, _ = s.call(http.MethodPatch, "/api/users/tpu-2/status", s.token("tpu-2"), map[string]any{"isOnline": true})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	// the job board shows the new request to the collector
	resp, env = s.call(http.MethodGet, "/api/requests?status=PENDING", collector, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Contains(string(env.Data), id)

	resp, env = s.call(http.MethodPatch, "/api/requests/"+id+"/status", collector, map[string]string{"status": "ACCEPTED"})
	s.Require().Equal(http.StatusOK, resp.StatusCode, env.Error)
	var accepted enrichment.Request
	s.Require().NoError(json.Unmarshal(env.Data, &accepted))
	s.Require().Equal(models.StatusAccepted, accepted.Status)
	s.Require().Equal("tpu-1", *accepted.CollectorID)
	s.Require().Equal("Anto Wijaya", *accepted.CollectorName)
	s.Require().Equal("08123456789", *accepted.CollectorPhone)

	// the slower collector loses
	resp, env = s.call(http.MethodPatch, "/api/requests/"+id+"/status", s.token("tpu-2"), map[string]string{"status": "ACCEPTED"})
	s.Require().Equal(http.StatusConflict, resp.StatusCode)
	s.Require().Equal("CONFLICT", env.Code)

	// admin cannot assign an accepted request
	resp, env = s.call(http.MethodPatch, "/api/requests/"+id+"/assign", admin, map[string]string{"collectorId": "tpu-2"})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
	s.Require().Equal("INVALID_TRANSITION", env.Code)

	for _, st := range []string{"ON_THE_WAY", "ARRIVED", "COMPLETED"} {
		resp, env = s.call(http.MethodPatch, "/api/requests/"+id+"/status", collector, map[string]string{"status": st, "proofPhoto": "proof.jpg"})
		s.Require().Equal(http.StatusOK, resp.StatusCode, st+": "+env.Error)
	}
	var done models.PickupRequest
	s.Require().NoError(json.Unmarshal(env.Data, &done))
	s.Require().NotNil(done.CompletedAt)
	s.Require().Equal("proof.jpg", *done.ProofPhoto)
	s.Require().False(s.runner.Running(id))

	resp, env = s.call(http.MethodPatch, "/api/requests/"+id+"/status", resident, map[string]string{"status": "CANCELLED"})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
	s.Require().Equal("INVALID_TRANSITION", env.Code)

	// resident was told about every step
	resp, env = s.call(http.MethodGet, "/api/notifications", resident, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var notes []models.Notification
	s.Require().NoError(json.Unmarshal(env.Data, &notes))
	s.Require().Len(notes, 4)
	s.Require().Equal("Pickup completed", notes[0].Title)

	resp, _ = s.call(http.MethodPatch, "/api/notifications/"+notes[0].ID+"/read", resident, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp, _ = s.call(http.MethodPatch, "/api/notifications/"+notes[0].ID+"/read", collector, nil)
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *APISuite) TestManualAssignAndReassign() {
	admin := s.token("admin-1")
	id := s.createRequest(s.token("warga-1"))

	resp, env := s.call(http.MethodPost, "/api/users", admin, map[string]any{"id": "tpu-2", "name": "Dedi", "role": "TPU"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode, env.Error)

	// tpu-2 is offline
	resp, env = s.call(http.MethodPatch, "/api/requests/"+id+"/assign", admin, map[string]string{"collectorId": "tpu-2"})
	s.Require().Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Require().Equal("NO_AVAILABLE_COLLECTOR", env.Code)

	resp, env = s.call(http.MethodPatch, "/api/requests/"+id+"/status", admin, map[string]string{"status": "ACCEPTED", "collectorId": "tpu-1"})
	s.Require().Equal(http.StatusOK, resp.StatusCode, env.Error)

	resp, _ = s.call(http.MethodPatch, "/api/users/tpu-2/status", admin, map[string]any{"isOnline": true})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp, env = s.call(http.MethodPatch, "/api/requests/"+id+"/reassign", admin, map[string]string{"collectorId": "tpu-2"})
	s.Require().Equal(http.StatusOK, resp.StatusCode, env.Error)
	var out struct {
		Request   models.PickupRequest `json:"request"`
		Collector assignment.Candidate `json:"collector"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &out))
	s.Require().Equal("tpu-2", *out.Request.CollectorID)
	s.Require().Equal(0, out.Collector.Load)

	resp, env = s.call(http.MethodGet, "/api/admin/collectors", admin, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var cs []assignment.Candidate
	s.Require().NoError(json.Unmarshal(env.Data, &cs))
	s.Require().Len(cs, 2)

	resp, _ = s.call(http.MethodPatch, "/api/requests/"+id+"/reassign", s.token("tpu-1"), map[string]string{"collectorId": "tpu-1"})
	s.Require().Equal(http.StatusForbidden, resp.StatusCode)
}

func (s *APISuite) TestVisibilityAndValidation() {
	resident := s.token("warga-1")
	other := s.token("warga-2")
	id := s.createRequest(resident)

	resp, env := s.call(http.MethodGet, "/api/requests/"+id, other, nil)
	s.Require().Equal(http.StatusForbidden, resp.StatusCode)
	s.Require().Equal("FORBIDDEN", env.Code)

	resp, env = s.call(http.MethodPatch, "/api/requests/"+id+"/status", other, map[string]string{"status": "CANCELLED"})
	s.Require().Equal(http.StatusForbidden, resp.StatusCode)
	s.Require().Equal("FORBIDDEN", env.Code)

	resp, env = s.call(http.MethodGet, "/api/requests/missing", resident, nil)
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)
	s.Require().Equal("NOT_FOUND", env.Code)

	resp, _ = s.call(http.MethodPost, "/api/requests", resident, map[string]any{
		"wasteType": "ORGANIC", "weightEstimate": 0, "location": map[string]any{"address": "x"},
	})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.call(http.MethodPatch, "/api/requests/"+id+"/status", resident, map[string]string{"status": "FLYING"})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.call(http.MethodGet, "/api/admin/stats", resident, nil)
	s.Require().Equal(http.StatusForbidden, resp.StatusCode)

	resp, env = s.call(http.MethodGet, "/api/admin/stats", s.token("admin-1"), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var st reports.Stats
	s.Require().NoError(json.Unmarshal(env.Data, &st))
	s.Require().Equal(3, st.TotalCount)
}

func (s *APISuite) TestTrackingEndpoints() {
	collector := s.token("tpu-1")
	resident := s.token("warga-2")

	// req-2 is seeded ON_THE_WAY with tpu-1; nothing runs until something starts it
	resp, _ := s.call(http.MethodGet, "/api/requests/req-2/position", resident, nil)
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)

	resp, env := s.call(http.MethodPost, "/api/requests/req-2/tracking", collector, map[string]float64{"lat": -6.22, "lng": 106.80})
	s.Require().Equal(http.StatusCreated, resp.StatusCode, env.Error)

	resp, _ = s.call(http.MethodPost, "/api/requests/req-2/tracking", resident, map[string]float64{"lat": -6.22, "lng": 106.80})
	s.Require().Equal(http.StatusForbidden, resp.StatusCode)

	resp, _ = s.call(http.MethodPost, "/api/requests/req-2/tracking", collector, map[string]float64{"lat": 91, "lng": 0})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.call(http.MethodPost, "/api/requests/req-2/tracking", collector, map[string]any{"lat": 1})
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)

	resp, env = s.call(http.MethodGet, "/api/requests/req-2/tracking", resident, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var pts []models.TrackingPoint
	s.Require().NoError(json.Unmarshal(env.Data, &pts))
	s.Require().Len(pts, 1)

	// a fresh request driven to ON_THE_WAY starts the simulator
	id := s.createRequest(s.token("warga-1"))
	for _, st := range []string{"ACCEPTED", "ON_THE_WAY"} {
		resp, env = s.call(http.MethodPatch, "/api/requests/"+id+"/status", collector, map[string]string{"status": st})
		s.Require().Equal(http.StatusOK, resp.StatusCode, env.Error)
	}
	s.Require().Eventually(func() bool {
		resp, env := s.call(http.MethodGet, "/api/requests/"+id+"/position", collector, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var pos models.Position
		return json.Unmarshal(env.Data, &pos) == nil && pos.Tick > 0
	}, 2*time.Second, 20*time.Millisecond)

	resp, _ = s.call(http.MethodPatch, "/api/requests/"+id+"/status", collector, map[string]string{"status": "ARRIVED"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().False(s.runner.Running(id))
}

func (s *APISuite) TestWebsocketPushesTransitions() {
	resident := s.token("warga-1")
	collector := s.token("tpu-1")
	id := s.createRequest(resident)

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/requests/" + id + "/ws?token=" + resident
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()

	read := func() pushMessage {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var raw struct {
			Kind feed.Kind       `json:"kind"`
			Data json.RawMessage `json:"data"`
		}
		s.Require().NoError(conn.ReadJSON(&raw))
		var req models.PickupRequest
		if raw.Kind == feed.KindRequest {
			s.Require().NoError(json.Unmarshal(raw.Data, &req))
		}
		return pushMessage{Kind: raw.Kind, Data: req}
	}

	first := read()
	s.Require().Equal(feed.KindRequest, first.Kind)
	s.Require().Equal(models.StatusPending, first.Data.(models.PickupRequest).Status)

	resp, env := s.call(http.MethodPatch, "/api/requests/"+id+"/status", collector, map[string]string{"status": "ACCEPTED"})
	s.Require().Equal(http.StatusOK, resp.StatusCode, env.Error)

	next := read()
	s.Require().Equal(feed.KindRequest, next.Kind)
	s.Require().Equal(models.StatusAccepted, next.Data.(models.PickupRequest).Status)
}

func (s *APISuite) TestWebsocketRejectsStrangers() {
	id := s.createRequest(s.token("warga-1"))
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/requests/" + id + "/ws?token=" + s.token("warga-2")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().Error(err)
	s.Require().Equal(http.StatusForbidden, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	store := memstore.New().WithSeed()
	tm := auth.NewTokenManager("s", "", time.Hour)
	api := New(Deps{Users: users.New(store, tm, nil), Tokens: tm}).WithRateLimit(0.001, 1)
	h := api.Handler()

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/users/list", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusOK, do())
	require.Equal(t, http.StatusTooManyRequests, do())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.Wrap(models.ErrNotFound, "x"), http.StatusNotFound},
		{errors.Wrap(models.ErrInvalidTransition, "x"), http.StatusBadRequest},
		{models.Validationf("x"), http.StatusBadRequest},
		{errors.Wrap(models.ErrConflict, "x"), http.StatusConflict},
		{errors.Wrap(models.ErrAlreadyExists, "x"), http.StatusConflict},
		{errors.Wrap(models.ErrNoAvailableCollector, "x"), http.StatusUnprocessableEntity},
		{errors.Wrap(models.ErrForbidden, "x"), http.StatusForbidden},
		{errors.Wrap(auth.ErrInvalidToken, "x"), http.StatusUnauthorized},
		{errors.Wrap(tracking.ErrRateLimited, "x"), http.StatusTooManyRequests},
		{errors.Wrap(models.ErrStoreUnavailable, "x"), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, c := range cases {
		got, _ := classify(c.err)
		require.Equal(t, c.want, got, c.err.Error())
	}
}
