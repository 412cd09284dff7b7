package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func writeSwagger(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"swagger":"2.0"}`), 0o600))
	return p
}

func TestCheckSwagger(t *testing.T) {
	require.Error(t, CheckSwagger(""))
	require.Error(t, CheckSwagger(filepath.Join(t.TempDir(), "missing.json")))
	require.NoError(t, CheckSwagger(writeSwagger(t)))
}

func TestMount_Routes(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	r := chi.NewRouter()
	Mount(r, Options{
		SwaggerPath: writeSwagger(t),
		Ready: func(ctx context.Context) error {
			if down.Load() {
				return errors.New("redis down")
			}
			return nil
		},
		Stats:       func() any { return map[string]int{"transitions": 3} },
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "redis down", body["error"])

	down.Store(false)
	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	var stats map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.Equal(t, 3, stats["transitions"])

	resp, err = http.Get(srv.URL + "/swagger.json")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestMount_WithoutStatsOrSwagger(t *testing.T) {
	r := chi.NewRouter()
	Mount(r, Options{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	for path, want := range map[string]int{"/stats": 404, "/swagger.json": 404, "/readyz": 200} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, want, resp.StatusCode, path)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, lis, http.NotFoundHandler()) }()

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
