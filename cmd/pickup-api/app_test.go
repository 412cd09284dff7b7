package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/BearBump/PickupBox/config"
	"github.com/BearBump/PickupBox/internal/broker/messages"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/services/lifecycle"
	"github.com/BearBump/PickupBox/internal/storage/memstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	mu     sync.Mutex
	topics []string
	keys   []string
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, string(key))
	return nil
}

func testConfig(notifications string) *config.Config {
	return &config.Config{
		PickupBox: config.PickupBoxConfig{
			JWTSecret:          "test-secret",
			TrackingTickMillis: 10,
			Notifications:      notifications,
		},
	}
}

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func TestRunPickupAPI_SwaggerServed(t *testing.T) {
	svc := wire(testConfig("inline"), infra{store: memstore.New().WithSeed()})
	defer svc.runner.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := pickupAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: writeSwagger(t),
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runPickupAPI(ctx, opts, svc) }()

	base := "http://" + <-addrCh

	resp, err := http.Get(base + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.Contains(t, string(body), "\"swagger\"")

	for _, path := range []string{"/healthz", "/readyz", "/stats"} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err = http.Post(base+"/api/auth/login", "application/json", bytes.NewBufferString(`{"id":"warga-1"}`))
	require.NoError(t, err)
	var login struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	resp.Body.Close()
	require.True(t, login.Success)
	require.NotEmpty(t, login.Data.Token)

	resp, err = http.Get(base + "/api/requests")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	cancel()
	require.Error(t, <-errCh)
}

func TestRunPickupAPI_MissingSwagger(t *testing.T) {
	svc := wire(testConfig("off"), infra{store: memstore.New()})
	defer svc.runner.Close()

	err := runPickupAPI(context.Background(), pickupAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "missing.json"),
	}, svc)
	require.Error(t, err)
}

func TestRunHTTPServer_ReadyzReportsDependency(t *testing.T) {
	svc := wire(testConfig("off"), infra{
		store: memstore.New(),
		ping:  func(ctx context.Context) error { return errors.New("redis down") },
	})
	defer svc.runner.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runPickupAPI(ctx, pickupAPIOpts{
			httpAddr:    "127.0.0.1:0",
			swaggerPath: writeSwagger(t),
			onListen:    func(httpAddr string) { addrCh <- httpAddr },
		}, svc)
	}()

	resp, err := http.Get("http://" + <-addrCh + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	cancel()
	<-errCh
}

func TestWire_InlineNotifications(t *testing.T) {
	st := memstore.New().WithSeed()
	svc := wire(testConfig("inline"), infra{store: st})
	defer svc.runner.Close()

	ctx := context.Background()
	resident := models.Actor{ID: "warga-1", Role: models.RoleResident}
	_, err := svc.lifecycle.ApplyTransition(ctx, "req-1", models.StatusCancelled, resident, lifecycle.TransitionOptions{})
	require.NoError(t, err)

	ns, err := st.ListNotifications(ctx, "warga-1", 0)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	require.Equal(t, "Request cancelled", ns[0].Title)
}

func TestWire_KafkaNotificationsPublish(t *testing.T) {
	st := memstore.New().WithSeed()
	p := &recordingProducer{}
	svc := wire(testConfig("kafka"), infra{store: st, producer: p})
	defer svc.runner.Close()

	ctx := context.Background()
	resident := models.Actor{ID: "warga-1", Role: models.RoleResident}
	_, err := svc.lifecycle.ApplyTransition(ctx, "req-1", models.StatusCancelled, resident, lifecycle.TransitionOptions{})
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Equal(t, []string{messages.TopicRequestStatusChanged}, p.topics)
	require.Equal(t, []string{"req-1"}, p.keys)

	ns, err := st.ListNotifications(ctx, "warga-1", 0)
	require.NoError(t, err)
	require.Empty(t, ns)
}
