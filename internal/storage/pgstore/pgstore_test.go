package pgstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container skipped in -short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "pickupbox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/pickupbox_test?sslmode=disable"

	var st *Storage
	require.Eventually(t, func() bool {
		st, err = New(dsn)
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(st.Close)
	return st
}

func TestPGStore_RepoFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, st.Seed(ctx))
	// idempotent
	require.NoError(t, st.Seed(ctx))

	users, err := st.ListUsers(ctx, storage.UserFilter{Role: models.RoleCollector, OnlineOnly: true})
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "tpu-1", users[0].ID)

	_, err = st.CreateUser(ctx, &models.User{ID: "tpu-1", Name: "dup", Role: models.RoleCollector})
	require.True(t, errors.Is(err, models.ErrAlreadyExists))

	now := time.Now().UTC().Truncate(time.Microsecond)
	created, err := st.CreateRequest(ctx, &models.PickupRequest{
		ID:             "r-pg",
		ResidentID:     "warga-1",
		Status:         models.StatusPending,
		WasteType:      models.WasteHazardous,
		WeightEstimate: 1.5,
		Location:       models.Location{Lat: -6.2, Lng: 106.8, Address: "Jl. Mawar 1"},
		Photos:         []string{"a.jpg", "b.jpg"},
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), created.Version)
	require.Equal(t, []string{"a.jpg", "b.jpg"}, created.Photos)

	collector := "tpu-1"
	updated, err := st.MutateRequest(ctx, "r-pg", 1, func(r *models.PickupRequest) error {
		r.Status = models.StatusAccepted
		r.CollectorID = &collector
		r.UpdatedAt = now.Add(time.Second)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)
	require.Equal(t, models.StatusAccepted, updated.Status)

	_, err = st.MutateRequest(ctx, "r-pg", 1, func(r *models.PickupRequest) error { return nil })
	require.True(t, errors.Is(err, models.ErrConflict))

	_, err = st.GetRequest(ctx, "missing")
	require.True(t, errors.Is(err, models.ErrNotFound))

	list, err := st.ListRequests(ctx, storage.RequestFilter{CollectorID: "tpu-1", IncludePending: true})
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"r-pg", "req-1", "req-2"}, ids)

	ts := time.Now().UTC()
	p1, err := st.AppendTrackingPoint(ctx, &models.TrackingPoint{RequestID: "req-2", CollectorID: "tpu-1", Lat: 1, Lng: 1, Timestamp: ts})
	require.NoError(t, err)
	p2, err := st.AppendTrackingPoint(ctx, &models.TrackingPoint{RequestID: "req-2", CollectorID: "tpu-1", Lat: 2, Lng: 2, Timestamp: ts})
	require.NoError(t, err)
	require.True(t, p2.Timestamp.After(p1.Timestamp))

	_, err = st.AppendTrackingPoint(ctx, &models.TrackingPoint{RequestID: "req-1", CollectorID: "tpu-1", Lat: 3, Lng: 3, Timestamp: ts})
	require.True(t, errors.Is(err, models.ErrValidation))
	_, err = st.AppendTrackingPoint(ctx, &models.TrackingPoint{RequestID: "req-2", CollectorID: "tpu-2", Lat: 3, Lng: 3, Timestamp: ts})
	require.True(t, errors.Is(err, models.ErrForbidden))

	pts, err := st.ListTrackingPoints(ctx, "req-2", 0)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	require.Equal(t, 2.0, pts[1].Lat)

	n, err := st.CreateNotification(ctx, &models.Notification{UserID: "warga-1", RequestID: "req-1", Title: "t", Message: "m"})
	require.NoError(t, err)
	require.NoError(t, st.MarkNotificationRead(ctx, "warga-1", n.ID))
	require.True(t, errors.Is(st.MarkNotificationRead(ctx, "warga-2", n.ID), models.ErrNotFound))

	ns, err := st.ListNotifications(ctx, "warga-1", 10)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	require.True(t, ns[0].Read)
}

func TestPGStore_ConcurrentMutateOneWinner(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	require.NoError(t, st.Seed(ctx))

	cur, err := st.GetRequest(ctx, "req-1")
	require.NoError(t, err)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.MutateRequest(ctx, "req-1", cur.Version, func(r *models.PickupRequest) error {
				r.WeightEstimate += 1
				return nil
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, models.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(7), conflicts.Load())
}
