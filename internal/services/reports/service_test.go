package reports

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage/memstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := memstore.New().WithSeed()
	now := time.Now().UTC()
	c := "tpu-1"
	for i, st := range []models.RequestStatus{models.StatusCompleted, models.StatusValidated, models.StatusCancelled} {
		_, err := store.CreateRequest(ctx, &models.PickupRequest{
			ResidentID: "warga-1", CollectorID: &c, Status: st, WasteType: models.WasteHazardous,
			WeightEstimate: float64(i + 1), Location: models.Location{Address: "x"}, CreatedAt: now, UpdatedAt: now,
		})
		require.NoError(t, err)
	}

	svc := New(store)
	_, err := svc.Stats(ctx, models.Actor{ID: "warga-1", Role: models.RoleResident})
	require.True(t, errors.Is(err, models.ErrForbidden))

	st, err := svc.Stats(ctx, models.Actor{ID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, 5, st.TotalCount)
	require.Equal(t, 1, st.OnlineCollectors)
	require.Equal(t, 2, st.CompletedCount)
	require.Equal(t, 3.0, st.TotalWeightKg)
	require.Equal(t, 1, st.StatusCounts[models.StatusPending])
	require.Equal(t, 1, st.StatusCounts[models.StatusOnTheWay])
	require.Equal(t, 0, st.StatusCounts[models.StatusArrived])

	require.Len(t, st.WasteDistribution, 4)
	got := map[string]int{}
	for _, sl := range st.WasteDistribution {
		got[sl.Name] = sl.Value
	}
	require.Equal(t, map[string]int{"Organic": 1, "Non-Organic": 1, "B3": 3, "Residue": 0}, got)
}
