package storage

import (
	"time"

	"github.com/BearBump/PickupBox/internal/models"
)

// SeedUsers is the demo neighbourhood installed on first access of an empty store.
func SeedUsers(now time.Time) []*models.User {
	now = now.UTC()
	return []*models.User{
		{ID: "warga-1", Name: "Budi Santoso", Role: models.RoleResident, Address: ptr("Blok A No. 12, RW 04"), Version: 1, CreatedAt: now, UpdatedAt: now},
		{ID: "warga-2", Name: "Siti Aminah", Role: models.RoleResident, Address: ptr("Blok C No. 05, RW 04"), Version: 1, CreatedAt: now, UpdatedAt: now},
		{ID: "tpu-1", Name: "Anto Wijaya", Role: models.RoleCollector, Phone: ptr("08123456789"), IsOnline: true, Version: 1, CreatedAt: now, UpdatedAt: now},
		{ID: "admin-1", Name: "Pak RW 04", Role: models.RoleAdmin, IsOnline: true, Version: 1, CreatedAt: now, UpdatedAt: now},
	}
}

func SeedRequests(now time.Time) []*models.PickupRequest {
	now = now.UTC()
	return []*models.PickupRequest{
		{
			ID:             "req-1",
			ResidentID:     "warga-1",
			Status:         models.StatusPending,
			WasteType:      models.WasteOrganic,
			WeightEstimate: 2.5,
			Location:       models.Location{Lat: -6.2247, Lng: 106.8077, Address: "Blok A No. 12, RW 04"},
			Photos:         []string{"https://images.unsplash.com/photo-1532996122724-e3c354a0b15b?auto=format&fit=crop&w=300&q=80"},
			CreatedAt:      now.Add(-time.Hour),
			UpdatedAt:      now.Add(-time.Hour),
			Version:        1,
		},
		{
			ID:             "req-2",
			ResidentID:     "warga-2",
			CollectorID:    ptr("tpu-1"),
			Status:         models.StatusOnTheWay,
			WasteType:      models.WasteNonOrganic,
			WeightEstimate: 5.0,
			Location:       models.Location{Lat: -6.2230, Lng: 106.8100, Address: "Blok C No. 05, RW 04"},
			Photos:         []string{"https://images.unsplash.com/photo-1605600611270-132d55ce0161?auto=format&fit=crop&w=300&q=80"},
			CreatedAt:      now.Add(-2 * time.Hour),
			UpdatedAt:      now.Add(-30 * time.Minute),
			Version:        1,
		},
	}
}

func ptr(s string) *string { return &s }
