// Package reports computes the admin dashboard figures.
package reports

import (
	"context"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage"
	"github.com/pkg/errors"
)

type Store interface {
	ListUsers(ctx context.Context, f storage.UserFilter) ([]*models.User, error)
	ListRequests(ctx context.Context, f storage.RequestFilter) ([]*models.PickupRequest, error)
}

type Slice struct {
	Type  models.WasteType `json:"type"`
	Name  string           `json:"name"`
	Value int              `json:"value"`
}

type Stats struct {
	WasteDistribution []Slice                      `json:"wasteDistribution"`
	TotalCount        int                          `json:"totalCount"`
	StatusCounts      map[models.RequestStatus]int `json:"statusCounts"`
	CompletedCount    int                          `json:"completedCount"`
	TotalWeightKg     float64                      `json:"totalWeightKg"`
	OnlineCollectors  int                          `json:"onlineCollectors"`
}

var wasteLabels = map[models.WasteType]string{
	models.WasteOrganic:    "Organic",
	models.WasteNonOrganic: "Non-Organic",
	models.WasteHazardous:  "B3",
	models.WasteResidue:    "Residue",
}

type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Stats(ctx context.Context, actor models.Actor) (*Stats, error) {
	if actor.Role != models.RoleAdmin {
		return nil, errors.Wrap(models.ErrForbidden, "stats are admin only")
	}

	rs, err := s.store.ListRequests(ctx, storage.RequestFilter{})
	if err != nil {
		return nil, err
	}
	online, err := s.store.ListUsers(ctx, storage.UserFilter{Role: models.RoleCollector, OnlineOnly: true})
	if err != nil {
		return nil, err
	}

	st := &Stats{
		TotalCount:       len(rs),
		StatusCounts:     make(map[models.RequestStatus]int, len(models.AllStatuses)),
		OnlineCollectors: len(online),
	}
	for _, status := range models.AllStatuses {
		st.StatusCounts[status] = 0
	}

	byType := make(map[models.WasteType]int, len(models.AllWasteTypes))
	for _, r := range rs {
		byType[r.WasteType]++
		st.StatusCounts[r.Status]++
		switch r.Status {
		case models.StatusCompleted, models.StatusValidated:
			st.CompletedCount++
			st.TotalWeightKg += r.WeightEstimate
		}
	}
	for _, wt := range models.AllWasteTypes {
		st.WasteDistribution = append(st.WasteDistribution, Slice{Type: wt, Name: wasteLabels[wt], Value: byType[wt]})
	}
	return st, nil
}
