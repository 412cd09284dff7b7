package lifecycle

import (
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/pkg/errors"
)

// authorize checks that actor may move r to target. collectorID is the
// collector being bound by this transition, if any.
func authorize(actor models.Actor, r *models.PickupRequest, target models.RequestStatus, collectorID string) error {
	if target == models.StatusCancelled {
		if !partyTo(actor, r) {
			return errors.Wrapf(models.ErrForbidden, "%s is not a party to request %s", actor.ID, r.ID)
		}
		return nil
	}

	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleCollector:
		switch target {
		case models.StatusAccepted:
			if collectorID != "" && collectorID != actor.ID {
				return errors.Wrapf(models.ErrForbidden, "collector %s cannot accept on behalf of %s", actor.ID, collectorID)
			}
			return nil
		case models.StatusOnTheWay, models.StatusArrived, models.StatusCollecting, models.StatusCompleted:
			if !r.AssignedTo(actor.ID) {
				return errors.Wrapf(models.ErrForbidden, "request %s is not assigned to %s", r.ID, actor.ID)
			}
			return nil
		default:
			return errors.Wrapf(models.ErrForbidden, "collector cannot move request to %s", target)
		}
	case models.RoleResident:
		return errors.Wrapf(models.ErrForbidden, "resident cannot move request to %s", target)
	default:
		return errors.Wrapf(models.ErrForbidden, "unknown role %q", actor.Role)
	}
}

// partyTo reports whether actor owns, serves or administers r. Unlike
// visible it excludes collectors looking at someone else's PENDING request.
func partyTo(actor models.Actor, r *models.PickupRequest) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleCollector:
		return r.AssignedTo(actor.ID)
	case models.RoleResident:
		return r.ResidentID == actor.ID
	default:
		return false
	}
}

// visible reports whether actor may read r.
func visible(actor models.Actor, r *models.PickupRequest) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleCollector:
		return r.Status == models.StatusPending || r.AssignedTo(actor.ID)
	case models.RoleResident:
		return r.ResidentID == actor.ID
	default:
		return false
	}
}
