package lifecycle

import "github.com/BearBump/PickupBox/internal/models"

var transitions = map[models.RequestStatus][]models.RequestStatus{
	models.StatusPending:    {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:   {models.StatusOnTheWay, models.StatusCancelled},
	models.StatusOnTheWay:   {models.StatusArrived, models.StatusCancelled},
	models.StatusArrived:    {models.StatusCollecting, models.StatusCompleted, models.StatusCancelled},
	models.StatusCollecting: {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted:  {models.StatusValidated},
	models.StatusValidated:  nil,
	models.StatusCancelled:  nil,
}

// CanTransition reports whether to is in the allowed set of from.
func CanTransition(from, to models.RequestStatus) bool {
	for _, st := range transitions[from] {
		if st == to {
			return true
		}
	}
	return false
}

// AllowedTargets returns a copy of the allowed set of from.
func AllowedTargets(from models.RequestStatus) []models.RequestStatus {
	return append([]models.RequestStatus(nil), transitions[from]...)
}

// Terminal reports whether no transition leaves st.
func Terminal(st models.RequestStatus) bool {
	return len(transitions[st]) == 0
}
