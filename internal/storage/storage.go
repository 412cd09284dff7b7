// Package storage defines the Entity Store contract shared by the memory and
// PostgreSQL implementations.
//
// Every mutation is a versioned read-modify-write: Mutate* reads the current
// state, checks it against expectedVersion, applies fn to a private copy and
// writes it back with version+1. A version mismatch yields models.ErrConflict.
// expectedVersion == AnyVersion skips the check but still serialises writers.
package storage

import (
	"context"
	"time"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/pkg/errors"
)

const AnyVersion int64 = 0

type RequestMutation func(r *models.PickupRequest) error

type UserMutation func(u *models.User) error

// RequestFilter narrows a request listing. Zero value lists everything.
type RequestFilter struct {
	ResidentID  string
	CollectorID string
	// IncludePending adds PENDING requests to a CollectorID listing (the collector job board).
	IncludePending bool
	Statuses       []models.RequestStatus
}

type UserFilter struct {
	Role       models.Role
	OnlineOnly bool
}

type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) (*models.User, error)
	MutateUser(ctx context.Context, id string, expectedVersion int64, fn UserMutation) (*models.User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]*models.User, error)

	GetRequest(ctx context.Context, id string) (*models.PickupRequest, error)
	CreateRequest(ctx context.Context, r *models.PickupRequest) (*models.PickupRequest, error)
	MutateRequest(ctx context.Context, id string, expectedVersion int64, fn RequestMutation) (*models.PickupRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]*models.PickupRequest, error)

	AppendTrackingPoint(ctx context.Context, p *models.TrackingPoint) (*models.TrackingPoint, error)
	ListTrackingPoints(ctx context.Context, requestID string, limit int) ([]*models.TrackingPoint, error)

	CreateNotification(ctx context.Context, n *models.Notification) (*models.Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// Match reports whether r passes the filter. Used by the memory store and by tests.
func (f RequestFilter) Match(r *models.PickupRequest) bool {
	if f.ResidentID != "" && r.ResidentID != f.ResidentID {
		return false
	}
	if f.CollectorID != "" && !r.AssignedTo(f.CollectorID) {
		if !(f.IncludePending && r.Status == models.StatusPending) {
			return false
		}
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if r.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (f UserFilter) Match(u *models.User) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.OnlineOnly && !u.IsOnline {
		return false
	}
	return true
}

// Unavailable marks a driver-level failure so callers can match models.ErrStoreUnavailable.
func Unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return &unavailableError{op: op, cause: err}
}

type unavailableError struct {
	op    string
	cause error
}

func (e *unavailableError) Error() string {
	return e.op + ": " + models.ErrStoreUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Unwrap() error { return e.cause }

func (e *unavailableError) Is(target error) bool { return target == models.ErrStoreUnavailable }

// CheckVersion returns ErrConflict when expected is set and differs from actual.
func CheckVersion(kind, id string, expected, actual int64) error {
	if expected != AnyVersion && expected != actual {
		return errors.Wrapf(models.ErrConflict, "%s %s: expected version %d, have %d", kind, id, expected, actual)
	}
	return nil
}

// NotFound wraps models.ErrNotFound with the entity kind and id.
func NotFound(kind, id string) error {
	return errors.Wrapf(models.ErrNotFound, "%s %s", kind, id)
}

// CheckTracking rejects a tracking point for a request that is not
// ON_THE_WAY with collectorID assigned. Stores call it under the request lock.
func CheckTracking(status models.RequestStatus, assigned *string, requestID, collectorID string) error {
	if status != models.StatusOnTheWay {
		return models.Validationf("request %s is %s; tracking points are accepted only while ON_THE_WAY", requestID, status)
	}
	if assigned == nil || *assigned != collectorID {
		return errors.Wrapf(models.ErrForbidden, "request %s is not assigned to %s", requestID, collectorID)
	}
	return nil
}

// NextTimestamp returns now, or last+1µs when the clock has not moved past last.
func NextTimestamp(last, now time.Time) time.Time {
	if !now.After(last) {
		return last.Add(time.Microsecond)
	}
	return now
}
