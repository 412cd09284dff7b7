// Package notifier turns request status changes into user notifications.
//
// In the API process a Publisher (Kafka) or Inline listener is attached to
// the lifecycle manager. The worker consumes request.status_changed and
// feeds it to Service.HandleStatusChanged.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/PickupBox/internal/broker/messages"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateNotification(ctx context.Context, n *models.Notification) (*models.Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// namespace seeds the deterministic notification ids, so a redelivered event
// maps onto the notification it already produced.
var namespace = uuid.MustParse("5f1d7c8e-3a0b-4c61-9d2e-7b4a2f0e9c13")

type Service struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// HandleStatusChanged stores the notifications for one status change and
// returns the ones created by this call.
func (s *Service) HandleStatusChanged(ctx context.Context, msg messages.RequestStatusChanged) ([]*models.Notification, error) {
	if msg.RequestID == "" || msg.ResidentID == "" {
		return nil, models.Validationf("request_id and resident_id are required")
	}
	to, ok := models.ParseRequestStatus(msg.To)
	if !ok {
		return nil, models.Validationf("unknown status %q", msg.To)
	}
	if msg.ChangedAt.IsZero() {
		msg.ChangedAt = s.now()
	}

	var out []*models.Notification

	title, text := residentMessage(msg.RequestID, to)
	n, err := s.deliver(ctx, msg, msg.ResidentID, title, text)
	if err != nil {
		return out, err
	}
	if n != nil {
		out = append(out, n)
	}

	if to == models.StatusAccepted && msg.CollectorID != nil && *msg.CollectorID != "" {
		n, err := s.deliver(ctx, msg, *msg.CollectorID,
			"New pickup job",
			fmt.Sprintf("Pickup request %s (%s) is assigned to you.", msg.RequestID, wasteLabel(msg.WasteType)))
		if err != nil {
			return out, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// deliver returns nil without error when the notification was already stored.
func (s *Service) deliver(ctx context.Context, msg messages.RequestStatusChanged, userID, title, text string) (*models.Notification, error) {
	key := strings.Join([]string{msg.RequestID, msg.From, msg.To, userID, msg.ChangedAt.UTC().Format(time.RFC3339Nano)}, "|")
	n, err := s.store.CreateNotification(ctx, &models.Notification{
		ID:        uuid.NewSHA1(namespace, []byte(key)).String(),
		UserID:    userID,
		RequestID: msg.RequestID,
		Title:     title,
		Message:   text,
		CreatedAt: msg.ChangedAt.UTC(),
	})
	if errors.Is(err, models.ErrAlreadyExists) {
		log.Debug().Str("request_id", msg.RequestID).Str("user_id", userID).Msg("notification already delivered")
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "notify user %s", userID)
	}

	phone := ""
	if u, err := s.store.GetUser(ctx, userID); err == nil && u.Phone != nil {
		phone = *u.Phone
	}
	log.Info().
		Str("channel", "whatsapp-mock").
		Str("user_id", userID).
		Str("phone", phone).
		Str("request_id", msg.RequestID).
		Str("status", msg.To).
		Msg(text)
	return n, nil
}

// HandleMessage decodes one Kafka record. Malformed records are logged and
// skipped so a single bad payload cannot stall the consumer group.
func (s *Service) HandleMessage(ctx context.Context, value []byte) error {
	var msg messages.RequestStatusChanged
	if err := json.Unmarshal(value, &msg); err != nil {
		log.Warn().Err(err).Msg("skip malformed status event")
		return nil
	}
	_, err := s.HandleStatusChanged(ctx, msg)
	if errors.Is(err, models.ErrValidation) {
		log.Warn().Err(err).Str("request_id", msg.RequestID).Msg("skip invalid status event")
		return nil
	}
	return err
}

func (s *Service) ListForUser(ctx context.Context, actor models.Actor, limit int) ([]*models.Notification, error) {
	if actor.ID == "" {
		return nil, errors.Wrap(models.ErrForbidden, "anonymous actor")
	}
	return s.store.ListNotifications(ctx, actor.ID, limit)
}

// MarkRead flags one of the actor's own notifications as read.
func (s *Service) MarkRead(ctx context.Context, actor models.Actor, id string) error {
	if strings.TrimSpace(id) == "" {
		return models.Validationf("id is required")
	}
	return s.store.MarkNotificationRead(ctx, actor.ID, id)
}

func residentMessage(requestID string, to models.RequestStatus) (string, string) {
	switch to {
	case models.StatusPending:
		return "Request received", fmt.Sprintf("Your pickup request %s is waiting for a collector.", requestID)
	case models.StatusAccepted:
		return "Collector assigned", fmt.Sprintf("A collector accepted your pickup request %s.", requestID)
	case models.StatusOnTheWay:
		return "Collector on the way", fmt.Sprintf("The collector is heading to your location for request %s.", requestID)
	case models.StatusArrived:
		return "Collector arrived", fmt.Sprintf("The collector has arrived for request %s.", requestID)
	case models.StatusCollecting:
		return "Collecting waste", fmt.Sprintf("Your waste for request %s is being collected.", requestID)
	case models.StatusCompleted:
		return "Pickup completed", fmt.Sprintf("Pickup request %s is completed.", requestID)
	case models.StatusValidated:
		return "Pickup validated", fmt.Sprintf("Pickup request %s was validated by the admin.", requestID)
	case models.StatusCancelled:
		return "Request cancelled", fmt.Sprintf("Pickup request %s was cancelled.", requestID)
	default:
		return "Status update", fmt.Sprintf("Pickup request %s is now %s.", requestID, to)
	}
}

func wasteLabel(s string) string {
	wt, ok := models.ParseWasteType(s)
	if !ok {
		return s
	}
	switch wt {
	case models.WasteOrganic:
		return "Organic"
	case models.WasteNonOrganic:
		return "Non-Organic"
	case models.WasteHazardous:
		return "B3"
	case models.WasteResidue:
		return "Residue"
	default:
		return string(wt)
	}
}
