package notifier

import (
	"context"
	"encoding/json"

	"github.com/BearBump/PickupBox/internal/broker/messages"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/pkg/errors"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Publisher forwards committed transitions to Kafka for the worker.
type Publisher struct {
	producer Producer
	topic    string
}

func NewPublisher(producer Producer, topic string) *Publisher {
	if topic == "" {
		topic = messages.TopicRequestStatusChanged
	}
	return &Publisher{producer: producer, topic: topic}
}

func (p *Publisher) OnStatusChanged(ctx context.Context, req *models.PickupRequest, from, to models.RequestStatus) error {
	b, err := json.Marshal(Event(req, from, to))
	if err != nil {
		return errors.Wrap(err, "marshal status event")
	}
	return p.producer.Publish(ctx, p.topic, []byte(req.ID), b)
}

// Inline writes notifications in-process when Kafka is disabled.
type Inline struct {
	svc *Service
}

func NewInline(svc *Service) *Inline {
	return &Inline{svc: svc}
}

func (l *Inline) OnStatusChanged(ctx context.Context, req *models.PickupRequest, from, to models.RequestStatus) error {
	_, err := l.svc.HandleStatusChanged(ctx, Event(req, from, to))
	return err
}

// Event builds the wire form of a committed transition.
func Event(req *models.PickupRequest, from, to models.RequestStatus) messages.RequestStatusChanged {
	var collector *string
	if req.CollectorID != nil {
		c := *req.CollectorID
		collector = &c
	}
	return messages.RequestStatusChanged{
		RequestID:   req.ID,
		ResidentID:  req.ResidentID,
		CollectorID: collector,
		From:        string(from),
		To:          string(to),
		WasteType:   string(req.WasteType),
		ChangedAt:   req.UpdatedAt.UTC(),
	}
}
