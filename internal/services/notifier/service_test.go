package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/PickupBox/internal/broker/messages"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage/memstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type recordingProducer struct {
	mu     sync.Mutex
	topics []string
	keys   []string
	values [][]byte
	err    error
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, string(key))
	p.values = append(p.values, value)
	return p.err
}

type NotifierSuite struct {
	suite.Suite
	ctx   context.Context
	store *memstore.Store
	svc   *Service
	at    time.Time
}

func TestNotifierSuite(t *testing.T) {
	suite.Run(t, new(NotifierSuite))
}

func (s *NotifierSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memstore.New().WithSeed()
	s.svc = New(s.store)
	s.at = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *NotifierSuite) accepted() messages.RequestStatusChanged {
	c := "tpu-1"
	return messages.RequestStatusChanged{
		RequestID:   "req-1",
		ResidentID:  "warga-1",
		CollectorID: &c,
		From:        "PENDING",
		To:          "ACCEPTED",
		WasteType:   "ORGANIC",
		ChangedAt:   s.at,
	}
}

func (s *NotifierSuite) TestAcceptedNotifiesResidentAndCollector() {
	out, err := s.svc.HandleStatusChanged(s.ctx, s.accepted())
	s.Require().NoError(err)
	s.Require().Len(out, 2)

	resident, err := s.svc.ListForUser(s.ctx, models.Actor{ID: "warga-1", Role: models.RoleResident}, 10)
	s.Require().NoError(err)
	s.Require().Len(resident, 1)
	s.Require().Equal("Collector assigned", resident[0].Title)
	s.Require().Equal("req-1", resident[0].RequestID)
	s.Require().False(resident[0].Read)

	collector, err := s.svc.ListForUser(s.ctx, models.Actor{ID: "tpu-1", Role: models.RoleCollector}, 10)
	s.Require().NoError(err)
	s.Require().Len(collector, 1)
	s.Require().Contains(collector[0].Message, "Organic")
}

func (s *NotifierSuite) TestOtherStatusesNotifyResidentOnly() {
	msg := s.accepted()
	msg.From, msg.To = "ACCEPTED", "ON_THE_WAY"

	out, err := s.svc.HandleStatusChanged(s.ctx, msg)
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Require().Equal("warga-1", out[0].UserID)
	s.Require().Equal("Collector on the way", out[0].Title)
}

func (s *NotifierSuite) TestRedeliveryIsIdempotent() {
	_, err := s.svc.HandleStatusChanged(s.ctx, s.accepted())
	s.Require().NoError(err)

	out, err := s.svc.HandleStatusChanged(s.ctx, s.accepted())
	s.Require().NoError(err)
	s.Require().Empty(out)

	list, err := s.svc.ListForUser(s.ctx, models.Actor{ID: "warga-1", Role: models.RoleResident}, 10)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
}

func (s *NotifierSuite) TestInvalidEventRejected() {
	msg := s.accepted()
	msg.To = "LOST"
	_, err := s.svc.HandleStatusChanged(s.ctx, msg)
	s.Require().True(errors.Is(err, models.ErrValidation))

	msg = s.accepted()
	msg.ResidentID = ""
	_, err = s.svc.HandleStatusChanged(s.ctx, msg)
	s.Require().True(errors.Is(err, models.ErrValidation))
}

func (s *NotifierSuite) TestHandleMessageSkipsPoison() {
	s.Require().NoError(s.svc.HandleMessage(s.ctx, []byte("{not json")))
	s.Require().NoError(s.svc.HandleMessage(s.ctx, []byte(`{"request_id":"req-1"}`)))

	b, err := json.Marshal(s.accepted())
	s.Require().NoError(err)
	s.Require().NoError(s.svc.HandleMessage(s.ctx, b))

	list, err := s.svc.ListForUser(s.ctx, models.Actor{ID: "warga-1", Role: models.RoleResident}, 10)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
}

func (s *NotifierSuite) TestMarkRead() {
	out, err := s.svc.HandleStatusChanged(s.ctx, s.accepted())
	s.Require().NoError(err)
	residentNote := out[0]

	// another user cannot touch it
	err = s.svc.MarkRead(s.ctx, models.Actor{ID: "warga-2", Role: models.RoleResident}, residentNote.ID)
	s.Require().True(errors.Is(err, models.ErrNotFound))

	s.Require().NoError(s.svc.MarkRead(s.ctx, models.Actor{ID: "warga-1", Role: models.RoleResident}, residentNote.ID))
	list, err := s.svc.ListForUser(s.ctx, models.Actor{ID: "warga-1", Role: models.RoleResident}, 10)
	s.Require().NoError(err)
	s.Require().True(list[0].Read)

	err = s.svc.MarkRead(s.ctx, models.Actor{ID: "warga-1", Role: models.RoleResident}, " ")
	s.Require().True(errors.Is(err, models.ErrValidation))
}

func (s *NotifierSuite) TestInlineListener() {
	req, err := s.store.GetRequest(s.ctx, "req-1")
	s.Require().NoError(err)
	req.UpdatedAt = s.at

	l := NewInline(s.svc)
	s.Require().NoError(l.OnStatusChanged(s.ctx, req, models.StatusPending, models.StatusCancelled))

	list, err := s.svc.ListForUser(s.ctx, models.Actor{ID: "warga-1", Role: models.RoleResident}, 10)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Require().Equal("Request cancelled", list[0].Title)
}

func TestPublisher_PublishesKeyedEvent(t *testing.T) {
	p := &recordingProducer{}
	pub := NewPublisher(p, "")

	c := "tpu-1"
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	req := &models.PickupRequest{ID: "req-9", ResidentID: "warga-1", CollectorID: &c, WasteType: models.WasteHazardous, UpdatedAt: at}

	require.NoError(t, pub.OnStatusChanged(context.Background(), req, models.StatusPending, models.StatusAccepted))
	require.Equal(t, []string{messages.TopicRequestStatusChanged}, p.topics)
	require.Equal(t, []string{"req-9"}, p.keys)

	var got messages.RequestStatusChanged
	require.NoError(t, json.Unmarshal(p.values[0], &got))
	require.Equal(t, "PENDING", got.From)
	require.Equal(t, "ACCEPTED", got.To)
	require.Equal(t, "HAZARDOUS", got.WasteType)
	require.Equal(t, "tpu-1", *got.CollectorID)
	require.True(t, at.Equal(got.ChangedAt))
}

func TestPublisher_ReturnsProducerError(t *testing.T) {
	p := &recordingProducer{err: errors.New("broker down")}
	pub := NewPublisher(p, "custom.topic")

	err := pub.OnStatusChanged(context.Background(), &models.PickupRequest{ID: "r"}, models.StatusPending, models.StatusCancelled)
	require.Error(t, err)
	require.Equal(t, []string{"custom.topic"}, p.topics)
}
