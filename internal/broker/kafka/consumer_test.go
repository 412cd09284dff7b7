package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CallsHandlerAndCommits(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("req-1"), Value: []byte("v")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var gotK, gotV []byte
	err := c.Consume(context.Background(), func(k, v []byte) error {
		gotK, gotV = k, v
		return nil
	})
	require.Error(t, err)
	require.Equal(t, []byte("req-1"), gotK)
	require.Equal(t, []byte("v"), gotV)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}}}
	c := newConsumerWithReader(fr).WithRetry(3, 0)

	calls := 0
	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(k, v []byte) error {
		calls++
		return want
	})
	require.ErrorIs(t, err, want)
	require.Equal(t, 3, calls)
	require.Empty(t, fr.committed)
}

func TestConsumer_Consume_RetriesTransientFailure(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("req-2"), Value: []byte("v"), Offset: 7}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr).WithRetry(3, time.Millisecond)

	calls := 0
	err := c.Consume(context.Background(), func(k, v []byte) error {
		calls++
		if calls < 2 {
			return errors.New("store unavailable")
		}
		return nil
	})
	require.ErrorContains(t, err, "stop")
	require.Equal(t, 2, calls)
	require.Len(t, fr.committed, 1)
	require.Equal(t, int64(7), fr.committed[0].Offset)
}

func TestConsumer_Consume_ContextCancelledDuringBackoff(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Value: []byte("v")}}}
	c := newConsumerWithReader(fr).WithRetry(5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	err := c.Consume(ctx, func(k, v []byte) error {
		cancel()
		return errors.New("boom")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, fr.committed)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
