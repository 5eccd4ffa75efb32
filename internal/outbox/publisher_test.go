package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/capacity-bookings/internal/adapters/crdb"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

type fakeSource struct {
	records   []crdb.OutboxRecord
	published map[uuid.UUID]bool
}

func (f *fakeSource) GetUnpublishedOutbox(_ context.Context, limit int) ([]crdb.OutboxRecord, error) {
	var out []crdb.OutboxRecord
	for _, r := range f.records {
		if !f.published[r.ID] && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) MarkPublished(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.published[id] = true
	return nil
}

type fakeSink struct {
	sent   []amqp.Publishing
	failAt int
}

func (f *fakeSink) Publish(_ context.Context, _ string, msg amqp.Publishing) error {
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func records(n int) []crdb.OutboxRecord {
	base := time.Now().Add(-time.Minute)
	out := make([]crdb.OutboxRecord, n)
	for i := range out {
		out[i] = crdb.OutboxRecord{
			ID:          uuid.New(),
			AggregateID: uuid.New(),
			EventType:   "booking.created",
			Payload:     []byte(`{}`),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func TestFlush_PublishesInOrderAndMarks(t *testing.T) {
	src := &fakeSource{records: records(3), published: map[uuid.UUID]bool{}}
	sink := &fakeSink{}
	p := NewPublisher(src, sink, observability.NewDiscardLogger(), 10, time.Second)

	n, err := p.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, sink.sent, 3)
	for i, msg := range sink.sent {
		assert.Equal(t, src.records[i].ID.String(), msg.MessageId)
		assert.Equal(t, "booking.created", msg.Type)
	}
	assert.Len(t, src.published, 3)

	n, err = p.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlush_MarksOnlyAfterPublish(t *testing.T) {
	src := &fakeSource{records: records(3), published: map[uuid.UUID]bool{}}
	sink := &fakeSink{failAt: 2}
	p := NewPublisher(src, sink, observability.NewDiscardLogger(), 10, time.Second)

	n, err := p.Flush(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, src.published[src.records[0].ID])
	assert.False(t, src.published[src.records[1].ID])
	assert.False(t, src.published[src.records[2].ID])

	sink.failAt = 0
	n, err = p.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, src.records[1].ID.String(), sink.sent[1].MessageId)
}

func TestFlush_RespectsBatch(t *testing.T) {
	src := &fakeSource{records: records(5), published: map[uuid.UUID]bool{}}
	p := NewPublisher(src, &fakeSink{}, observability.NewDiscardLogger(), 2, time.Second)

	n, err := p.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, src.published, 2)
}
