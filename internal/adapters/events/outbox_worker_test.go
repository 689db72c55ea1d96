package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type recordingPublisher struct {
	mu     sync.Mutex
	fail   bool
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, eventType)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enqueue(t *testing.T, outbox *memory.OutboxRepository, eventType string) {
	t.Helper()
	require.NoError(t, outbox.Enqueue(context.Background(), ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: "license-1",
		Payload:      []byte(`{"license_id":"license-1"}`),
		OccurredAt:   time.Now().UTC(),
	}))
}

func TestOutboxWorkerPublishesPendingEvents(t *testing.T) {
	repos := memory.NewRepositories()
	enqueue(t, repos.Outbox, "license.created")
	enqueue(t, repos.Outbox, "license.activated")

	publisher := &recordingPublisher{}
	worker := NewOutboxWorker(quietLogger(), repos.Outbox, publisher, OutboxWorkerConfig{BatchSize: 10})

	res, err := worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 2, Published: 2}, res)
	assert.Equal(t, []string{"license.created", "license.activated"}, publisher.events)

	for _, rec := range repos.Store.OutboxRecords() {
		assert.NotNil(t, rec.PublishedAt)
		assert.Nil(t, rec.ClaimToken)
	}

	res, err = worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

func TestOutboxWorkerRetriesThenDeadLetters(t *testing.T) {
	repos := memory.NewRepositories()
	enqueue(t, repos.Outbox, "license.renewed")

	publisher := &recordingPublisher{fail: true}
	worker := NewOutboxWorker(quietLogger(), repos.Outbox, publisher, OutboxWorkerConfig{BatchSize: 10, MaxRetries: 2})

	res, err := worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 1, Failed: 1}, res)
	rec := repos.Store.OutboxRecords()[0]
	assert.Equal(t, 1, rec.RetryCount)
	require.NotNil(t, rec.LastError)
	assert.Equal(t, "broker unavailable", *rec.LastError)
	assert.Nil(t, rec.DeadLetteredAt)

	res, err = worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 1, Failed: 1, DeadLettered: 1}, res)
	assert.NotNil(t, repos.Store.OutboxRecords()[0].DeadLetteredAt)

	publisher.fail = false
	res, err = worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
	assert.Empty(t, publisher.events)
}

func TestOutboxWorkerRunStopsOnCancel(t *testing.T) {
	repos := memory.NewRepositories()
	enqueue(t, repos.Outbox, "device.deleted")
	publisher := &recordingPublisher{}
	worker := NewOutboxWorker(quietLogger(), repos.Outbox, publisher, OutboxWorkerConfig{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := worker.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Equal(t, []string{"device.deleted"}, publisher.events)
}

func TestLoggingPublisher(t *testing.T) {
	p := NewLoggingPublisher(quietLogger())
	assert.NoError(t, p.Publish(context.Background(), "license.created", []byte(`{}`), "k"))
}

func TestKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, nil)
	assert.Error(t, err)

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTopics, p.topicByEvent)
	assert.NoError(t, p.Close())
}
