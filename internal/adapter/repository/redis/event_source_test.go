package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/honeyledger/internal/domain"
)

const (
	testStream = "honeypot_events_test"
	testDLQ    = "honeypot_events_test_dlq"
	testGroup  = "test-group"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

// newTestSource builds a consumer on client with a short read block so empty reads return fast.
func newTestSource(t *testing.T, client *redis.Client, consumer string) *EventSource {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := NewEventSource(client, logger, testStream, testGroup, consumer, testDLQ)
	src.block = 50 * time.Millisecond
	return src
}

func TestEventSource_ReadAckAndPending(t *testing.T) {
	src := newTestSource(t, newTestClient(t), "test-consumer")
	ctx := context.Background()
	require.True(t, src.Available())

	first, err := src.Publish(ctx, []byte(`{"sourceIp":"10.0.0.5","command":"ls -la","threatLevel":"high"}`))
	require.NoError(t, err)
	second, err := src.Publish(ctx, []byte(`{"sourceIp":"10.0.0.6","command":"id","threatLevel":"low"}`))
	require.NoError(t, err)

	msgs, err := src.ReadBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first, msgs[0].ID)
	assert.Contains(t, string(msgs[0].Payload), "ls -la")

	pending, err := src.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	require.NoError(t, src.Acknowledge(ctx, msgs[0].ID))
	pending, err = src.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	require.NoError(t, src.Acknowledge(ctx, second))
	msgs, err = src.ReadBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "acknowledged entries are not read again")
}

func TestEventSource_UnacknowledgedEntriesAreRedelivered(t *testing.T) {
	src := newTestSource(t, newTestClient(t), "test-consumer")
	ctx := context.Background()

	id, err := src.Publish(ctx, []byte(`{"sourceIp":"10.0.0.5","command":"ls -la","threatLevel":"high"}`))
	require.NoError(t, err)

	msgs, err := src.ReadBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Left unacknowledged, as a refused event is: every later read hands it back.
	for i := 0; i < 3; i++ {
		msgs, err = src.ReadBatch(ctx, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1, "read %d", i)
		assert.Equal(t, id, msgs[0].ID)
		assert.Contains(t, string(msgs[0].Payload), "ls -la")
	}

	require.NoError(t, src.Acknowledge(ctx, id))
	pending, err := src.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	msgs, err = src.ReadBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEventSource_PendingEntriesComeBeforeNewOnes(t *testing.T) {
	src := newTestSource(t, newTestClient(t), "test-consumer")
	ctx := context.Background()

	old, err := src.Publish(ctx, []byte(`{"sourceIp":"10.0.0.5","command":"whoami","threatLevel":"low"}`))
	require.NoError(t, err)
	_, err = src.ReadBatch(ctx, 10)
	require.NoError(t, err)

	fresh, err := src.Publish(ctx, []byte(`{"sourceIp":"10.0.0.6","command":"id","threatLevel":"low"}`))
	require.NoError(t, err)

	msgs, err := src.ReadBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, old, msgs[0].ID)

	require.NoError(t, src.Acknowledge(ctx, old))
	msgs, err = src.ReadBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, fresh, msgs[0].ID)
}

func TestEventSource_ClaimsEntriesIdleAtAnotherConsumer(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	dead := newTestSource(t, client, "relay-a")
	alive := newTestSource(t, client, "relay-b")
	alive.SetClaimMinIdle(20 * time.Millisecond)

	id, err := dead.Publish(ctx, []byte(`{"sourceIp":"10.0.0.5","command":"ls -la","threatLevel":"high"}`))
	require.NoError(t, err)
	msgs, err := dead.ReadBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	time.Sleep(50 * time.Millisecond)

	msgs, err = alive.ReadBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)

	require.NoError(t, alive.Acknowledge(ctx, id))
	pending, err := alive.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestEventSource_MoveToDLQ(t *testing.T) {
	client := newTestClient(t)
	src := newTestSource(t, client, "test-consumer")
	ctx := context.Background()

	letter := domain.DeadLetter{
		SourceMessage: domain.SourceMessage{ID: "1-0", Payload: []byte(`{"sourceIp":"10.0.0.5"}`)},
		Reason:        "invalid event: missing fields: command, threatLevel",
	}
	require.NoError(t, src.MoveToDLQ(ctx, []domain.DeadLetter{letter}))

	entries, err := client.XRange(ctx, src.dlqStreamKey, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, letter.Reason, entries[0].Values["reason"])
	assert.Equal(t, "1-0", entries[0].Values["original_msg_id"])
	assert.Equal(t, string(letter.Payload), entries[0].Values[payloadField])
}

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		err     error
		busy    bool
		noGroup bool
		network bool
	}{
		{fmt.Errorf("BUSYGROUP Consumer Group name already exists"), true, false, false},
		{fmt.Errorf("NOGROUP No such key 'x' or consumer group 'y'"), false, true, false},
		{redis.ErrClosed, false, false, true},
		{&netTimeout{}, false, false, true},
		{nil, false, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.busy, isRedisBusyGroupError(tt.err), "busy %v", tt.err)
		assert.Equal(t, tt.noGroup, isNoGroupError(tt.err), "nogroup %v", tt.err)
		assert.Equal(t, tt.network, isNetworkError(tt.err), "network %v", tt.err)
	}
}

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }
