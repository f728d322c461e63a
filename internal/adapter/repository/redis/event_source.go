package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/honeyledger/internal/domain"
)

const (
	payloadField = "payload"
	readBlock    = 2 * time.Second

	// DefaultClaimMinIdle is how long another consumer's entry must sit unacknowledged before
	// this consumer takes it over.
	DefaultClaimMinIdle = time.Minute
)

// EventSource reads raw honeypot events from a Redis Stream through a consumer group.
// Each stream entry carries the raw event JSON in its payload field.
type EventSource struct {
	client       *redis.Client
	logger       *slog.Logger
	streamKey    string
	group        string
	consumer     string
	dlqStreamKey string
	isAvailable  atomic.Bool

	block        time.Duration
	claimMinIdle time.Duration
}

// NewEventSource creates the source and its consumer group. A group setup failure is logged
// and leaves the source marked unavailable; reads will retry it.
func NewEventSource(client *redis.Client, logger *slog.Logger, streamKey, group, consumer, dlqStreamKey string) *EventSource {
	s := &EventSource{
		client:       client,
		logger:       logger.With("component", "redis_event_source"),
		streamKey:    streamKey,
		group:        group,
		consumer:     consumer,
		dlqStreamKey: dlqStreamKey,
		block:        readBlock,
		claimMinIdle: DefaultClaimMinIdle,
	}
	s.isAvailable.Store(true) // Assume available initially

	if err := s.setupConsumerGroup(context.Background()); err != nil {
		s.isAvailable.Store(false)
		s.logger.Error("Failed to setup consumer group, Redis may be unavailable on startup", "error", err)
	}
	return s
}

// StartHealthCheck pings Redis every interval and logs loss and recovery.
// It blocks until ctx is done.
func (s *EventSource) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Starting Redis health check")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping Redis health check")
			return
		case <-ticker.C:
			if err := s.client.Ping(ctx).Err(); err != nil {
				if s.isAvailable.CompareAndSwap(true, false) {
					s.logger.Error("Redis connection lost", "error", err)
				}
				continue
			}
			if s.isAvailable.CompareAndSwap(false, true) {
				s.logger.Info("Redis connection recovered")
				if err := s.setupConsumerGroup(ctx); err != nil {
					s.logger.Error("Failed to setup consumer group after recovery", "error", err)
				}
			}
		}
	}
}

// SetClaimMinIdle changes how long another consumer's entry must stay unacknowledged before
// ReadBatch claims it. Non-positive values are ignored.
func (s *EventSource) SetClaimMinIdle(d time.Duration) {
	if d > 0 {
		s.claimMinIdle = d
	}
}

// Available reports the last observed connectivity state.
func (s *EventSource) Available() bool {
	return s.isAvailable.Load()
}

func (s *EventSource) setupConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.streamKey, s.group, "0").Err()
	if err != nil && !isRedisBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// ReadBatch reads up to count entries for this consumer. Entries this consumer already
// received but never acknowledged come first, then entries other consumers left idle for
// longer than the claim threshold, then new entries. Entries without a payload field are
// returned with an empty payload so validation rejects and dead-letters them.
func (s *EventSource) ReadBatch(ctx context.Context, count int) ([]domain.SourceMessage, error) {
	// Pending history is returned immediately; no blocking.
	pending, err := s.readGroup(ctx, "0", count, -1)
	if err != nil || len(pending) > 0 {
		return pending, err
	}

	claimed, err := s.claimIdle(ctx, count)
	if err != nil {
		s.logger.Warn("Failed to claim idle entries from other consumers", "error", err)
	} else if len(claimed) > 0 {
		return claimed, nil
	}

	return s.readGroup(ctx, ">", count, s.block)
}

func (s *EventSource) readGroup(ctx context.Context, id string, count int, block time.Duration) ([]domain.SourceMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.streamKey, id},
		Count:    int64(count),
		Block:    block,
	}

	streams, err := s.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if isNetworkError(err) && s.isAvailable.CompareAndSwap(true, false) {
			s.logger.Error("Redis connection lost during read", "error", err)
		}
		if isNoGroupError(err) {
			if gerr := s.setupConsumerGroup(ctx); gerr != nil {
				s.logger.Error("Failed to recreate consumer group", "error", gerr)
			}
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}

	if len(streams) == 0 {
		return nil, nil
	}
	return s.toSourceMessages(streams[0].Messages), nil
}

// claimIdle takes over entries another consumer received but left unacknowledged for at
// least claimMinIdle, e.g. because that relay instance died.
func (s *EventSource) claimIdle(ctx context.Context, count int) ([]domain.SourceMessage, error) {
	messages, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.streamKey,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.claimMinIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XAUTOCLAIM from redis: %w", err)
	}
	if len(messages) > 0 {
		s.logger.Info("Claimed idle entries from other consumers", "count", len(messages))
	}
	return s.toSourceMessages(messages), nil
}

func (s *EventSource) toSourceMessages(messages []redis.XMessage) []domain.SourceMessage {
	if len(messages) == 0 {
		return nil
	}
	out := make([]domain.SourceMessage, 0, len(messages))
	for _, msg := range messages {
		payload, ok := msg.Values[payloadField].(string)
		if !ok {
			s.logger.Warn("Stream entry without payload field", "message_id", msg.ID)
		}
		out = append(out, domain.SourceMessage{ID: msg.ID, Payload: []byte(payload)})
	}
	return out
}

// Acknowledge acknowledges handled entries in the consumer group.
func (s *EventSource) Acknowledge(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.streamKey, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to XACK messages in redis: %w", err)
	}
	return nil
}

// MoveToDLQ copies rejected entries to the dead-letter stream along with the rejection reason.
func (s *EventSource) MoveToDLQ(ctx context.Context, letters []domain.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, l := range letters {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.dlqStreamKey,
			Values: map[string]interface{}{
				payloadField:      l.Payload,
				"reason":          l.Reason,
				"original_stream": s.streamKey,
				"original_msg_id": l.ID,
				"failed_at":       time.Now().UTC().Format(time.RFC3339),
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute DLQ pipeline: %w", err)
	}
	s.logger.Warn("Moved rejected events to DLQ", "count", len(letters))
	return nil
}

// Pending returns the number of entries delivered to the group but not yet acknowledged.
func (s *EventSource) Pending(ctx context.Context) (int64, error) {
	res, err := s.client.XPending(ctx, s.streamKey, s.group).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to XPENDING: %w", err)
	}
	return res.Count, nil
}

// Publish appends a raw event payload to the source stream.
func (s *EventSource) Publish(ctx context.Context, payload []byte) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey,
		Values: map[string]interface{}{payloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return id, nil
}

func isRedisBusyGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNoGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOGROUP")
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed)
}
