package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/V4T54L/honeyledger/internal/domain"
)

const defaultSourceBatchSize = 100

// ConsumeSourceUseCase pulls raw events from a source transport and feeds them through
// the coordinator.
type ConsumeSourceUseCase struct {
	source      domain.EventSource
	coordinator *Coordinator
	logger      *slog.Logger
	batchSize   int
}

// NewConsumeSourceUseCase creates a consumer reading up to batchSize messages per batch.
func NewConsumeSourceUseCase(source domain.EventSource, coordinator *Coordinator, logger *slog.Logger, batchSize int) *ConsumeSourceUseCase {
	if batchSize <= 0 {
		batchSize = defaultSourceBatchSize
	}
	return &ConsumeSourceUseCase{
		source:      source,
		coordinator: coordinator,
		logger:      logger.With("component", "source-consumer"),
		batchSize:   batchSize,
	}
}

// ProcessBatch reads one batch and ingests every message. Accepted and invalid messages are
// acknowledged; invalid ones are also copied to the DLQ. Messages refused for backpressure
// or shutdown stay unacknowledged so the transport redelivers them.
// It returns the number of accepted events.
func (uc *ConsumeSourceUseCase) ProcessBatch(ctx context.Context) (int, error) {
	// 1. Read a batch of raw events from the source
	msgs, err := uc.source.ReadBatch(ctx, uc.batchSize)
	if err != nil {
		uc.logger.Error("failed to read batch from source", "error", err)
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil // No new events, not an error
	}
	uc.logger.Debug("read batch of events from source", "count", len(msgs))

	// 2. Ingest each message independently
	var (
		ackIDs   []string
		letters  []domain.DeadLetter
		accepted int
	)
	for _, msg := range msgs {
		_, err := uc.coordinator.IngestJSON(ctx, msg.Payload)
		var verr *domain.ValidationError
		switch {
		case err == nil:
			accepted++
			ackIDs = append(ackIDs, msg.ID)
		case errors.As(err, &verr):
			letters = append(letters, domain.DeadLetter{SourceMessage: msg, Reason: verr.Error()})
			ackIDs = append(ackIDs, msg.ID)
		default:
			uc.logger.Warn("event refused, leaving for redelivery", "message_id", msg.ID, "error", err)
		}
	}

	// 3. Dead-letter the rejects before acknowledging them
	if len(letters) > 0 {
		if err := uc.source.MoveToDLQ(ctx, letters); err != nil {
			uc.logger.Error("failed to move rejected events to DLQ", "count", len(letters), "error", err)
			return accepted, err
		}
	}

	// 4. Acknowledge what was handled
	if len(ackIDs) > 0 {
		if err := uc.source.Acknowledge(ctx, ackIDs...); err != nil {
			// Accepted events are already sequenced; redelivery would ingest them again.
			uc.logger.Error("failed to acknowledge source messages", "count", len(ackIDs), "error", err)
			return accepted, err
		}
	}

	uc.logger.Info("processed source batch", "read", len(msgs), "accepted", accepted, "rejected", len(letters))
	return accepted, nil
}

// Run processes batches every interval until ctx is done. A batch that came back full is
// followed immediately by the next one.
func (uc *ConsumeSourceUseCase) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	uc.logger.Info("source consumer started", "batch_size", uc.batchSize)
	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("source consumer stopped")
			return
		case <-ticker.C:
			for {
				n, err := uc.ProcessBatch(ctx)
				if err != nil || n < uc.batchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}
