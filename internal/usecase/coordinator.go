package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/V4T54L/honeyledger/internal/adapter/metrics"
	"github.com/V4T54L/honeyledger/internal/domain"
)

const journalWriteTimeout = 5 * time.Second

// Coordinator is the single ingestion path. It validates and sequences events, records
// them, broadcasts them and hands them to the ledger committer. It also applies the
// committer's outcomes to the record store and the fan-out.
type Coordinator struct {
	validator *Validator
	sequencer *Sequencer
	store     domain.RecordStore
	fanout    domain.Broadcaster
	committer *Committer
	journal   domain.FailureJournal
	logger    *slog.Logger
	metrics   *metrics.PipelineMetrics
	now       func() time.Time

	// mu orders sequence assignment with queue admission so queue order matches id order.
	mu     sync.Mutex
	closed bool
}

// NewCoordinator wires the pipeline and registers itself as the committer's listener.
// journal may be nil.
func NewCoordinator(
	validator *Validator,
	sequencer *Sequencer,
	store domain.RecordStore,
	fanout domain.Broadcaster,
	committer *Committer,
	journal domain.FailureJournal,
	logger *slog.Logger,
	m *metrics.PipelineMetrics,
) *Coordinator {
	c := &Coordinator{
		validator: validator,
		sequencer: sequencer,
		store:     store,
		fanout:    fanout,
		committer: committer,
		journal:   journal,
		logger:    logger.With("component", "coordinator"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
	committer.listener = c
	return c
}

// Decode parses a JSON raw event through the schema-checked path.
func (c *Coordinator) Decode(data []byte) (domain.RawEvent, error) {
	raw, err := c.validator.Decode(data)
	if err != nil {
		c.metrics.EventsTotal.WithLabelValues("rejected").Inc()
		c.logger.Warn("rejected malformed event", "error", err)
	}
	return raw, err
}

// IngestJSON decodes and ingests one JSON event.
func (c *Coordinator) IngestJSON(ctx context.Context, data []byte) (*domain.Event, error) {
	raw, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	return c.Ingest(ctx, raw)
}

// Ingest validates raw and, if valid, assigns it the next sequence id, records it as Pending,
// broadcasts it and queues it for ledger commitment. Invalid events consume no id and leave
// no trace in the record store or the fan-out.
func (c *Coordinator) Ingest(ctx context.Context, raw domain.RawEvent) (*domain.Event, error) {
	_, span := otel.Tracer("coordinator").Start(ctx, "Ingest")
	defer span.End()

	ev, err := c.validator.Validate(raw)
	if err != nil {
		c.metrics.EventsTotal.WithLabelValues("rejected").Inc()
		c.logger.Warn("rejected invalid event", "error", err)
		span.SetStatus(codes.Error, "invalid event")
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.metrics.EventsTotal.WithLabelValues("closed").Inc()
		return nil, domain.ErrPipelineClosed
	}
	if err := c.committer.reserve(); err != nil {
		label := "backpressure"
		if errors.Is(err, domain.ErrPipelineClosed) {
			label = "closed"
		}
		c.metrics.EventsTotal.WithLabelValues(label).Inc()
		c.logger.Warn("event refused", "error", err)
		span.SetStatus(codes.Error, label)
		return nil, err
	}

	ev.SequenceID = c.sequencer.Next()
	event := &ev
	span.SetAttributes(attribute.Int64("sequence_id", int64(event.SequenceID)))

	c.put(domain.CommitRecord{Event: event, Status: domain.StatusPending, UpdatedAt: c.now()})
	c.broadcast(domain.NewEventNotice(event), domain.KindNewEvent)

	if err := c.committer.Enqueue(event); err != nil {
		// Only reachable if the committer stopped between reserve and push.
		c.logger.Error("event sequenced but not queued", "sequence_id", event.SequenceID, "error", err)
		c.onFailed(event, domain.ErrShutdownAborted, 0)
	}

	c.metrics.EventsTotal.WithLabelValues("accepted").Inc()
	c.logger.Debug("event accepted", "sequence_id", event.SequenceID, "source_ip", event.SourceIP)
	return event, nil
}

// Close stops accepting new events. Events already queued are left to the committer.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// QueueDepth returns the number of events waiting for ledger submission.
func (c *Coordinator) QueueDepth() int {
	return c.committer.Depth()
}

func (c *Coordinator) onSubmitted(ev *domain.Event) {
	c.put(domain.CommitRecord{Event: ev, Status: domain.StatusSubmitted, UpdatedAt: c.now()})
}

func (c *Coordinator) onConfirmed(ev *domain.Event, receipt domain.LedgerReceipt, attempts int) {
	c.put(domain.CommitRecord{
		Event:     ev,
		Status:    domain.StatusConfirmed,
		Receipt:   &receipt,
		Attempts:  attempts,
		UpdatedAt: c.now(),
	})
	c.broadcast(domain.ConfirmedNotice(&receipt), domain.KindConfirmed)
}

func (c *Coordinator) onFailed(ev *domain.Event, err error, attempts int) {
	rec := domain.CommitRecord{
		Event:     ev,
		Status:    domain.StatusFailed,
		LastError: err.Error(),
		Attempts:  attempts,
		UpdatedAt: c.now(),
	}
	c.put(rec)
	c.broadcast(domain.FailedNotice(ev.SequenceID, err), domain.KindFailed)

	if c.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if jerr := c.journal.Write(ctx, rec); jerr != nil {
		c.logger.Error("failed to journal failed commit", "sequence_id", ev.SequenceID, "error", jerr)
	}
}

func (c *Coordinator) put(rec domain.CommitRecord) {
	if err := c.store.Upsert(rec); err != nil {
		c.logger.Error("failed to update commit record", "sequence_id", rec.SequenceID(), "status", rec.Status, "error", err)
	}
}

func (c *Coordinator) broadcast(msg any, kind string) {
	c.fanout.Broadcast(msg)
	c.metrics.BroadcastsTotal.WithLabelValues(kind).Inc()
}
