package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/V4T54L/honeyledger/internal/adapter/metrics"
	"github.com/V4T54L/honeyledger/internal/domain"
)

// CommitterConfig tunes the ledger committer.
type CommitterConfig struct {
	QueueSize      int
	MaxAttempts    int
	RetryInitial   time.Duration
	RetryMax       time.Duration
	ConfirmTimeout time.Duration
	// SubmitRate caps submissions per second. Zero disables pacing.
	SubmitRate float64
}

// commitListener receives the state transitions of every committed event, in order,
// from the committer's worker goroutine.
type commitListener interface {
	onSubmitted(ev *domain.Event)
	onConfirmed(ev *domain.Event, receipt domain.LedgerReceipt, attempts int)
	onFailed(ev *domain.Event, err error, attempts int)
}

// Committer submits events to the ledger one at a time, in queue order.
// All events share one signing identity, so a single worker owns the ledger.
type Committer struct {
	ledger   domain.Ledger
	queue    *commitQueue
	cfg      CommitterConfig
	limiter  *rate.Limiter
	listener commitListener
	logger   *slog.Logger
	metrics  *metrics.PipelineMetrics
	now      func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewCommitter creates a committer. It does nothing until Start is called.
func NewCommitter(ledger domain.Ledger, cfg CommitterConfig, logger *slog.Logger, m *metrics.PipelineMetrics) *Committer {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	var limiter *rate.Limiter
	if cfg.SubmitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Committer{
		ledger:  ledger,
		queue:   newCommitQueue(cfg.QueueSize),
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With("component", "ledger-committer"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (c *Committer) Start() {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.run()
	})
}

// Enqueue hands an event to the worker. It fails with domain.ErrBackpressure when the
// queue is full and domain.ErrPipelineClosed after Stop.
func (c *Committer) Enqueue(ev *domain.Event) error {
	if err := c.queue.push(ev); err != nil {
		return err
	}
	c.metrics.CommitQueueDepth.Set(float64(c.queue.len()))
	return nil
}

// Depth returns the number of events waiting for submission.
func (c *Committer) Depth() int {
	return c.queue.len()
}

func (c *Committer) reserve() error {
	return c.queue.reserve()
}

// Stop closes the queue and lets the worker drain it for up to drain. Whatever is still
// pending afterwards, including an in-flight submission, fails with domain.ErrShutdownAborted.
func (c *Committer) Stop(drain time.Duration) {
	c.stopOnce.Do(func() {
		c.queue.close()

		if c.started.Load() {
			timer := time.NewTimer(drain)
			select {
			case <-c.done:
			case <-timer.C:
				c.logger.Warn("drain window elapsed, aborting pending submissions", "pending", c.queue.len())
				c.cancel()
				<-c.done
			}
			timer.Stop()
		}
		c.cancel()

		for _, ev := range c.queue.drain() {
			c.abort(ev, 0)
		}
		c.metrics.CommitQueueDepth.Set(0)
		c.logger.Info("ledger committer stopped")
	})
}

func (c *Committer) run() {
	defer close(c.done)
	for {
		ev, ok := c.queue.pop(c.ctx)
		if !ok {
			return
		}
		c.metrics.CommitQueueDepth.Set(float64(c.queue.len()))
		if c.ctx.Err() != nil {
			c.abort(ev, 0)
			continue
		}
		c.commit(c.ctx, ev)
	}
}

func (c *Committer) commit(ctx context.Context, ev *domain.Event) {
	ctx, span := otel.Tracer("ledger-committer").Start(ctx, "Commit",
		trace.WithAttributes(attribute.Int64("sequence_id", int64(ev.SequenceID))))
	defer span.End()

	logger := c.logger.With("sequence_id", ev.SequenceID)
	c.listener.onSubmitted(ev)

	attempts := 0
	tx, err := backoff.Retry(ctx, func() (domain.TxHandle, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return domain.TxHandle{}, backoff.Permanent(err)
			}
		}
		attempts++
		c.metrics.LedgerAttempts.Inc()
		tx, err := c.ledger.Submit(ctx, ev)
		if err != nil {
			if ctx.Err() != nil {
				return domain.TxHandle{}, backoff.Permanent(ctx.Err())
			}
			return domain.TxHandle{}, &domain.SubmissionError{Attempt: attempts, Err: err}
		}
		return tx, nil
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("ledger submission failed, retrying", "attempt", attempts, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			c.abort(ev, attempts)
			span.SetStatus(codes.Error, "aborted")
			return
		}
		logger.Error("ledger submission failed, giving up", "attempt", attempts, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		c.metrics.LedgerOutcomes.WithLabelValues("failed").Inc()
		c.listener.onFailed(ev, err, attempts)
		return
	}

	logger.Info("ledger transaction accepted", "tx_hash", tx.Hash, "attempt", attempts)
	span.SetAttributes(attribute.String("tx_hash", tx.Hash))

	confirmCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()
	started := time.Now()
	conf, err := c.ledger.AwaitConfirmation(confirmCtx, tx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			c.abort(ev, attempts)
			span.SetStatus(codes.Error, "aborted")
			return
		case errors.Is(confirmCtx.Err(), context.DeadlineExceeded):
			// The deadline decides, whatever error the ledger wrapped it in.
			err = &domain.ConfirmationTimeoutError{TxHash: tx.Hash, Timeout: c.cfg.ConfirmTimeout}
			c.metrics.LedgerOutcomes.WithLabelValues("timeout").Inc()
		default:
			err = fmt.Errorf("confirm %s: %w", tx.Hash, err)
			c.metrics.LedgerOutcomes.WithLabelValues("failed").Inc()
		}
		logger.Error("ledger confirmation failed", "tx_hash", tx.Hash, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirmation failed")
		c.listener.onFailed(ev, err, attempts)
		return
	}
	c.metrics.ConfirmationSeconds.Observe(time.Since(started).Seconds())
	c.metrics.LedgerOutcomes.WithLabelValues("confirmed").Inc()

	hash := conf.TransactionHash
	if hash == "" {
		hash = tx.Hash
	}
	receipt := domain.LedgerReceipt{
		EventSequenceID: ev.SequenceID,
		TransactionHash: hash,
		BlockNumber:     conf.BlockNumber,
		ConfirmedAt:     c.now(),
	}
	logger.Info("ledger transaction confirmed", "tx_hash", hash, "block", conf.BlockNumber)
	c.listener.onConfirmed(ev, receipt, attempts)
}

func (c *Committer) abort(ev *domain.Event, attempts int) {
	c.metrics.LedgerOutcomes.WithLabelValues("aborted").Inc()
	c.logger.Warn("ledger submission aborted by shutdown", "sequence_id", ev.SequenceID)
	c.listener.onFailed(ev, domain.ErrShutdownAborted, attempts)
}

func (c *Committer) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.RetryInitial > 0 {
		b.InitialInterval = c.cfg.RetryInitial
	}
	if c.cfg.RetryMax > 0 {
		b.MaxInterval = c.cfg.RetryMax
	}
	return b
}
