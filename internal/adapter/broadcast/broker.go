package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/V4T54L/honeyledger/internal/adapter/metrics"
	"github.com/V4T54L/honeyledger/internal/domain"
)

// Observer is one registered live client. Messages are delivered on C; C is closed when the
// observer is unregistered, dropped for overflow or the broker closes.
type Observer struct {
	ID   string
	Kind string
	C    <-chan []byte

	send chan []byte
}

// Broker fans messages out to every registered observer. Each observer has its own bounded
// buffer and an observer whose buffer is full is dropped rather than waited on.
type Broker struct {
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
	buffer  int

	mu        sync.RWMutex
	observers map[string]*Observer
	closed    bool
}

// NewBroker creates a broker whose observers buffer up to buffer messages each.
func NewBroker(buffer int, logger *slog.Logger, m *metrics.PipelineMetrics) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker{
		logger:    logger.With("component", "fanout"),
		metrics:   m,
		buffer:    buffer,
		observers: make(map[string]*Observer),
	}
}

// Register adds a new observer. kind labels the transport in logs.
func (b *Broker) Register(kind string) (*Observer, error) {
	send := make(chan []byte, b.buffer)
	o := &Observer{ID: uuid.NewString(), Kind: kind, C: send, send: send}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, domain.ErrPipelineClosed
	}
	b.observers[o.ID] = o
	b.metrics.ObserversConnected.Set(float64(len(b.observers)))
	b.logger.Info("observer connected", "observer_id", o.ID, "kind", kind)
	return o, nil
}

// Unregister removes the observer with id. It is a no-op for unknown ids.
func (b *Broker) Unregister(id string) {
	b.remove(id, "disconnect")
}

// Broadcast delivers msg to every observer registered at the time of the call.
// It never blocks: an observer without buffer room is dropped.
func (b *Broker) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	var slow []string
	delivered := 0

	b.mu.RLock()
	for id, o := range b.observers {
		select {
		case o.send <- data:
			delivered++
		default:
			slow = append(slow, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range slow {
		b.logger.Warn("observer buffer full, dropping observer", "observer_id", id)
		b.remove(id, "overflow")
	}
	b.logger.Debug("broadcast delivered", "observers", delivered, "dropped", len(slow))
}

// Count returns the number of registered observers.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Close disconnects every observer and refuses new registrations.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, o := range b.observers {
		delete(b.observers, id)
		close(o.send)
		b.metrics.ObserversDropped.WithLabelValues("shutdown").Inc()
	}
	b.metrics.ObserversConnected.Set(0)
	b.logger.Info("fan-out closed")
}

func (b *Broker) remove(id, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.observers[id]
	if !ok {
		return
	}
	delete(b.observers, id)
	close(o.send)
	b.metrics.ObserversDropped.WithLabelValues(reason).Inc()
	b.metrics.ObserversConnected.Set(float64(len(b.observers)))
	b.logger.Info("observer removed", "observer_id", id, "reason", reason, "error", domain.ErrObserverDisconnected)
}
