package mocks

import (
	"context"
	"sync"

	"github.com/V4T54L/honeyledger/internal/domain"
)

// MockEventSource is a mock implementation of domain.EventSource for testing.
// Like a consumer group, it delivers unacknowledged messages again before new ones.
type MockEventSource struct {
	mu              sync.Mutex
	ReadBatchResult []domain.SourceMessage
	AckedIDs        []string
	DeadLetters     []domain.DeadLetter
	ReadErr         error
	AckErr          error
	DLQErr          error
	pending         []domain.SourceMessage
}

func (m *MockEventSource) ReadBatch(ctx context.Context, count int) ([]domain.SourceMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	if len(m.pending) > 0 {
		batch := m.pending
		if len(batch) > count {
			batch = batch[:count]
		}
		return append([]domain.SourceMessage(nil), batch...), nil
	}
	batch := m.ReadBatchResult
	if len(batch) > count {
		batch = batch[:count]
	}
	m.ReadBatchResult = m.ReadBatchResult[len(batch):]
	m.pending = append(m.pending, batch...)
	return batch, nil
}

func (m *MockEventSource) Acknowledge(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedIDs = append(m.AckedIDs, ids...)
	acked := make(map[string]bool, len(ids))
	for _, id := range ids {
		acked[id] = true
	}
	kept := m.pending[:0]
	for _, msg := range m.pending {
		if !acked[msg.ID] {
			kept = append(kept, msg)
		}
	}
	m.pending = kept
	return nil
}

// PendingIDs returns the ids delivered but not yet acknowledged.
func (m *MockEventSource) PendingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pending))
	for _, msg := range m.pending {
		ids = append(ids, msg.ID)
	}
	return ids
}

func (m *MockEventSource) MoveToDLQ(ctx context.Context, letters []domain.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DLQErr != nil {
		return m.DLQErr
	}
	m.DeadLetters = append(m.DeadLetters, letters...)
	return nil
}

// MockFailureJournal is a mock implementation of domain.FailureJournal for testing.
type MockFailureJournal struct {
	mu       sync.Mutex
	Records  []domain.CommitRecord
	WriteErr error
}

func (m *MockFailureJournal) Write(ctx context.Context, rec domain.CommitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Records = append(m.Records, rec)
	return nil
}

func (m *MockFailureJournal) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Records)
}

// MockAPIKeyRepository accepts the keys listed in Valid.
type MockAPIKeyRepository struct {
	Valid map[string]bool
	Err   error
}

func (m *MockAPIKeyRepository) IsValid(ctx context.Context, key string) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	return m.Valid[key], nil
}
