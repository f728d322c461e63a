package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/V4T54L/honeyledger/internal/domain"
)

// RecordStore is the in-memory read cache of commit records, keyed by sequence id.
// Records are retained for the lifetime of the process.
type RecordStore struct {
	mu      sync.RWMutex
	records map[uint64]domain.CommitRecord
	order   []uint64 // ascending
}

// NewRecordStore creates an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[uint64]domain.CommitRecord)}
}

// Upsert stores rec, replacing any earlier version of the same record.
// A write that would move the status backwards is refused with domain.ErrStatusRegression.
func (s *RecordStore) Upsert(rec domain.CommitRecord) error {
	if rec.Event == nil {
		return fmt.Errorf("upsert commit record: missing event")
	}
	seq := rec.Event.SequenceID

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.records[seq]
	if exists && !prev.Status.CanTransitionTo(rec.Status) {
		return fmt.Errorf("record %d %s -> %s: %w", seq, prev.Status, rec.Status, domain.ErrStatusRegression)
	}
	s.records[seq] = rec
	if !exists {
		s.insertOrdered(seq)
	}
	return nil
}

func (s *RecordStore) insertOrdered(seq uint64) {
	n := len(s.order)
	if n == 0 || s.order[n-1] < seq {
		s.order = append(s.order, seq)
		return
	}
	i := sort.Search(n, func(i int) bool { return s.order[i] >= seq })
	s.order = append(s.order, 0)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = seq
}

// Get returns the record for sequenceID or domain.ErrRecordNotFound.
func (s *RecordStore) Get(sequenceID uint64) (domain.CommitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sequenceID]
	if !ok {
		return domain.CommitRecord{}, domain.ErrRecordNotFound
	}
	return rec, nil
}

// List returns all records ordered by sequence id.
func (s *RecordStore) List() []domain.CommitRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CommitRecord, 0, len(s.order))
	for _, seq := range s.order {
		out = append(out, s.records[seq])
	}
	return out
}

// Len returns the number of records held.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
