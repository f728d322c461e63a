package usecase

import "sync/atomic"

// Sequencer issues arrival sequence ids. Ids start at 1 and are never reused or rolled back.
type Sequencer struct {
	last atomic.Uint64
}

func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next consumes and returns the next sequence id.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Last returns the most recently issued id, or 0 if none was issued.
func (s *Sequencer) Last() uint64 {
	return s.last.Load()
}
