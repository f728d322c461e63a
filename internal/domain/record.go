package domain

import "time"

// CommitStatus is the ledger commitment state of an event.
type CommitStatus string

const (
	StatusPending   CommitStatus = "Pending"
	StatusSubmitted CommitStatus = "Submitted"
	StatusConfirmed CommitStatus = "Confirmed"
	StatusFailed    CommitStatus = "Failed"
)

func (s CommitStatus) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusSubmitted:
		return 2
	case StatusConfirmed, StatusFailed:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether no further transition is possible from s.
func (s CommitStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// CanTransitionTo reports whether a record in status s may be overwritten with next.
// Status only moves forward; a non-terminal status may be rewritten in place.
func (s CommitStatus) CanTransitionTo(next CommitStatus) bool {
	if s.Terminal() || next.rank() == 0 {
		return false
	}
	return next.rank() >= s.rank()
}

// LedgerReceipt is the ledger-issued proof of inclusion for one event.
type LedgerReceipt struct {
	EventSequenceID uint64    `json:"eventSequenceId"`
	TransactionHash string    `json:"transactionHash"`
	BlockNumber     uint64    `json:"blockNumber"`
	ConfirmedAt     time.Time `json:"confirmedAt"`
}

// CommitRecord is the merged, queryable state of one event across validation,
// broadcast and ledger commitment. There is exactly one record per sequence id.
type CommitRecord struct {
	Event     *Event         `json:"event"`
	Status    CommitStatus   `json:"status"`
	Receipt   *LedgerReceipt `json:"receipt,omitempty"`
	LastError string         `json:"lastError,omitempty"`
	Attempts  int            `json:"attempts"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// SequenceID returns the id of the record's event.
func (r CommitRecord) SequenceID() uint64 {
	if r.Event == nil {
		return 0
	}
	return r.Event.SequenceID
}
