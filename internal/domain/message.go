package domain

import "time"

// Observer message kinds.
const (
	KindNewEvent  = "new_event"
	KindConfirmed = "confirmed"
	KindFailed    = "failed"
	KindAccepted  = "accepted"
	KindRejected  = "rejected"
)

// NewEventMessage is broadcast as soon as an event passes validation.
type NewEventMessage struct {
	Kind        string    `json:"kind"`
	SequenceID  uint64    `json:"sequenceId"`
	SourceIP    string    `json:"sourceIp"`
	Command     string    `json:"command"`
	ThreatLevel string    `json:"threatLevel"`
	Timestamp   time.Time `json:"timestamp"`
}

// ConfirmedMessage is broadcast once the ledger confirms an event.
type ConfirmedMessage struct {
	Kind            string `json:"kind"`
	SequenceID      uint64 `json:"sequenceId"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber"`
}

// FailedMessage is broadcast when ledger commitment of an event fails for good.
type FailedMessage struct {
	Kind       string `json:"kind"`
	SequenceID uint64 `json:"sequenceId"`
	Error      string `json:"error"`
}

// AcceptedMessage is the direct reply to an observer whose submitted event was ingested.
type AcceptedMessage struct {
	Kind       string `json:"kind"`
	SequenceID uint64 `json:"sequenceId"`
}

// RejectedMessage is the direct reply to an observer whose submitted event was refused.
type RejectedMessage struct {
	Kind          string   `json:"kind"`
	Error         string   `json:"error"`
	MissingFields []string `json:"missingFields,omitempty"`
	InvalidFields []string `json:"invalidFields,omitempty"`
}

func NewEventNotice(ev *Event) NewEventMessage {
	return NewEventMessage{
		Kind:        KindNewEvent,
		SequenceID:  ev.SequenceID,
		SourceIP:    ev.SourceIP,
		Command:     ev.Command,
		ThreatLevel: ev.ThreatLevel,
		Timestamp:   ev.ObservedAt,
	}
}

func ConfirmedNotice(r *LedgerReceipt) ConfirmedMessage {
	return ConfirmedMessage{
		Kind:            KindConfirmed,
		SequenceID:      r.EventSequenceID,
		TransactionHash: r.TransactionHash,
		BlockNumber:     r.BlockNumber,
	}
}

func FailedNotice(seq uint64, err error) FailedMessage {
	return FailedMessage{Kind: KindFailed, SequenceID: seq, Error: err.Error()}
}
