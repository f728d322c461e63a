package domain

import "time"

// RawEvent is an attacker command as reported by a source adapter, before validation.
// Timestamp is optional; the validator substitutes the ingestion time when it is absent.
type RawEvent struct {
	SourceIP    string     `json:"sourceIp"`
	Command     string     `json:"command"`
	ThreatLevel string     `json:"threatLevel"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// Event represents the canonical structure of a validated honeypot event within the system.
// It is never mutated after the coordinator assigns its sequence id, so it can be shared by
// reference between the fan-out and the ledger committer.
type Event struct {
	SequenceID  uint64    `json:"sequenceId"`
	SourceIP    string    `json:"sourceIp"`
	Command     string    `json:"command"`
	ThreatLevel string    `json:"threatLevel"`
	ObservedAt  time.Time `json:"timestamp"`
	ReceivedAt  time.Time `json:"receivedAt"`
}
