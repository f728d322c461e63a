package domain

import "context"

// TxHandle identifies a transaction the ledger accepted for inclusion.
type TxHandle struct {
	Hash  string
	Nonce uint64
}

// Confirmation is the ledger's proof that a transaction was included.
type Confirmation struct {
	TransactionHash string
	BlockNumber     uint64
}

// Ledger is the append-only store events are committed to.
// Implementations must not be called concurrently for the same signing identity;
// the committer guarantees a single submission in flight.
type Ledger interface {
	// Submit hands the event to the ledger and returns once the transaction is accepted
	// for inclusion.
	Submit(ctx context.Context, event *Event) (TxHandle, error)

	// AwaitConfirmation blocks until the transaction is included or ctx is done.
	AwaitConfirmation(ctx context.Context, tx TxHandle) (Confirmation, error)

	// NetworkID identifies the ledger network, e.g. an EVM chain id.
	NetworkID(ctx context.Context) (string, error)
}

// RecordStore holds the merged commit view of every event for query access.
type RecordStore interface {
	// Upsert inserts or replaces the record for rec.Event.SequenceID.
	// It fails with ErrStatusRegression if the stored status cannot move to rec.Status.
	Upsert(rec CommitRecord) error

	Get(sequenceID uint64) (CommitRecord, error)

	// List returns a snapshot of all records ordered by sequence id.
	List() []CommitRecord
}

// FailureJournal durably records commit records that ended in Failed.
type FailureJournal interface {
	Write(ctx context.Context, rec CommitRecord) error
}

// APIKeyRepository defines the interface for validating API keys.
type APIKeyRepository interface {
	// IsValid checks if the provided API key is valid and active.
	// Implementations should handle caching to reduce database load.
	IsValid(ctx context.Context, key string) (bool, error)
}

// SourceMessage is one raw event read from a source transport.
type SourceMessage struct {
	ID      string
	Payload []byte
}

// DeadLetter is a source message that was rejected, with the reason.
type DeadLetter struct {
	SourceMessage
	Reason string
}

// EventSource is a pull-based source adapter transport with explicit acknowledgement.
type EventSource interface {
	// ReadBatch reads up to count new messages. It returns an empty slice when none are available.
	ReadBatch(ctx context.Context, count int) ([]SourceMessage, error)

	// Acknowledge marks messages as handled so they are not redelivered.
	Acknowledge(ctx context.Context, ids ...string) error

	// MoveToDLQ records rejected messages in the dead-letter stream.
	MoveToDLQ(ctx context.Context, letters []DeadLetter) error
}

// Broadcaster delivers a message to every registered observer. Broadcast never blocks on
// a slow observer.
type Broadcaster interface {
	Broadcast(msg any)
}
