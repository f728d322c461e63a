package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/V4T54L/honeyledger/internal/domain"
)

// FakeLedger is a scripted domain.Ledger. Each Submit call consumes the next entry of
// SubmitErrs (nil means success); once the script is exhausted FailAlways decides.
// It tracks how many submissions are in flight, counting from Submit until the matching
// AwaitConfirmation returns.
type FakeLedger struct {
	mu sync.Mutex

	SubmitErrs  []error
	FailAlways  error
	BlockSubmit bool
	// BlockConfirm makes AwaitConfirmation wait for ctx, then fail with ConfirmErr if set
	// or ctx.Err() otherwise.
	BlockConfirm bool
	ConfirmErr   error
	Hashes       map[uint64]string
	Blocks       map[uint64]uint64
	Network      string

	// Attempts lists the sequence id of every Submit call, in call order.
	Attempts []uint64
	// Confirmed lists the sequence ids whose confirmation succeeded, in order.
	Confirmed   []uint64
	inFlight    int
	MaxInFlight int
	submitted   chan uint64
}

// NewFakeLedger returns a ledger that confirms everything.
func NewFakeLedger() *FakeLedger {
	return &FakeLedger{
		Hashes:    make(map[uint64]string),
		Blocks:    make(map[uint64]uint64),
		Network:   "31337",
		submitted: make(chan uint64, 1024),
	}
}

// SubmitCalls returns a channel receiving the sequence id of every Submit call.
func (f *FakeLedger) SubmitCalls() <-chan uint64 { return f.submitted }

func (f *FakeLedger) Submit(ctx context.Context, ev *domain.Event) (domain.TxHandle, error) {
	f.mu.Lock()
	f.Attempts = append(f.Attempts, ev.SequenceID)
	f.inFlight++
	if f.inFlight > f.MaxInFlight {
		f.MaxInFlight = f.inFlight
	}
	var err error
	if len(f.SubmitErrs) > 0 {
		err = f.SubmitErrs[0]
		f.SubmitErrs = f.SubmitErrs[1:]
	} else {
		err = f.FailAlways
	}
	block := f.BlockSubmit
	f.mu.Unlock()

	select {
	case f.submitted <- ev.SequenceID:
	default:
	}

	if block {
		<-ctx.Done()
		f.done()
		return domain.TxHandle{}, ctx.Err()
	}
	if err != nil {
		f.done()
		return domain.TxHandle{}, err
	}
	return domain.TxHandle{Hash: f.hash(ev.SequenceID), Nonce: ev.SequenceID}, nil
}

func (f *FakeLedger) AwaitConfirmation(ctx context.Context, tx domain.TxHandle) (domain.Confirmation, error) {
	defer f.done()

	f.mu.Lock()
	block, confirmErr := f.BlockConfirm, f.ConfirmErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		if confirmErr != nil {
			return domain.Confirmation{}, confirmErr
		}
		return domain.Confirmation{}, ctx.Err()
	}
	if confirmErr != nil {
		return domain.Confirmation{}, confirmErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	seq := tx.Nonce
	f.Confirmed = append(f.Confirmed, seq)
	height, ok := f.Blocks[seq]
	if !ok {
		height = seq
	}
	return domain.Confirmation{TransactionHash: tx.Hash, BlockNumber: height}, nil
}

func (f *FakeLedger) NetworkID(ctx context.Context) (string, error) {
	return f.Network, nil
}

// Snapshot returns copies of the recorded attempts and confirmations and the peak in-flight count.
func (f *FakeLedger) Snapshot() (attempts, confirmed []uint64, maxInFlight int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempts = append([]uint64(nil), f.Attempts...)
	confirmed = append([]uint64(nil), f.Confirmed...)
	return attempts, confirmed, f.MaxInFlight
}

func (f *FakeLedger) done() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *FakeLedger) hash(seq uint64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.Hashes[seq]; ok {
		return h
	}
	return fmt.Sprintf("0x%064x", seq)
}
