package ledger

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/V4T54L/honeyledger/internal/domain"
)

// LocalNetworkID identifies the in-process chain.
const LocalNetworkID = "local"

// ChainEntry is one record of the local chain. Signature is the signer's signature over the
// digest of the other fields and the previous entry's signature.
type ChainEntry struct {
	Height      uint64 `json:"height"`
	SequenceID  uint64 `json:"sequenceId"`
	SourceIP    string `json:"sourceIp"`
	Command     string `json:"command"`
	ThreatLevel string `json:"threatLevel"`
	Timestamp   string `json:"timestamp"`
	Recorded    int64  `json:"recorded"`
	Signature   []byte `json:"signature"`
}

func (e *ChainEntry) digest(prev []byte) []byte {
	h := sha256.New()
	binary.Write(h, binary.BigEndian, e.Height)
	binary.Write(h, binary.BigEndian, e.SequenceID)
	binary.Write(h, binary.BigEndian, e.Recorded)
	for _, s := range []string{e.SourceIP, e.Command, e.ThreatLevel, e.Timestamp} {
		binary.Write(h, binary.BigEndian, uint32(len(s)))
		h.Write([]byte(s))
	}
	h.Write(prev)
	return h.Sum(nil)
}

// LocalChain is an in-process append-only ledger. Every entry is signed over its content and
// its predecessor's signature, so any edit or reordering breaks Verify.
type LocalChain struct {
	mu      sync.Mutex
	signer  *ecdsa.PrivateKey
	entries []ChainEntry
	byHash  map[string]int
	logger  *slog.Logger
	now     func() time.Time
}

// NewLocalChain creates an empty chain signing with privateKeyHex.
func NewLocalChain(privateKeyHex string, logger *slog.Logger) (*LocalChain, error) {
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "LEDGER_PRIVATE_KEY", Err: err}
	}
	c := &LocalChain{
		signer: key,
		byHash: make(map[string]int),
		logger: logger.With("component", "local-ledger"),
		now:    time.Now,
	}
	c.logger.Info("local ledger ready", "signer", crypto.PubkeyToAddress(key.PublicKey).Hex())
	return c, nil
}

// Submit signs and appends the event. Entries are included immediately.
func (c *LocalChain) Submit(ctx context.Context, ev *domain.Event) (domain.TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.TxHandle{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := ChainEntry{
		Height:      uint64(len(c.entries)) + 1,
		SequenceID:  ev.SequenceID,
		SourceIP:    ev.SourceIP,
		Command:     ev.Command,
		ThreatLevel: ev.ThreatLevel,
		Timestamp:   ev.ObservedAt.UTC().Format(time.RFC3339),
		Recorded:    c.now().UnixNano(),
	}
	prev := c.lastSignature()
	digest := entry.digest(prev)
	sig, err := crypto.Sign(digest, c.signer)
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("sign chain entry: %w", err)
	}
	entry.Signature = sig

	hash := "0x" + hex.EncodeToString(digest)
	c.entries = append(c.entries, entry)
	c.byHash[hash] = len(c.entries) - 1
	return domain.TxHandle{Hash: hash, Nonce: entry.Height - 1}, nil
}

// AwaitConfirmation returns the height of an appended entry.
func (c *LocalChain) AwaitConfirmation(ctx context.Context, tx domain.TxHandle) (domain.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Confirmation{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.byHash[tx.Hash]
	if !ok {
		return domain.Confirmation{}, fmt.Errorf("unknown transaction %s", tx.Hash)
	}
	return domain.Confirmation{TransactionHash: tx.Hash, BlockNumber: c.entries[i].Height}, nil
}

func (c *LocalChain) NetworkID(ctx context.Context) (string, error) {
	return LocalNetworkID, nil
}

// Entries returns a copy of the chain.
func (c *LocalChain) Entries() []ChainEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChainEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Verify checks every signature in order.
func (c *LocalChain) Verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return VerifyChain(c.entries, &c.signer.PublicKey)
}

// VerifyChain checks that entries form an unbroken chain signed by pub.
func VerifyChain(entries []ChainEntry, pub *ecdsa.PublicKey) error {
	pubBytes := crypto.FromECDSAPub(pub)
	var prev []byte
	for i := range entries {
		e := &entries[i]
		if e.Height != uint64(i)+1 {
			return fmt.Errorf("entry %d: unexpected height %d", i, e.Height)
		}
		if len(e.Signature) != crypto.SignatureLength {
			return fmt.Errorf("entry %d: malformed signature", e.Height)
		}
		digest := e.digest(prev)
		if !crypto.VerifySignature(pubBytes, digest, e.Signature[:crypto.RecoveryIDOffset]) {
			return fmt.Errorf("entry %d: signature mismatch", e.Height)
		}
		prev = e.Signature
	}
	return nil
}

func (c *LocalChain) lastSignature() []byte {
	if len(c.entries) == 0 {
		return nil
	}
	return c.entries[len(c.entries)-1].Signature
}
