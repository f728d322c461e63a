package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/V4T54L/honeyledger/internal/domain"
)

// logStorageABI is the part of the LogStorage contract the relay calls.
const logStorageABI = `[{
  "type": "function",
  "name": "storeLog",
  "stateMutability": "nonpayable",
  "inputs": [
    {"name": "ip", "type": "string", "internalType": "string"},
    {"name": "command", "type": "string", "internalType": "string"},
    {"name": "threatLevel", "type": "string", "internalType": "string"},
    {"name": "timestamp", "type": "string", "internalType": "string"}
  ],
  "outputs": []
}]`

const (
	storeLogMethod      = "storeLog"
	defaultPollInterval = 2 * time.Second
)

// ErrTransactionReverted is returned when a mined transaction has a failed receipt.
var ErrTransactionReverted = errors.New("transaction reverted")

type receiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthereumLedger commits events by calling storeLog on the LogStorage contract.
type EthereumLedger struct {
	client       *ethclient.Client
	receipts     receiptReader
	contract     *bind.BoundContract
	auth         *bind.TransactOpts
	chainID      *big.Int
	pollInterval time.Duration
	logger       *slog.Logger
}

// DialEthereum connects to rpcURL and prepares a transactor for privateKeyHex.
// It fails if the key or address is malformed or the node cannot report its chain id.
func DialEthereum(ctx context.Context, rpcURL, privateKeyHex, contractAddress string, logger *slog.Logger) (*EthereumLedger, error) {
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "LEDGER_PRIVATE_KEY", Err: err}
	}
	if !common.IsHexAddress(contractAddress) {
		return nil, &domain.ConfigurationError{Field: "LEDGER_CONTRACT_ADDRESS", Err: fmt.Errorf("%q is not a hex address", contractAddress)}
	}
	parsed, err := abi.JSON(strings.NewReader(logStorageABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create transactor: %w", err)
	}

	address := common.HexToAddress(contractAddress)
	l := &EthereumLedger{
		client:       client,
		receipts:     client,
		contract:     bind.NewBoundContract(address, parsed, client, client, client),
		auth:         auth,
		chainID:      chainID,
		pollInterval: defaultPollInterval,
		logger:       logger.With("component", "ethereum-ledger"),
	}
	l.logger.Info("connected to ledger", "chain_id", chainID.String(), "contract", address.Hex(), "signer", auth.From.Hex())
	return l, nil
}

// Submit sends a storeLog transaction. The nonce is taken from the node's pending state.
func (l *EthereumLedger) Submit(ctx context.Context, ev *domain.Event) (domain.TxHandle, error) {
	opts := *l.auth
	opts.Context = ctx
	tx, err := l.contract.Transact(&opts, storeLogMethod, storeLogArgs(ev)...)
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("storeLog transact: %w", err)
	}
	l.logger.Debug("transaction sent", "sequence_id", ev.SequenceID, "tx_hash", tx.Hash().Hex(), "nonce", tx.Nonce())
	return domain.TxHandle{Hash: tx.Hash().Hex(), Nonce: tx.Nonce()}, nil
}

// AwaitConfirmation polls for the transaction receipt until it is mined or ctx is done.
func (l *EthereumLedger) AwaitConfirmation(ctx context.Context, tx domain.TxHandle) (domain.Confirmation, error) {
	hash := common.HexToHash(tx.Hash)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.receipts.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return domain.Confirmation{}, fmt.Errorf("%s in block %d: %w", tx.Hash, receipt.BlockNumber, ErrTransactionReverted)
			}
			return domain.Confirmation{
				TransactionHash: receipt.TxHash.Hex(),
				BlockNumber:     receipt.BlockNumber.Uint64(),
			}, nil
		case errors.Is(err, ethereum.NotFound):
		case ctx.Err() != nil:
			return domain.Confirmation{}, ctx.Err()
		default:
			l.logger.Debug("receipt lookup failed, polling again", "tx_hash", tx.Hash, "error", err)
		}

		select {
		case <-ctx.Done():
			return domain.Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// NetworkID returns the EVM chain id.
func (l *EthereumLedger) NetworkID(ctx context.Context) (string, error) {
	return l.chainID.String(), nil
}

// Close releases the RPC connection.
func (l *EthereumLedger) Close() {
	if l.client != nil {
		l.client.Close()
	}
}

func storeLogArgs(ev *domain.Event) []any {
	return []any{ev.SourceIP, ev.Command, ev.ThreatLevel, ev.ObservedAt.UTC().Format(time.RFC3339)}
}

func parsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
