// Package ledger holds the append-only stores events are committed to.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/V4T54L/honeyledger/internal/domain"
	"github.com/V4T54L/honeyledger/internal/pkg/config"
)

// New builds the ledger selected by cfg.LedgerDriver. The returned close function releases
// any connection the ledger holds.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Ledger, func(), error) {
	switch cfg.LedgerDriver {
	case config.LedgerDriverEthereum:
		l, err := DialEthereum(ctx, cfg.LedgerRPCURL, cfg.LedgerPrivateKey, cfg.LedgerContractAddress, logger)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	case config.LedgerDriverLocal:
		l, err := NewLocalChain(cfg.LedgerPrivateKey, logger)
		if err != nil {
			return nil, nil, err
		}
		return l, func() {}, nil
	default:
		return nil, nil, &domain.ConfigurationError{Field: "LEDGER_DRIVER", Err: fmt.Errorf("unknown driver %q", cfg.LedgerDriver)}
	}
}
