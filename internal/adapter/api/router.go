package api

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/honeyledger/internal/adapter/api/handler"
	"github.com/V4T54L/honeyledger/internal/adapter/api/middleware"
	"github.com/V4T54L/honeyledger/internal/adapter/broadcast"
	"github.com/V4T54L/honeyledger/internal/adapter/metrics"
	"github.com/V4T54L/honeyledger/internal/domain"
	"github.com/V4T54L/honeyledger/internal/pkg/config"
	"github.com/V4T54L/honeyledger/internal/usecase"
)

// RelayDeps is everything the public router serves from.
// APIKeys and Source may be nil.
type RelayDeps struct {
	Coordinator *usecase.Coordinator
	Store       domain.RecordStore
	Broker      *broadcast.Broker
	Ledger      domain.Ledger
	APIKeys     domain.APIKeyRepository
	Source      handler.SourceStatus
	Metrics     *metrics.PipelineMetrics
}

// NewRouter creates and configures the main HTTP router for the relay.
func NewRouter(cfg *config.Config, logger *slog.Logger, deps RelayDeps) http.Handler {
	mux := http.NewServeMux()

	ingestHandler := handler.NewIngestHandler(deps.Coordinator, logger, cfg.MaxEventSize, deps.Metrics)
	queryHandler := handler.NewQueryHandler(deps.Store, logger)
	healthHandler := handler.NewHealthHandler(deps.Broker, deps.Ledger, cfg.LedgerDriver, deps.Coordinator.QueueDepth, deps.Source, logger)
	wsHandler := handler.NewWSHandler(deps.Coordinator, deps.Broker, deps.APIKeys, cfg.ObserverWriteTimeout, cfg.MaxEventSize, deps.Metrics, logger)
	sseHandler := handler.NewSSEHandler(deps.Broker, logger)

	// Middleware
	authMiddleware := middleware.Auth(deps.APIKeys, logger)

	// Routes
	mux.Handle("POST /api/logs", authMiddleware(ingestHandler))
	mux.HandleFunc("GET /api/logs", queryHandler.ListRecords)
	mux.HandleFunc("GET /api/logs/{sequenceId}", queryHandler.GetRecord)
	mux.Handle("GET /health", healthHandler)
	mux.Handle("GET /ws", wsHandler)
	mux.Handle("GET /events", sseHandler)

	return middleware.Logging(logger)(mux)
}
