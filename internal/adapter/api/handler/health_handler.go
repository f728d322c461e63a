package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// NetworkIdentifier reports the ledger network the relay commits to.
type NetworkIdentifier interface {
	NetworkID(ctx context.Context) (string, error)
}

// SourceStatus reports the state of the optional stream source.
type SourceStatus interface {
	Available() bool
	Pending(ctx context.Context) (int64, error)
}

// NetworkInfo identifies the configured ledger.
type NetworkInfo struct {
	Driver  string `json:"driver"`
	ChainID string `json:"chainId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SourceInfo describes the stream source.
type SourceInfo struct {
	Enabled   bool  `json:"enabled"`
	Available bool  `json:"available"`
	Pending   int64 `json:"pending"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string      `json:"status"`
	Observers  int         `json:"observers"`
	QueueDepth int         `json:"queueDepth"`
	Network    NetworkInfo `json:"network"`
	Source     SourceInfo  `json:"source"`
}

// HealthHandler reports liveness and the relay's current load.
type HealthHandler struct {
	observers ObserverRegistry
	ledger    NetworkIdentifier
	driver    string
	depth     func() int
	source    SourceStatus
	logger    *slog.Logger
}

// NewHealthHandler creates a new HealthHandler. source may be nil when no stream source is configured.
func NewHealthHandler(observers ObserverRegistry, ledger NetworkIdentifier, driver string, depth func() int, source SourceStatus, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		observers: observers,
		ledger:    ledger,
		driver:    driver,
		depth:     depth,
		source:    source,
		logger:    logger.With("component", "health_handler"),
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     "ok",
		Observers:  h.observers.Count(),
		QueueDepth: h.depth(),
		Network:    NetworkInfo{Driver: h.driver},
	}

	chainID, err := h.ledger.NetworkID(ctx)
	if err != nil {
		h.logger.Warn("ledger network unavailable", "error", err)
		resp.Status = "degraded"
		resp.Network.Error = err.Error()
	} else {
		resp.Network.ChainID = chainID
	}

	if h.source != nil {
		resp.Source.Enabled = true
		resp.Source.Available = h.source.Available()
		if !resp.Source.Available {
			resp.Status = "degraded"
		} else if pending, err := h.source.Pending(ctx); err == nil {
			resp.Source.Pending = pending
		}
	}

	respondWithJSON(h.logger, w, http.StatusOK, resp)
}
