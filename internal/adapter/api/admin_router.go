package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/honeyledger/internal/adapter/api/handler"
	"github.com/V4T54L/honeyledger/internal/adapter/api/middleware"
)

// NewAdminRouter creates and configures the HTTP router for admin operations.
// Note: This router uses method patterns (e.g., "GET /health") available in Go 1.22+.
func NewAdminRouter(adminHandler *handler.AdminHandler, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", adminHandler.HealthCheck)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Ledger
	mux.HandleFunc("GET /admin/ledger/verify", adminHandler.VerifyLedger)
	mux.HandleFunc("GET /admin/ledger/entries", adminHandler.GetLedgerEntries)

	// Source
	mux.HandleFunc("GET /admin/source/pending", adminHandler.GetSourcePending)

	// Failed commits
	mux.HandleFunc("GET /admin/journal", adminHandler.GetFailedCommits)
	mux.HandleFunc("POST /admin/journal/truncate", adminHandler.TruncateFailedCommits)

	return middleware.Logging(logger)(mux)
}
