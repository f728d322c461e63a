package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/V4T54L/honeyledger/internal/adapter/ledger"
	"github.com/V4T54L/honeyledger/internal/domain"
)

// ChainVerifier is a ledger whose whole history can be checked locally.
type ChainVerifier interface {
	Entries() []ledger.ChainEntry
	Verify() error
}

// JournalStore is the durable log of failed commits.
type JournalStore interface {
	Replay(ctx context.Context, handler func(rec domain.CommitRecord) error) error
	Truncate(ctx context.Context) error
	Size() int64
}

// AdminHandler handles HTTP requests for relay administration.
// Any dependency may be nil; its endpoints then answer 404.
type AdminHandler struct {
	chain   ChainVerifier
	journal JournalStore
	source  SourceStatus
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(chain ChainVerifier, journal JournalStore, source SourceStatus, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{chain: chain, journal: journal, source: source, logger: logger.With("component", "admin_handler")}
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// VerifyLedger re-checks every signature of the local chain.
// GET /admin/ledger/verify
func (h *AdminHandler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		respondWithError(h.logger, w, http.StatusNotFound, "ledger driver does not support local verification")
		return
	}

	height := len(h.chain.Entries())
	if err := h.chain.Verify(); err != nil {
		h.logger.Error("local chain verification failed", "error", err)
		respondWithJSON(h.logger, w, http.StatusConflict, map[string]interface{}{"valid": false, "height": height, "error": err.Error()})
		return
	}
	respondWithJSON(h.logger, w, http.StatusOK, map[string]interface{}{"valid": true, "height": height})
}

// GetLedgerEntries returns the local chain entries, optionally only those after a height.
// GET /admin/ledger/entries?after=10
func (h *AdminHandler) GetLedgerEntries(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		respondWithError(h.logger, w, http.StatusNotFound, "ledger driver does not keep local entries")
		return
	}

	after := uint64(0)
	if s := r.URL.Query().Get("after"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			respondWithError(h.logger, w, http.StatusBadRequest, "invalid 'after' parameter")
			return
		}
		after = v
	}

	entries := h.chain.Entries()
	out := make([]ledger.ChainEntry, 0, len(entries))
	for _, e := range entries {
		if e.Height > after {
			out = append(out, e)
		}
	}
	h.respondWithJSON(w, http.StatusOK, out)
}

// GetSourcePending reports how many stream messages are delivered but not yet acknowledged.
// GET /admin/source/pending
func (h *AdminHandler) GetSourcePending(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		respondWithError(h.logger, w, http.StatusNotFound, "no stream source configured")
		return
	}

	pending, err := h.source.Pending(r.Context())
	if err != nil {
		h.logger.Error("failed to get pending count", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"available": h.source.Available(), "pending": pending})
}

// GetFailedCommits replays the failed-commit journal.
// GET /admin/journal?limit=100
func (h *AdminHandler) GetFailedCommits(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		respondWithError(h.logger, w, http.StatusNotFound, "no failed-commit journal configured")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			respondWithError(h.logger, w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = v
	}

	records := []RecordView{}
	err := h.journal.Replay(r.Context(), func(rec domain.CommitRecord) error {
		if rec.Event == nil {
			return nil
		}
		records = append(records, newRecordView(rec))
		if limit > 0 && len(records) > limit {
			records = records[1:]
		}
		return nil
	})
	if err != nil {
		h.logger.Error("failed to replay failed-commit journal", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"sizeBytes": h.journal.Size(), "records": records})
}

// TruncateFailedCommits discards the failed-commit journal.
// POST /admin/journal/truncate
func (h *AdminHandler) TruncateFailedCommits(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		respondWithError(h.logger, w, http.StatusNotFound, "no failed-commit journal configured")
		return
	}

	if err := h.journal.Truncate(r.Context()); err != nil {
		h.logger.Error("failed to truncate failed-commit journal", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("failed-commit journal truncated")
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	respondWithJSON(h.logger, w, code, payload)
}
