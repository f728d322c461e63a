package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/honeyledger/internal/domain"
)

// RecordView is the read-only, merged view of one event and its ledger commitment.
type RecordView struct {
	SequenceID      uint64              `json:"sequenceId"`
	SourceIP        string              `json:"sourceIp"`
	Command         string              `json:"command"`
	ThreatLevel     string              `json:"threatLevel"`
	Timestamp       time.Time           `json:"timestamp"`
	Status          domain.CommitStatus `json:"status"`
	Attempts        int                 `json:"attempts"`
	TransactionHash string              `json:"transactionHash,omitempty"`
	BlockNumber     uint64              `json:"blockNumber,omitempty"`
	ConfirmedAt     *time.Time          `json:"confirmedAt,omitempty"`
	Error           string              `json:"error,omitempty"`
}

func newRecordView(rec domain.CommitRecord) RecordView {
	v := RecordView{
		SequenceID:  rec.Event.SequenceID,
		SourceIP:    rec.Event.SourceIP,
		Command:     rec.Event.Command,
		ThreatLevel: rec.Event.ThreatLevel,
		Timestamp:   rec.Event.ObservedAt,
		Status:      rec.Status,
		Attempts:    rec.Attempts,
		Error:       rec.LastError,
	}
	if rec.Receipt != nil {
		confirmedAt := rec.Receipt.ConfirmedAt
		v.TransactionHash = rec.Receipt.TransactionHash
		v.BlockNumber = rec.Receipt.BlockNumber
		v.ConfirmedAt = &confirmedAt
	}
	return v
}

// QueryHandler serves the commit records held by the read cache.
type QueryHandler struct {
	store  domain.RecordStore
	logger *slog.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(store domain.RecordStore, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{store: store, logger: logger.With("component", "query_handler")}
}

// ListRecords returns every record ordered by sequence id, optionally filtered by status.
// GET /api/logs?status=Confirmed
func (h *QueryHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	var filter domain.CommitStatus
	if s := r.URL.Query().Get("status"); s != "" {
		filter = parseStatus(s)
		if filter == "" {
			respondWithError(h.logger, w, http.StatusBadRequest, "unknown status: "+s)
			return
		}
	}

	records := h.store.List()
	views := make([]RecordView, 0, len(records))
	for _, rec := range records {
		if filter != "" && rec.Status != filter {
			continue
		}
		views = append(views, newRecordView(rec))
	}
	respondWithJSON(h.logger, w, http.StatusOK, views)
}

// GetRecord returns the record for one sequence id.
// GET /api/logs/{sequenceId}
func (h *QueryHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(r.PathValue("sequenceId"), 10, 64)
	if err != nil || seq == 0 {
		respondWithError(h.logger, w, http.StatusBadRequest, "sequenceId must be a positive integer")
		return
	}

	rec, err := h.store.Get(seq)
	if errors.Is(err, domain.ErrRecordNotFound) {
		respondWithError(h.logger, w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to read commit record", "sequence_id", seq, "error", err)
		respondWithError(h.logger, w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondWithJSON(h.logger, w, http.StatusOK, newRecordView(rec))
}

func parseStatus(s string) domain.CommitStatus {
	for _, st := range []domain.CommitStatus{domain.StatusPending, domain.StatusSubmitted, domain.StatusConfirmed, domain.StatusFailed} {
		if strings.EqualFold(s, string(st)) {
			return st
		}
	}
	return ""
}
