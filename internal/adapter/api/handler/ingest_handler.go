package handler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/V4T54L/honeyledger/internal/adapter/metrics"
	"github.com/V4T54L/honeyledger/internal/domain"
)

// IngestHandler accepts raw honeypot events over HTTP.
type IngestHandler struct {
	ingestor     EventIngestor
	logger       *slog.Logger
	maxEventSize int64
	metrics      *metrics.PipelineMetrics
}

// IngestResponse is returned for a single accepted event.
type IngestResponse struct {
	SequenceID uint64              `json:"sequenceId"`
	Status     domain.CommitStatus `json:"status"`
}

// LineError describes one rejected NDJSON line.
type LineError struct {
	Line int `json:"line"`
	ErrorResponse
}

// BatchResponse summarizes an NDJSON submission.
type BatchResponse struct {
	Accepted    int         `json:"accepted"`
	Rejected    int         `json:"rejected"`
	SequenceIDs []uint64    `json:"sequenceIds"`
	Errors      []LineError `json:"errors,omitempty"`
}

// NewIngestHandler creates a new IngestHandler. maxEventSize bounds the whole request body.
func NewIngestHandler(ingestor EventIngestor, logger *slog.Logger, maxEventSize int64, m *metrics.PipelineMetrics) *IngestHandler {
	return &IngestHandler{
		ingestor:     ingestor,
		logger:       logger.With("component", "ingest_handler"),
		maxEventSize: maxEventSize,
		metrics:      m,
	}
}

// ServeHTTP processes application/json (one event) and application/x-ndjson (one event per line).
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respondWithError(h.logger, w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || (mediaType != "application/json" && mediaType != "application/x-ndjson") {
		respondWithError(h.logger, w, http.StatusUnsupportedMediaType, "unsupported content type: "+r.Header.Get("Content-Type"))
		return
	}

	// Enforce max body size
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxEventSize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondWithError(h.logger, w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		h.logger.Warn("failed to read request body", "error", err)
		respondWithError(h.logger, w, http.StatusBadRequest, "failed to read request body")
		return
	}
	h.metrics.BytesTotal.Add(float64(len(body)))

	if mediaType == "application/json" {
		h.handleSingleJSON(r.Context(), w, body)
		return
	}
	h.handleNDJSON(r.Context(), w, body)
}

func (h *IngestHandler) handleSingleJSON(ctx context.Context, w http.ResponseWriter, body []byte) {
	ev, err := h.ingest(ctx, body)
	if err != nil {
		code, resp := ingestErrorResponse(err)
		if code == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		respondWithJSON(h.logger, w, code, resp)
		return
	}
	respondWithJSON(h.logger, w, http.StatusAccepted, IngestResponse{SequenceID: ev.SequenceID, Status: domain.StatusPending})
}

func (h *IngestHandler) handleNDJSON(ctx context.Context, w http.ResponseWriter, body []byte) {
	resp := BatchResponse{SequenceIDs: []uint64{}}
	firstErrCode := 0

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 4096), int(h.maxEventSize)+1)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		ev, err := h.ingest(ctx, data)
		if err != nil {
			code, errBody := ingestErrorResponse(err)
			if firstErrCode == 0 {
				firstErrCode = code
			}
			resp.Rejected++
			resp.Errors = append(resp.Errors, LineError{Line: line, ErrorResponse: errBody})
			continue
		}
		resp.Accepted++
		resp.SequenceIDs = append(resp.SequenceIDs, ev.SequenceID)
	}
	if err := scanner.Err(); err != nil {
		h.logger.Warn("failed to scan ndjson body", "error", err)
		resp.Errors = append(resp.Errors, LineError{Line: line + 1, ErrorResponse: ErrorResponse{Error: err.Error()}})
		resp.Rejected++
		if firstErrCode == 0 {
			firstErrCode = http.StatusBadRequest
		}
	}

	code := http.StatusAccepted
	switch {
	case resp.Accepted == 0 && firstErrCode != 0:
		code = firstErrCode
	case resp.Accepted == 0:
		code = http.StatusBadRequest
		resp.Errors = append(resp.Errors, LineError{ErrorResponse: ErrorResponse{Error: "no events in request body"}})
	}
	respondWithJSON(h.logger, w, code, resp)
}

func (h *IngestHandler) ingest(ctx context.Context, data []byte) (*domain.Event, error) {
	raw, err := h.ingestor.Decode(data)
	if err != nil {
		return nil, err
	}
	return h.ingestor.Ingest(ctx, raw)
}
