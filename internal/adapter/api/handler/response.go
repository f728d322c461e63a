package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/V4T54L/honeyledger/internal/adapter/broadcast"
	"github.com/V4T54L/honeyledger/internal/domain"
)

// EventIngestor is the single ingestion path shared by every transport.
type EventIngestor interface {
	Decode(data []byte) (domain.RawEvent, error)
	Ingest(ctx context.Context, raw domain.RawEvent) (*domain.Event, error)
}

// ObserverRegistry is the fan-out registry observers join.
type ObserverRegistry interface {
	Register(kind string) (*broadcast.Observer, error)
	Unregister(id string)
	Count() int
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error         string   `json:"error"`
	MissingFields []string `json:"missingFields,omitempty"`
	InvalidFields []string `json:"invalidFields,omitempty"`
}

func respondWithJSON(logger *slog.Logger, w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(logger *slog.Logger, w http.ResponseWriter, code int, msg string) {
	respondWithJSON(logger, w, code, ErrorResponse{Error: msg})
}

// ingestErrorResponse maps an ingestion error to its HTTP status and body.
func ingestErrorResponse(err error) (int, ErrorResponse) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{
			Error:         verr.Error(),
			MissingFields: verr.MissingFields,
			InvalidFields: verr.InvalidFields,
		}
	case errors.Is(err, domain.ErrBackpressure), errors.Is(err, domain.ErrPipelineClosed):
		return http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}
	}
}

// rejectionMessage is the direct reply to an observer whose submission failed.
func rejectionMessage(err error) domain.RejectedMessage {
	_, body := ingestErrorResponse(err)
	return domain.RejectedMessage{
		Kind:          domain.KindRejected,
		Error:         body.Error,
		MissingFields: body.MissingFields,
		InvalidFields: body.InvalidFields,
	}
}
