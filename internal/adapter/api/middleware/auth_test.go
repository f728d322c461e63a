package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/V4T54L/honeyledger/internal/domain"
	"github.com/V4T54L/honeyledger/internal/domain/mocks"
)

func TestAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	tests := []struct {
		name           string
		repo           domain.APIKeyRepository
		headers        map[string]string
		expectedStatus int
	}{
		{
			name:           "Valid header key",
			repo:           &mocks.MockAPIKeyRepository{Valid: map[string]bool{"sensor-1": true}},
			headers:        map[string]string{APIKeyHeader: "sensor-1"},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "Valid bearer token",
			repo:           &mocks.MockAPIKeyRepository{Valid: map[string]bool{"sensor-1": true}},
			headers:        map[string]string{"Authorization": "Bearer sensor-1"},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "Missing key",
			repo:           &mocks.MockAPIKeyRepository{},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Basic auth is not a key",
			repo:           &mocks.MockAPIKeyRepository{Valid: map[string]bool{"sensor-1": true}},
			headers:        map[string]string{"Authorization": "Basic sensor-1"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Unknown key",
			repo:           &mocks.MockAPIKeyRepository{Valid: map[string]bool{"sensor-1": true}},
			headers:        map[string]string{APIKeyHeader: "sensor-2"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Repository error",
			repo:           &mocks.MockAPIKeyRepository{Err: errors.New("db down")},
			headers:        map[string]string{APIKeyHeader: "sensor-1"},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "Auth disabled",
			repo:           nil,
			expectedStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Auth(tt.repo, logger)(next)

			req := httptest.NewRequest(http.MethodPost, "/api/logs", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}
