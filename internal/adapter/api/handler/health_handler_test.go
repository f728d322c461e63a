package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/honeyledger/internal/adapter/broadcast"
	"github.com/V4T54L/honeyledger/internal/domain/mocks"
)

type stubSource struct {
	available bool
	pending   int64
	err       error
}

func (s *stubSource) Available() bool { return s.available }

func (s *stubSource) Pending(ctx context.Context) (int64, error) { return s.pending, s.err }

type downLedger struct{}

func (downLedger) NetworkID(ctx context.Context) (string, error) {
	return "", errors.New("dial tcp: connection refused")
}

func TestHealthHandler(t *testing.T) {
	ledger := mocks.NewFakeLedger()
	ledger.Network = "11155111"

	tests := []struct {
		name       string
		ledger     NetworkIdentifier
		source     SourceStatus
		wantStatus string
		check      func(t *testing.T, resp HealthResponse)
	}{
		{
			name:       "healthy without source",
			ledger:     ledger,
			wantStatus: "ok",
			check: func(t *testing.T, resp HealthResponse) {
				assert.Equal(t, "11155111", resp.Network.ChainID)
				assert.False(t, resp.Source.Enabled)
			},
		},
		{
			name:       "healthy with source",
			ledger:     ledger,
			source:     &stubSource{available: true, pending: 4},
			wantStatus: "ok",
			check: func(t *testing.T, resp HealthResponse) {
				assert.True(t, resp.Source.Enabled)
				assert.Equal(t, int64(4), resp.Source.Pending)
			},
		},
		{
			name:       "source lost",
			ledger:     ledger,
			source:     &stubSource{available: false},
			wantStatus: "degraded",
		},
		{
			name:       "ledger unreachable",
			ledger:     downLedger{},
			wantStatus: "degraded",
			check: func(t *testing.T, resp HealthResponse) {
				assert.Contains(t, resp.Network.Error, "connection refused")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := broadcast.NewBroker(4, testLogger(), testMetrics())
			_, err := broker.Register("sse")
			require.NoError(t, err)

			h := NewHealthHandler(broker, tt.ledger, "ethereum", func() int { return 3 }, tt.source, testLogger())
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, rr.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, 1, resp.Observers)
			assert.Equal(t, 3, resp.QueueDepth)
			assert.Equal(t, "ethereum", resp.Network.Driver)
			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}
