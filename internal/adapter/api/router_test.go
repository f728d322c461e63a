package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/honeyledger/internal/adapter/api/handler"
	"github.com/V4T54L/honeyledger/internal/adapter/broadcast"
	"github.com/V4T54L/honeyledger/internal/adapter/ledger"
	"github.com/V4T54L/honeyledger/internal/adapter/metrics"
	"github.com/V4T54L/honeyledger/internal/adapter/repository/memory"
	"github.com/V4T54L/honeyledger/internal/domain/mocks"
	"github.com/V4T54L/honeyledger/internal/pkg/config"
	"github.com/V4T54L/honeyledger/internal/usecase"
)

const relayKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type relay struct {
	public *httptest.Server
	admin  *httptest.Server
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.NewPipelineMetrics(reg)
	cfg := &config.Config{
		MaxEventSize:         4096,
		ThreatLevels:         []string{"low", "medium", "high", "critical"},
		LedgerDriver:         config.LedgerDriverLocal,
		ObserverWriteTimeout: time.Second,
	}

	chain, err := ledger.NewLocalChain(relayKey, logger)
	require.NoError(t, err)
	validator, err := usecase.NewValidator(cfg.ThreatLevels)
	require.NoError(t, err)

	store := memory.NewRecordStore()
	broker := broadcast.NewBroker(32, logger, m)
	committer := usecase.NewCommitter(chain, usecase.CommitterConfig{
		QueueSize:      100,
		MaxAttempts:    3,
		RetryInitial:   time.Millisecond,
		RetryMax:       5 * time.Millisecond,
		ConfirmTimeout: time.Second,
	}, logger, m)
	coord := usecase.NewCoordinator(validator, usecase.NewSequencer(), store, broker, committer, nil, logger, m)
	committer.Start()

	public := httptest.NewServer(NewRouter(cfg, logger, RelayDeps{
		Coordinator: coord,
		Store:       store,
		Broker:      broker,
		Ledger:      chain,
		APIKeys:     &mocks.MockAPIKeyRepository{Valid: map[string]bool{"sensor-key": true}},
		Metrics:     m,
	}))
	admin := httptest.NewServer(NewAdminRouter(handler.NewAdminHandler(chain, nil, nil, logger), reg, logger))
	t.Cleanup(func() {
		public.Close()
		admin.Close()
		coord.Close()
		committer.Stop(time.Second)
		broker.Close()
	})
	return &relay{public: public, admin: admin}
}

func (r *relay) post(t *testing.T, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, r.public.URL+"/api/logs", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRelay_IngestToConfirmedRecord(t *testing.T) {
	r := newRelay(t)

	resp := r.post(t, "", `{"sourceIp":"203.0.113.9","command":"cat /etc/shadow","threatLevel":"critical"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = r.post(t, "sensor-key", `{"sourceIp":"203.0.113.9","command":"cat /etc/shadow","threatLevel":"critical"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted handler.IngestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, uint64(1), accepted.SequenceID)

	var view handler.RecordView
	require.Eventually(t, func() bool {
		resp, err := http.Get(r.public.URL + "/api/logs/1")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
			return false
		}
		return view.Status == "Confirmed"
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasPrefix(view.TransactionHash, "0x"))
	assert.Equal(t, uint64(1), view.BlockNumber)
	assert.Equal(t, "cat /etc/shadow", view.Command)

	verify, err := http.Get(r.admin.URL + "/admin/ledger/verify")
	require.NoError(t, err)
	defer verify.Body.Close()
	body, _ := io.ReadAll(verify.Body)
	assert.JSONEq(t, `{"valid":true,"height":1}`, string(body))
}

func TestRelay_HealthAndMetrics(t *testing.T) {
	r := newRelay(t)

	resp, err := http.Get(r.public.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health handler.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, ledger.LocalNetworkID, health.Network.ChainID)

	r.post(t, "sensor-key", `{"sourceIp":"203.0.113.9","threatLevel":"low"}`)

	mresp, err := http.Get(r.admin.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	text, _ := io.ReadAll(mresp.Body)
	assert.Contains(t, string(text), `honeyledger_ingest_events_total{status="rejected"} 1`)
}

func TestRelay_WebSocketSubmissionNeedsKey(t *testing.T) {
	r := newRelay(t)
	url := "ws" + strings.TrimPrefix(r.public.URL, "http") + "/ws"
	event := []byte(`{"sourceIp":"203.0.113.9","command":"uname -a","threatLevel":"medium"}`)

	readKind := func(conn *websocket.Conn) map[string]any {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	anon, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer anon.Close()
	require.NoError(t, anon.WriteMessage(websocket.TextMessage, event))
	msg := readKind(anon)
	assert.Equal(t, "rejected", msg["kind"])
	assert.Equal(t, "API key required", msg["error"])

	sensor, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Api-Key": []string{"sensor-key"}})
	require.NoError(t, err)
	defer sensor.Close()
	require.NoError(t, sensor.WriteMessage(websocket.TextMessage, event))

	// The anonymous connection still observes the sensor's event.
	msg = readKind(anon)
	assert.Equal(t, "new_event", msg["kind"])
	assert.EqualValues(t, 1, msg["sequenceId"])
}
