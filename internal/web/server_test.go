package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"replybot/internal/broadcast"
	"replybot/internal/rules"
	"replybot/internal/storage"
	logx "replybot/pkg/logx"
)

type errLister struct{}

func (errLister) ListAll(context.Context) ([]rules.Rule, error) { return nil, errors.New("locked") }

func newTestServer(t *testing.T, lister Lister) (*httptest.Server, *broadcast.Registry) {
	t.Helper()
	reg := broadcast.New(broadcast.Options{}, logx.Nop())
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok_metric 1\n")) })
	srv := New(Options{PingInterval: time.Second}, lister, reg, metrics, logx.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		reg.Close()
	})
	return ts, reg
}

func TestListCommands(t *testing.T) {
	mem := storage.NewMemory()
	_, err := mem.Upsert(context.Background(), rules.Rule{Channel: "mychan", MatchExpr: "!hi", Response: "hello"})
	require.NoError(t, err)
	ts, _ := newTestServer(t, mem)

	resp, err := http.Get(ts.URL + "/api/commands/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got []map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, []map[string]string{{"channel": "mychan", "match_expression": "!hi", "response_text": "hello"}}, got)
}

func TestListCommandsEmptyIsArray(t *testing.T) {
	ts, _ := newTestServer(t, storage.NewMemory())
	resp, err := http.Get(ts.URL + "/api/commands/")
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.JSONEq(t, "[]", string(raw))
}

func TestListCommandsHidesStoreError(t *testing.T) {
	ts, _ := newTestServer(t, errLister{})
	resp, err := http.Get(ts.URL + "/api/commands/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotContains(t, body["error"], "locked")
}

func TestStaticHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t, storage.NewMemory())

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketReceivesBroadcasts(t *testing.T) {
	ts, reg := newTestServer(t, storage.NewMemory())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/update/"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	reg.Broadcast([]byte(`[{"channel":"c","match_expression":"m","response_text":"r"}]`))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	require.JSONEq(t, `[{"channel":"c","match_expression":"m","response_text":"r"}]`, string(msg))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	reg := broadcast.New(broadcast.Options{}, logx.Nop())
	defer reg.Close()
	srv := New(Options{}, storage.NewMemory(), reg, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
