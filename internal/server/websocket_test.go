package server_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runhawk/engine/pkg/api"
)

const slowRunbookYAML = `
name: slow-runbook
steps:
  - id: pause
    name: Pause a while
    kind: wait
    wait:
      duration_ms: 300
`

func dialWebSocket(
	t *testing.T, env *testServerEnv,
) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(env.Router)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/engine/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketStreamsExecutionEvents(t *testing.T) {
	env := testServer(t)

	w := env.request(t, "POST", "/engine/runbook", []byte(slowRunbookYAML))
	require.Equal(t, 201, w.Code, w.Body.String())
	rb := decodeJSON[api.Runbook](t, w)

	conn := dialWebSocket(t, env)

	w = env.postJSON(t, "/engine/execution", api.StartExecutionRequest{
		RunbookID:   rb.ID,
		TriggeredBy: "alice",
	})
	require.Equal(t, 202, w.Code, w.Body.String())
	res := decodeJSON[api.StartExecutionResult](t, w)

	require.NoError(t, conn.WriteJSON(api.SubscribeRequest{
		Type:        "subscribe",
		ExecutionID: res.ExecutionID,
	}))

	_ = conn.SetReadDeadline(time.Now().Add(waitFor))

	var ack api.SubscribedResult
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, res.ExecutionID, ack.ExecutionID)

	// the wait step holds the execution open long enough for events
	// published after the subscription to arrive
	sawCompleted := false
	for !sawCompleted {
		var ev api.WebSocketEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		assert.Equal(t, res.ExecutionID, ev.ExecutionID)
		if ev.Type == api.EventTypeExecutionCompleted {
			sawCompleted = true
		}
	}
	assert.True(t, sawCompleted)

	waitForStatus(t, env, res.ExecutionID, api.ExecutionSucceeded)
}

func TestWebSocketIgnoresMalformedMessages(t *testing.T) {
	env := testServer(t)
	conn := dialWebSocket(t, env)

	require.NoError(t, conn.WriteMessage(
		websocket.TextMessage, []byte("not json"),
	))

	// the connection stays open; a later subscribe still works
	require.NoError(t, conn.WriteJSON(api.SubscribeRequest{
		Type:        "subscribe",
		ExecutionID: "exec-x",
	}))

	_ = conn.SetReadDeadline(time.Now().Add(waitFor))
	var ack api.SubscribedResult
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)
}
