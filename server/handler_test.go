package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-delta/delta"
	"github.com/alimasry/go-delta/store"
)

const scenario = `{"ops":[{"insert":"Hello","attributes":{"bold":true}},{"insert":"\n\nLet's write some "},{"insert":"code","attributes":{"italic":true}},{"insert":"!\n"}]}`

func setupTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	st := store.NewMemoryStore()
	hub := NewHub(st, prometheus.NewRegistry())
	go hub.Run()
	server := httptest.NewServer(NewHandler(hub))
	t.Cleanup(server.Close)
	return server, hub
}

func wsConnect(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWsMsg(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestHandler_WebSocketConnect(t *testing.T) {
	server, _ := setupTestServer(t)
	conn := wsConnect(t, server)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": MsgJoin, "docId": "test-doc"}))

	resp := readWsMsg(t, conn)
	assert.Equal(t, MsgDoc, resp.Type)
	assert.Equal(t, "test-doc", resp.DocID)
}

func TestHandler_TwoClientsCollaborate(t *testing.T) {
	server, _ := setupTestServer(t)
	conn1 := wsConnect(t, server)
	conn2 := wsConnect(t, server)

	conn1.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","docId":"collab"}`))
	require.Equal(t, MsgDoc, readWsMsg(t, conn1).Type)

	conn2.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","docId":"collab"}`))
	require.Equal(t, MsgDoc, readWsMsg(t, conn2).Type)

	// c1 gets join notification for c2
	require.Equal(t, MsgJoin, readWsMsg(t, conn1).Type)

	conn1.WriteMessage(websocket.TextMessage, []byte(`{"type":"change","docId":"collab","revision":0,"delta":`+scenario+`}`))

	ack := readWsMsg(t, conn1)
	require.Equal(t, MsgAck, ack.Type)
	assert.Equal(t, 1, ack.Revision)

	broadcast := readWsMsg(t, conn2)
	require.Equal(t, MsgChange, broadcast.Type)
	assert.Equal(t, 4, broadcast.Delta.Len())
	assert.Equal(t, "Hello\n\nLet's write some code!\n", broadcast.Delta.PlainText())

	// The change is visible over HTTP.
	resp, body := do(t, http.MethodGet, server.URL+"/docs/collab/text", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello\n\nLet's write some code!\n", body)

	resp, body = do(t, http.MethodGet, server.URL+"/docs/collab", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, scenario, body)
}

func TestHandler_InvalidChangeRejected(t *testing.T) {
	server, hub := setupTestServer(t)
	conn := wsConnect(t, server)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","docId":"d"}`))
	readWsMsg(t, conn)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"change","revision":0,"delta":{"ops":[{"foo":"bar"}]}}`))
	msg := readWsMsg(t, conn)
	require.Equal(t, MsgError, msg.Type)
	assert.Contains(t, msg.Message, "unknown operation")

	_, metrics := do(t, http.MethodGet, server.URL+"/metrics", "")
	assert.Contains(t, metrics, "delta_decode_errors_total")

	info, err := hub.store.Get(ctx(), "d")
	require.NoError(t, err)
	assert.Equal(t, 0, info.Version)
}

func TestHandler_ChangeBeforeJoin(t *testing.T) {
	server, _ := setupTestServer(t)
	conn := wsConnect(t, server)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"change","delta":{"ops":[{"insert":"x"}]}}`))
	msg := readWsMsg(t, conn)
	assert.Equal(t, MsgError, msg.Type)
	assert.Equal(t, "not joined to a document", msg.Message)
}

func TestHandler_CreateAndRead(t *testing.T) {
	server, _ := setupTestServer(t)

	resp, _ := do(t, http.MethodPut, server.URL+"/docs/d1", scenario)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, server.URL+"/docs/d1", scenario)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := do(t, http.MethodGet, server.URL+"/docs/d1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, scenario, body)

	resp, body = do(t, http.MethodGet, server.URL+"/docs/d1/text", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello\n\nLet's write some code!\n", body)

	resp, body = do(t, http.MethodGet, server.URL+"/docs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []DocumentSummary
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "d1", list[0].ID)
	assert.Equal(t, 4, list[0].Ops)
}

func TestHandler_CreateRejectsBadDelta(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"syntax", `{"ops":`, "syntax error"},
		{"unknown operation", `{"ops":[{"foo":"bar"}]}`, "unknown operation"},
		{"extra field", `{"ops":[{"insert":"a","retain":1}]}`, "unexpected field"},
		{"missing ops", `{}`, "missing field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPut, server.URL+"/docs/bad", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body, tt.want)
		})
	}

	resp, _ := do(t, http.MethodGet, server.URL+"/docs/bad", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_NotFound(t *testing.T) {
	server, _ := setupTestServer(t)

	resp, _ := do(t, http.MethodGet, server.URL+"/docs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, server.URL+"/docs/missing/text", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, server.URL+"/index.html", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_Health(t *testing.T) {
	server, _ := setupTestServer(t)

	resp, body := do(t, http.MethodGet, server.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "ok", got["status"])
}

func TestHandler_StoredDeltaRoundTrips(t *testing.T) {
	server, hub := setupTestServer(t)

	doc, err := delta.Decode([]byte(scenario))
	require.NoError(t, err)
	require.NoError(t, hub.store.Create(ctx(), "pre", doc))

	_, body := do(t, http.MethodGet, server.URL+"/docs/pre", "")
	again, err := delta.Decode([]byte(body))
	require.NoError(t, err)
	assert.True(t, doc.Equal(again))
}
