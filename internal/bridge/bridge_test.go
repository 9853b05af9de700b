package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoReply struct {
	OK   bool   `json:"ok"`
	Echo string `json:"echo"`
}

func echoHandler(ctx context.Context, payload json.RawMessage) any {
	var req struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(payload, &req)
	return echoReply{OK: true, Echo: req.Text}
}

func decodeLine(t *testing.T, line string) Message {
	t.Helper()
	require.True(t, strings.HasPrefix(line, StdioPrefix), "line %q lacks prefix", line)
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, StdioPrefix)), &msg))
	return msg
}

// TestStdio_RequestReply tests a request line produces a reply line
func TestStdio_RequestReply(t *testing.T) {
	in := strings.NewReader(`{"id":"1","channel":"echo","payload":{"text":"hi"}}` + "\n" +
		"not json\n" +
		`{"id":"2","channel":"nope"}` + "\n")
	var out strings.Builder
	s := NewStdio(in, &out)
	s.Handle("echo", echoHandler)

	require.NoError(t, s.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	replies := map[string]Message{}
	for _, l := range lines {
		msg := decodeLine(t, l)
		assert.Equal(t, TypeReply, msg.Type)
		replies[msg.ID] = msg
	}

	var echo echoReply
	require.NoError(t, json.Unmarshal(replies["1"].Payload, &echo))
	assert.Equal(t, echoReply{OK: true, Echo: "hi"}, echo)

	var unknown errorReply
	require.NoError(t, json.Unmarshal(replies["2"].Payload, &unknown))
	assert.False(t, unknown.OK)
	assert.Equal(t, "not_found", unknown.Kind)
}

// TestStdio_Send tests events are written as prefixed lines
func TestStdio_Send(t *testing.T) {
	var out strings.Builder
	s := NewStdio(strings.NewReader(""), &out)

	require.NoError(t, s.Send("progress", map[string]int{"percent": 42}))

	msg := decodeLine(t, strings.TrimSpace(out.String()))
	assert.Equal(t, TypeEvent, msg.Type)
	assert.Equal(t, "progress", msg.Channel)
	assert.Empty(t, msg.ID)
	assert.JSONEq(t, `{"percent":42}`, string(msg.Payload))
}

// TestStdio_StopsOnCancel tests Serve returns when ctx ends with stdin open
func TestStdio_StopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStdio(pr, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// TestStdio_InterleavedOutput tests concurrent writes never share a line
func TestStdio_InterleavedOutput(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewStdio(strings.NewReader(""), pw)

	go func() {
		for i := 0; i < 20; i++ {
			go func() { _ = s.Send("tick", strings.Repeat("x", 512)) }()
		}
	}()

	scanner := bufio.NewScanner(pr)
	for i := 0; i < 20; i++ {
		require.True(t, scanner.Scan())
		msg := decodeLine(t, scanner.Text())
		assert.Equal(t, "tick", msg.Channel)
	}
	pw.Close()
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// TestWebSocket_RequestReply tests a request over a websocket connection
func TestWebSocket_RequestReply(t *testing.T) {
	ws := NewWebSocket("")
	ws.Handle("echo", echoHandler)
	srv := httptest.NewServer(ws)
	defer srv.Close()

	conn := dialWS(t, srv)
	require.NoError(t, conn.WriteJSON(Message{Type: TypeRequest, ID: "7", Channel: "echo", Payload: json.RawMessage(`{"text":"yo"}`)}))

	msg := readMessage(t, conn)
	assert.Equal(t, TypeReply, msg.Type)
	assert.Equal(t, "7", msg.ID)
	assert.JSONEq(t, `{"ok":true,"echo":"yo"}`, string(msg.Payload))
}

// TestWebSocket_Broadcast tests events reach every connected client
func TestWebSocket_Broadcast(t *testing.T) {
	ws := NewWebSocket("")
	srv := httptest.NewServer(ws)
	defer srv.Close()

	a := dialWS(t, srv)
	b := dialWS(t, srv)
	require.Eventually(t, func() bool { return ws.Clients() == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Send("session", map[string]string{"state": "success"}))

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, TypeEvent, msg.Type)
		assert.Equal(t, "session", msg.Channel)
	}
}

// TestWebSocket_RejectsForeignOrigin tests pages from other hosts cannot connect
func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	srv := httptest.NewServer(NewWebSocket(""))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// TestWebSocket_Serve tests binding and shutting down the listener
func TestWebSocket_Serve(t *testing.T) {
	ws := NewWebSocket("127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- ws.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// TestBus tests in-process requests and event fan-out
func TestBus(t *testing.T) {
	bus := NewBus()
	bus.Handle("echo", echoHandler)

	raw, err := bus.Request(context.Background(), "echo", map[string]string{"text": "ping"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"echo":"ping"}`, string(raw))

	progress, stopProgress := bus.Subscribe("progress", 4)
	all, stopAll := bus.Subscribe(AllChannels, 4)
	defer stopAll()

	require.NoError(t, bus.Send("progress", 50))
	require.NoError(t, bus.Send("session", "done"))

	assert.Equal(t, "progress", (<-progress).Channel)
	assert.Equal(t, "progress", (<-all).Channel)
	assert.Equal(t, "session", (<-all).Channel)

	stopProgress()
	stopProgress()
	_, open := <-progress
	assert.False(t, open)
}

// TestBus_ServeClosesSubscriptions tests subscribers see the end of the bus
func TestBus_ServeClosesSubscriptions(t *testing.T) {
	bus := NewBus()
	events, stop := bus.Subscribe("progress", 1)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Serve(ctx))

	_, open := <-events
	assert.False(t, open)
	assert.NoError(t, bus.Send("progress", 1))
}
