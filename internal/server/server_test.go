package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vrct-tts/connector/internal/protocol"
	"github.com/vrct-tts/connector/internal/tts"
)

// echoHandler answers every request with its id. SYNTHESIZE gets audio,
// and text "slow" delays the answer.
type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, raw []byte) tts.Result {
	req, err := protocol.Parse(raw)
	if err != nil {
		return tts.Result{Response: protocol.Failure(req.RequestID, tts.CodeProtocol, err.Error())}
	}
	if req.Text == "slow" {
		time.Sleep(300 * time.Millisecond)
	}
	res := tts.Result{Response: protocol.Success(req.RequestID, "ok", nil)}
	if req.Cmd() == protocol.CommandSynthesize {
		res.Audio = []byte("audio:" + string(req.RequestID))
	}
	return res
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(cfg, echoHandler{}, nil)
	ts := httptest.NewServer(s.Routes(ctx))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func readResponse(t *testing.T, ws *websocket.Conn) protocol.Response {
	t.Helper()
	kind, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("got frame type %d, want text", kind)
	}
	var resp protocol.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return resp
}

func readAudio(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	kind, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("got frame type %d, want binary: %s", kind, data)
	}
	return data
}

func send(t *testing.T, ws *websocket.Conn, raw string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestServer_SynthesizeFollowedByAudio(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	ws := dial(t, ts, "/")

	send(t, ws, `{"command":"SYNTHESIZE","request_id":"1","text":"hi"}`)
	resp := readResponse(t, ws)
	if !resp.OK() || resp.RequestID != "1" {
		t.Fatalf("response = %+v", resp)
	}
	if audio := readAudio(t, ws); string(audio) != "audio:1" {
		t.Errorf("audio = %q", audio)
	}

	send(t, ws, `{"command":"STOP","request_id":"2"}`)
	if resp := readResponse(t, ws); resp.RequestID != "2" {
		t.Errorf("response = %+v", resp)
	}
}

func TestServer_SlowRequestDoesNotBlock(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	ws := dial(t, ts, "/")

	send(t, ws, `{"command":"SYNTHESIZE","request_id":"slow","text":"slow"}`)
	send(t, ws, `{"command":"SYNTHESIZE","request_id":"fast","text":"fast"}`)

	for _, id := range []string{"fast", "slow"} {
		resp := readResponse(t, ws)
		if string(resp.RequestID) != id {
			t.Fatalf("got response %q, want %q", resp.RequestID, id)
		}
		if audio := readAudio(t, ws); string(audio) != "audio:"+id {
			t.Fatalf("audio %q follows response %q", audio, id)
		}
	}
}

func TestServer_BadFramesKeepConnection(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	ws := dial(t, ts, "/")

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if resp := readResponse(t, ws); resp.OK() || resp.Code != tts.CodeProtocol {
		t.Errorf("binary frame response = %+v", resp)
	}

	send(t, ws, `{not json`)
	if resp := readResponse(t, ws); resp.Code != tts.CodeProtocol {
		t.Errorf("malformed frame response = %+v", resp)
	}

	send(t, ws, `{"command":"GET_VOICES","request_id":"3"}`)
	if resp := readResponse(t, ws); !resp.OK() || resp.RequestID != "3" {
		t.Errorf("connection unusable after bad frames: %+v", resp)
	}
}

func TestServer_CustomPath(t *testing.T) {
	_, ts := newTestServer(t, Config{Path: "/tts"})
	ws := dial(t, ts, "/tts")

	send(t, ws, `{"command":"STOP","request_id":"p"}`)
	if resp := readResponse(t, ws); resp.RequestID != "p" {
		t.Errorf("response = %+v", resp)
	}
}

func TestServer_HTTPEndpoints(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "vrct_tts_requests_total 1\n")
	})
	health := func() map[string]any {
		return map[string]any{"cache": map[string]int{"items": 3}, "status": "overridden"}
	}
	s, ts := newTestServer(t, Config{Metrics: metrics, Health: health})
	dial(t, ts, "/")

	deadline := time.Now().Add(time.Second)
	for s.Connections() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var doc struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Cache       struct {
			Items int `json:"items"`
		} `json:"cache"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.Status != "ok" || doc.Connections != 1 || doc.Cache.Items != 3 {
		t.Errorf("health = %+v", doc)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "vrct_tts_requests_total") {
		t.Errorf("metrics body = %q", body)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{Addr: "127.0.0.1:0"}, echoHandler{}, nil)
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(shutdownGrace + time.Second):
		t.Fatal("server did not shut down")
	}

	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("client saw %v, want going away", err)
	}
}
