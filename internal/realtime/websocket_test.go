package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func TestWebSocketDialerEndToEnd(t *testing.T) {
	joined := make(chan map[string]string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame map[string]string
		if err := json.Unmarshal(data, &frame); err == nil {
			joined <- frame
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"staff_joined","message":"Hi"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"message","message":"Welcome back"}`))

		// Hold the connection until the client goes away.
		_, _, _ = conn.Read(ctx)
	}))
	defer server.Close()

	messages := make(chan Message, 4)
	humans := make(chan struct{}, 4)
	manager := NewManager(WebSocketDialer{}, SystemClock{}, Config{}, log.New(io.Discard, "", 0))
	manager.SetHandlers(Handlers{
		OnMessage:     func(msg Message) { messages <- msg },
		OnHumanActive: func() { humans <- struct{}{} },
	})

	manager.Connect(Options{
		URL:       "ws" + strings.TrimPrefix(server.URL, "http"),
		SessionID: "rs_ws",
		Token:     "tok_ws",
		Enabled:   true,
	})
	defer manager.Disconnect()

	select {
	case frame := <-joined:
		if frame["type"] != "join" || frame["sessionId"] != "rs_ws" || frame["readinessToken"] != "tok_ws" {
			t.Fatalf("unexpected join frame %#v", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for join frame")
	}

	select {
	case <-humans:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for human-active event")
	}
	select {
	case msg := <-messages:
		if msg.Text != "Welcome back" {
			t.Fatalf("unexpected message %#v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for chat message")
	}
}

func TestWebSocketDialerReportsHandshakeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := WebSocketDialer{}.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"))
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if !strings.Contains(err.Error(), "dial realtime websocket") {
		t.Fatalf("unexpected error %v", err)
	}
}
