package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aimonitor/internal/logger"

	"github.com/gorilla/websocket"
)

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_BroadcastsToViewer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub("webcam", logger.NewWriterLogger(io.Discard))
	go h.Run(ctx)

	server := httptest.NewServer(h.Handler(ctx))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	waitForClients(t, h, 1)

	h.Notify(ctx, "person", image.NewRGBA(image.Rect(0, 0, 8, 8)))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if msg.Camera != "webcam" || msg.Message != "person" {
		t.Errorf("unexpected message: %+v", msg)
	}
	jpeg, err := base64.StdEncoding.DecodeString(msg.Image)
	if err != nil || len(jpeg) < 2 || jpeg[0] != 0xFF || jpeg[1] != 0xD8 {
		t.Errorf("expected base64 JPEG image, got %d bytes (err %v)", len(jpeg), err)
	}
}

func TestHub_NotifyDoesNotBlockWhenQueueFull(t *testing.T) {
	h := NewHub("webcam", logger.NewWriterLogger(io.Discard))

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastQueue*2; i++ {
			h.Notify(context.Background(), "person", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify blocked with no hub running")
	}
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub("imx500", logger.NewWriterLogger(io.Discard))
	go h.Run(ctx)

	server := httptest.NewServer(h.Handler(ctx))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	waitForClients(t, h, 1)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitForClients(t, h, 0)
}
