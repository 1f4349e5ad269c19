package audio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rehabstage/internal/domain"
	"rehabstage/internal/ports"
)

func TestWebsocketCaptureRecordsBinaryFrames(t *testing.T) {
	t.Parallel()

	stopped := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sample_rate") != "8000" {
			http.Error(w, "bad sample rate", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x00, 0x40, 0x00, 0xC0})
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.TextMessage {
				stopped <- string(payload)
			}
		}
	}))
	defer server.Close()

	capture := NewWebsocketCapture(server.URL)
	session, err := capture.Start(context.Background(), ports.CaptureConfig{SampleRate: 8000, Channels: 1, MaxDuration: time.Second})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	artifact, err := session.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if len(artifact.Samples) != 8000 {
		t.Fatalf("expected fixed-length buffer, got %d", len(artifact.Samples))
	}
	if artifact.Samples[0] != 0.5 || artifact.Samples[1] != -0.5 {
		t.Fatalf("unexpected samples: %v", artifact.Samples[:2])
	}

	select {
	case msg := <-stopped:
		if !strings.Contains(msg, "Stop") {
			t.Fatalf("unexpected stop message: %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("bridge did not receive stop message")
	}
}

func TestWebsocketCaptureUnreachableBridge(t *testing.T) {
	t.Parallel()

	capture := NewWebsocketCapture("ws://127.0.0.1:1/capture")
	_, err := capture.Start(context.Background(), ports.CaptureConfig{})
	if !errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Fatalf("expected capture unavailable, got %v", err)
	}
}

func TestBuildCaptureURL(t *testing.T) {
	t.Parallel()

	got, err := buildCaptureURL("http://localhost:9000/capture", normalizeCaptureConfig(ports.CaptureConfig{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "ws://localhost:9000/capture?") {
		t.Fatalf("unexpected url: %s", got)
	}
	for _, want := range []string{"sample_rate=16000", "channels=1", "max_ms=8000", "encoding=linear16"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %s in url: %s", want, got)
		}
	}

	if _, err := buildCaptureURL("  ", ports.CaptureConfig{}); !errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Fatalf("expected unconfigured bridge to be unavailable, got %v", err)
	}
}
