package audio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rehabstage/internal/domain"
	"rehabstage/internal/ports"
)

// WebsocketCapture records PCM audio streamed by a capture bridge, such as
// a companion process owning the microphone. The bridge sends binary s16le
// frames and stops on a {"type":"Stop"} text message.
type WebsocketCapture struct {
	url    string
	dialer *websocket.Dialer
}

func NewWebsocketCapture(rawURL string) *WebsocketCapture {
	return &WebsocketCapture{url: rawURL, dialer: websocket.DefaultDialer}
}

func (c *WebsocketCapture) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	cfg = normalizeCaptureConfig(cfg)

	wsURL, err := buildCaptureURL(c.url, cfg)
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to capture bridge: %v", domain.ErrCaptureUnavailable, err)
	}

	session := &websocketSession{
		cfg:  cfg,
		conn: conn,
		buf:  newPCMBuffer(cfg.SampleRate, cfg.Channels, cfg.MaxDuration),
		done: make(chan struct{}),
	}
	go session.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_, _ = session.Stop()
		case <-session.done:
		}
	}()

	return session, nil
}

type websocketSession struct {
	cfg  ports.CaptureConfig
	conn *websocket.Conn
	buf  *pcmBuffer
	done chan struct{}

	errMu sync.Mutex
	err   error

	stopOnce sync.Once
	artifact domain.CaptureArtifact
}

func (s *websocketSession) readLoop() {
	defer close(s.done)

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		_, _ = s.buf.Write(payload)

		select {
		case <-s.buf.Full():
			return
		default:
		}
	}
}

func (s *websocketSession) Stop() (domain.CaptureArtifact, error) {
	s.stopOnce.Do(func() {
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Stop"}`))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

		select {
		case <-s.done:
		case <-time.After(time.Second):
		}
		_ = s.conn.Close()
		<-s.done

		s.artifact = domain.CaptureArtifact{
			Samples:    s.buf.Snapshot(),
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
		}
	})
	return s.artifact, s.captureErr()
}

func (s *websocketSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || errors.Is(err, websocket.ErrCloseSent) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *websocketSession) captureErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func buildCaptureURL(base string, cfg ports.CaptureConfig) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("%w: capture bridge URL is not configured", domain.ErrCaptureUnavailable)
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	captureURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid capture bridge URL: %w", err)
	}

	query := captureURL.Query()
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	query.Set("channels", strconv.Itoa(cfg.Channels))
	query.Set("max_ms", strconv.FormatInt(cfg.MaxDuration.Milliseconds(), 10))
	captureURL.RawQuery = query.Encode()
	return captureURL.String(), nil
}
