package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"rehabstage/internal/domain"
	"rehabstage/internal/ports"
)

// FFMPEGFrameCapture grabs a single JPEG frame from a camera with ffmpeg.
// Start only checks that the recorder and device exist; the frame is taken
// when the session stops.
type FFMPEGFrameCapture struct {
	command     string
	grabTimeout time.Duration
}

func NewFFMPEGFrameCapture(command string) *FFMPEGFrameCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGFrameCapture{command: command, grabTimeout: 5 * time.Second}
}

func (c *FFMPEGFrameCapture) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	if cfg.InputFormat == "" {
		cfg.InputFormat = "v4l2"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "/dev/video0"
	}

	if _, err := exec.LookPath(c.command); err != nil {
		return nil, fmt.Errorf("%w: recorder %q not found: %v", domain.ErrCaptureUnavailable, c.command, err)
	}
	if strings.HasPrefix(cfg.InputDevice, "/dev/") {
		if _, err := os.Stat(cfg.InputDevice); err != nil {
			return nil, fmt.Errorf("%w: camera %s: %v", domain.ErrCaptureUnavailable, cfg.InputDevice, err)
		}
	}

	return &frameSession{ctx: ctx, capture: c, cfg: cfg}, nil
}

type frameSession struct {
	ctx     context.Context
	capture *FFMPEGFrameCapture
	cfg     ports.CaptureConfig

	stopOnce sync.Once
	artifact domain.CaptureArtifact
	err      error
}

func (s *frameSession) Stop() (domain.CaptureArtifact, error) {
	s.stopOnce.Do(func() {
		frame, err := s.capture.grab(s.ctx, s.cfg)
		s.artifact = domain.CaptureArtifact{Frame: frame}
		s.err = err
	})
	return s.artifact, s.err
}

func (c *FFMPEGFrameCapture) grab(ctx context.Context, cfg ports.CaptureConfig) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.grabTimeout)
	defer cancel()

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("failed to grab camera frame: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("failed to grab camera frame: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("camera returned an empty frame")
	}
	return stdout.Bytes(), nil
}
