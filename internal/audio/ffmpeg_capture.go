package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"rehabstage/internal/domain"
	"rehabstage/internal/ports"
)

const defaultMaxDuration = 8 * time.Second

// FFMPEGCapture records microphone PCM audio into a fixed-length buffer
// using ffmpeg.
type FFMPEGCapture struct {
	command   string
	startWait time.Duration
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command, startWait: 250 * time.Millisecond}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	cfg = normalizeCaptureConfig(cfg)

	if _, err := exec.LookPath(c.command); err != nil {
		return nil, fmt.Errorf("%w: recorder %q not found: %v", domain.ErrCaptureUnavailable, c.command, err)
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-t", strconv.FormatFloat(cfg.MaxDuration.Seconds(), 'f', 3, 64),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", domain.ErrCaptureUnavailable, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	buf := newPCMBuffer(cfg.SampleRate, cfg.Channels, cfg.MaxDuration)
	pumpDone := make(chan error, 1)
	go pumpPCM(stdout, buf, 4096, pumpDone)

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", domain.ErrCaptureUnavailable, err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", domain.ErrCaptureUnavailable)
	case <-time.After(c.startWait):
	}

	return &ffmpegSession{
		cfg:      cfg,
		buf:      buf,
		stdout:   stdout,
		stderr:   &stderr,
		process:  cmd.Process,
		waitErr:  waitErr,
		pumpDone: pumpDone,
	}, nil
}

func normalizeCaptureConfig(cfg ports.CaptureConfig) ports.CaptureConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaultMaxDuration
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

type ffmpegSession struct {
	cfg ports.CaptureConfig
	buf *pcmBuffer

	stdout io.ReadCloser
	stderr *bytes.Buffer

	process  *os.Process
	waitErr  <-chan error
	pumpDone <-chan error

	stopOnce sync.Once
	artifact domain.CaptureArtifact
	stopErr  error
}

func (s *ffmpegSession) Stop() (domain.CaptureArtifact, error) {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}
		if pumpErr := <-s.pumpDone; pumpErr != nil && s.stopErr == nil && !errors.Is(pumpErr, os.ErrClosed) {
			s.stopErr = pumpErr
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}

		s.artifact = domain.CaptureArtifact{
			Samples:    s.buf.Snapshot(),
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
		}
	})

	return s.artifact, s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
