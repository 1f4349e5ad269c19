package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestPCMBufferWriteConvertsAndCarriesOddBytes(t *testing.T) {
	t.Parallel()

	buf := newPCMBuffer(4, 1, time.Second)
	// 0x4000 = 16384 -> 0.5, split across two writes.
	_, _ = buf.Write([]byte{0x00})
	_, _ = buf.Write([]byte{0x40, 0x00, 0xC0})

	samples := buf.Snapshot()
	if len(samples) != 4 {
		t.Fatalf("expected capacity 4, got %d", len(samples))
	}
	if samples[0] != 0.5 || samples[1] != -0.5 {
		t.Fatalf("unexpected samples: %v", samples)
	}
	if buf.Filled() != 2 {
		t.Fatalf("expected 2 filled samples, got %d", buf.Filled())
	}
}

func TestPCMBufferSignalsFull(t *testing.T) {
	t.Parallel()

	buf := newPCMBuffer(2, 1, time.Second)
	_, _ = buf.Write([]byte{1, 0, 2, 0, 3, 0})

	select {
	case <-buf.Full():
	default:
		t.Fatalf("expected full signal")
	}
	if buf.Filled() != 2 {
		t.Fatalf("expected writes past capacity to be dropped, got %d", buf.Filled())
	}
}

func TestPumpPCMStopsAtEOF(t *testing.T) {
	t.Parallel()

	buf := newPCMBuffer(8, 1, time.Second)
	done := make(chan error, 1)
	pumpPCM(bytes.NewReader([]byte{0, 0x40, 0, 0x40}), buf, 256, done)

	if err := <-done; err != nil {
		t.Fatalf("unexpected pump error: %v", err)
	}
	if buf.Filled() != 2 {
		t.Fatalf("expected 2 samples, got %d", buf.Filled())
	}
}

func TestPumpPCMReportsReadError(t *testing.T) {
	t.Parallel()

	buf := newPCMBuffer(8, 1, time.Second)
	done := make(chan error, 1)
	pumpPCM(errReader{err: errors.New("read failed")}, buf, 256, done)

	if err := <-done; err == nil {
		t.Fatalf("expected read error")
	}
}

type errReader struct {
	err error
}

func (r errReader) Read(_ []byte) (int, error) { return 0, r.err }
