package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// pcmBuffer is a fixed-capacity float buffer filled from s16le bytes.
// Capture devices allocate it for the maximum recording length up front.
type pcmBuffer struct {
	mu      sync.Mutex
	samples []float32
	filled  int
	carry   []byte
	full    chan struct{}
	once    sync.Once
}

func newPCMBuffer(sampleRate int, channels int, maxDuration time.Duration) *pcmBuffer {
	capacity := int(float64(sampleRate*channels) * maxDuration.Seconds())
	if capacity < 0 {
		capacity = 0
	}
	return &pcmBuffer{
		samples: make([]float32, capacity),
		full:    make(chan struct{}),
	}
}

// Write appends little-endian int16 samples, dropping anything past capacity.
func (b *pcmBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := p
	if len(b.carry) > 0 {
		data = append(b.carry, p...)
		b.carry = nil
	}

	for len(data) >= 2 && b.filled < len(b.samples) {
		v := int16(binary.LittleEndian.Uint16(data[:2]))
		b.samples[b.filled] = float32(v) / 32768
		b.filled++
		data = data[2:]
	}
	if len(data) == 1 {
		b.carry = []byte{data[0]}
	}
	if b.filled >= len(b.samples) {
		b.once.Do(func() { close(b.full) })
	}
	return len(p), nil
}

// Full is closed once the buffer reaches capacity.
func (b *pcmBuffer) Full() <-chan struct{} {
	return b.full
}

// Snapshot returns the whole fixed-length buffer, including the unfilled tail.
func (b *pcmBuffer) Snapshot() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

func (b *pcmBuffer) Filled() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filled
}

// pumpPCM copies source into buf until EOF, a read error, or a full buffer.
func pumpPCM(source io.Reader, buf *pcmBuffer, chunkSize int, done chan<- error) {
	if chunkSize < 256 {
		chunkSize = 4096
	}

	chunk := make([]byte, chunkSize)
	for {
		n, err := source.Read(chunk)
		if n > 0 {
			_, _ = buf.Write(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				done <- nil
			} else {
				done <- fmt.Errorf("audio capture error: %w", err)
			}
			return
		}
		select {
		case <-buf.Full():
			done <- nil
			return
		default:
		}
	}
}
