package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	wavHeaderSize = 44
	pcmScale      = 32767
)

// WAVHeader is the canonical 44-byte PCM header.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * 2
	BlockAlign    uint16 // NumChannels * 2
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// WAVInfo summarizes a decoded WAV stream.
type WAVInfo struct {
	SampleRate    uint32 `json:"sample_rate"`
	Channels      uint16 `json:"channels"`
	BitsPerSample uint16 `json:"bits_per_sample"`
	DataSize      uint32 `json:"data_size_bytes"`
}

// EncodeWAV encodes float samples in [-1,1] as a 16-bit PCM WAV stream.
// Out of range samples are clamped. An empty buffer yields a valid WAV with
// an empty data chunk.
func EncodeWAV(samples []float32, sampleRate int, channels int) []byte {
	dataSize := uint32(len(samples) * 2)
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * 2,
		BlockAlign:    uint16(channels * 2),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	pcm := make([]int16, len(samples))
	for i, sample := range samples {
		pcm[i] = floatToPCM(sample)
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	// Writes into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, header)
	_ = binary.Write(buf, binary.LittleEndian, pcm)
	return buf.Bytes()
}

func floatToPCM(sample float32) int16 {
	v := float64(sample)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * pcmScale)
}

// DecodeWAV decodes a 16-bit PCM WAV stream back to float samples.
func DecodeWAV(data []byte) ([]float32, WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, WAVInfo{}, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, WAVInfo{}, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if header.AudioFormat != 1 {
		return nil, WAVInfo{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}
	if header.BitsPerSample != 16 {
		return nil, WAVInfo{}, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	payload := data[wavHeaderSize:]
	if uint32(len(payload)) < header.Subchunk2Size {
		return nil, WAVInfo{}, fmt.Errorf("WAV data truncated: header declares %d bytes, got %d", header.Subchunk2Size, len(payload))
	}

	pcm := make([]int16, header.Subchunk2Size/2)
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, pcm); err != nil {
		return nil, WAVInfo{}, fmt.Errorf("failed to read audio samples: %w", err)
	}

	samples := make([]float32, len(pcm))
	for i, v := range pcm {
		samples[i] = float32(v) / pcmScale
	}

	return samples, WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		DataSize:      header.Subchunk2Size,
	}, nil
}

// ValidateWAV checks the chunk tags of a canonical WAV header.
func ValidateWAV(data []byte) error {
	if len(data) < wavHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}
	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}
	return nil
}
