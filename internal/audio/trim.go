package audio

import "math"

// Trim returns the prefix of buf covering elapsedSeconds of audio.
// samplesPerSecond is the buffer's rate counted in slice elements, so an
// interleaved buffer passes sampleRate*channels. The prefix shares buf's
// backing array.
func Trim(buf []float32, elapsedSeconds float64, samplesPerSecond int) []float32 {
	if elapsedSeconds <= 0 || math.IsNaN(elapsedSeconds) || samplesPerSecond <= 0 {
		return buf[:0]
	}

	n := math.Floor(float64(samplesPerSecond) * elapsedSeconds)
	if n >= float64(len(buf)) {
		return buf
	}
	return buf[:int(n)]
}
