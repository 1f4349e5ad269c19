package audio

import (
	"math"
	"testing"
)

func TestTrimLengthBound(t *testing.T) {
	t.Parallel()

	buf := make([]float32, 16000*8)
	cases := []struct {
		name    string
		elapsed float64
		rate    int
		want    int
	}{
		{name: "three seconds of eight", elapsed: 3, rate: 16000, want: 48000},
		{name: "fractional floors", elapsed: 0.00009, rate: 16000, want: 1},
		{name: "longer than buffer clamps", elapsed: 12, rate: 16000, want: len(buf)},
		{name: "exact buffer", elapsed: 8, rate: 16000, want: len(buf)},
		{name: "zero", elapsed: 0, rate: 16000, want: 0},
		{name: "negative", elapsed: -1, rate: 16000, want: 0},
		{name: "nan", elapsed: math.NaN(), rate: 16000, want: 0},
		{name: "stereo rate", elapsed: 1, rate: 32000, want: 32000},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Trim(buf, tc.elapsed, tc.rate)
			if len(got) != tc.want {
				t.Fatalf("expected %d samples, got %d", tc.want, len(got))
			}
		})
	}
}

func TestTrimKeepsPrefix(t *testing.T) {
	t.Parallel()

	buf := []float32{0.1, 0.2, 0.3, 0.4}
	got := Trim(buf, 0.5, 4)
	if len(got) != 2 || got[0] != 0.1 || got[1] != 0.2 {
		t.Fatalf("unexpected prefix: %v", got)
	}
}

func TestTrimNilBuffer(t *testing.T) {
	t.Parallel()

	if got := Trim(nil, 2, 16000); len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}
