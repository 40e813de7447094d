package turn

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestLevelDB(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, SilenceFloorDB},
		{"digital silence", pcm(0, 0, 0, 0), SilenceFloorDB},
		{"full scale", pcm(-32768, -32768), 0},
		{"half scale", pcm(16384, -16384), 20 * math.Log10(0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LevelDB(tt.pcm)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("Expected %.2f dB, got %.2f dB", tt.want, got)
			}
		})
	}
}

func TestPCMDuration(t *testing.T) {
	audio := make([]byte, 16000*2/10)
	if got := PCMDuration(audio, 16000); got != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %s", got)
	}
	if got := PCMDuration(audio, 0); got != 0 {
		t.Errorf("Expected 0 for unknown sample rate, got %s", got)
	}
}
