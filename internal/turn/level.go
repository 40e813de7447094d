package turn

import (
	"encoding/binary"
	"math"
	"time"
)

// SilenceFloorDB is reported for digital silence and empty input
const SilenceFloorDB = -100.0

// LevelDB returns the RMS level of 16-bit little-endian PCM in dBFS,
// clamped to [SilenceFloorDB, 0].
func LevelDB(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return SilenceFloorDB
	}

	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}

	rms := math.Sqrt(sum / float64(samples))
	if rms == 0 {
		return SilenceFloorDB
	}

	db := 20 * math.Log10(rms/32768)
	return math.Max(SilenceFloorDB, math.Min(0, db))
}

// PCMDuration is the play time of mono 16-bit PCM at sampleRate
func PCMDuration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
