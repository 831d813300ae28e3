// Package audio captures, slices, segments and encodes 16-bit mono PCM.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// BytesPerSample is fixed: every stream is signed 16-bit little endian mono.
const BytesPerSample = 2

// Samples decodes s16le bytes. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCM encodes samples as s16le bytes.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Duration of n bytes of PCM at sampleRate.
func Duration(n int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// ByteCount is the number of PCM bytes covering d at sampleRate, rounded down to a whole sample.
func ByteCount(d time.Duration, sampleRate int) int {
	samples := int(int64(d) * int64(sampleRate) / int64(time.Second))
	return samples * BytesPerSample
}

// Levels returns the mean energy and mean absolute amplitude of a frame, with
// samples normalised to [-1, 1].
func Levels(pcm []byte) (energy, amplitude float64) {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0, 0
	}
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / math.MaxInt16
		energy += v * v
		amplitude += math.Abs(v)
	}
	return energy / float64(n), amplitude / float64(n)
}
