// Package testutil provides helpers for generating synthetic aliased media
// in tests and benchmarks. It is intended for test use only.
package testutil

import (
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/wavecache/wavecache/model"
)

// EncodePCM writes per-channel sample slices as interleaved headerless PCM
// bytes, the layout PCMDecoder reads. All channels must have equal length.
func EncodePCM(format model.SampleFormat, channels [][]float32) []byte {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	bps := format.BytesPerSample()
	out := make([]byte, frames*len(channels)*bps)

	pos := 0
	for i := 0; i < frames; i++ {
		for _, ch := range channels {
			switch format {
			case model.Int16:
				v := int16(math.Round(float64(ch[i]) * 32767))
				binary.LittleEndian.PutUint16(out[pos:], uint16(v))
			case model.Int24:
				v := int32(math.Round(float64(ch[i]) * 8388607))
				out[pos] = byte(v)
				out[pos+1] = byte(v >> 8)
				out[pos+2] = byte(v >> 16)
			case model.Float32:
				binary.LittleEndian.PutUint32(out[pos:], math.Float32bits(ch[i]))
			}
			pos += bps
		}
	}
	return out
}

// Sine returns n samples of a low-frequency sine sweep, a deterministic
// waveform whose statistics differ frame to frame.
func Sine(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(float64(i) * 0.01))
	}
	return out
}

// Noise returns n pseudo-random samples in [-1, 1) from a fixed seed.
func Noise(n int, seed int64) []float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = r.Float32()*2 - 1
	}
	return out
}
