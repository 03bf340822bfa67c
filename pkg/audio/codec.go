// Package audio implements the codec, resampling, and signal-conditioning
// primitives shared by the RTP/AudioSocket transports and the streaming
// playback manager: G.711 companding, fractional-rate PCM16 resampling
// with carried filter state, endianness auto-detection, and the DC-block
// filter applied to PCM16 egress.
package audio

import (
	"encoding/binary"

	"github.com/zaf/g711"
)

// BytesPerSample is the width of one linear-PCM sample on the wire.
const BytesPerSample = 2

// MulawToPCM16LE decodes 8-bit µ-law samples to little-endian PCM16.
func MulawToPCM16LE(b []byte) []byte {
	return samplesToLE(g711.DecodeUlaw(b))
}

// AlawToPCM16LE decodes 8-bit A-law samples to little-endian PCM16.
func AlawToPCM16LE(b []byte) []byte {
	return samplesToLE(g711.DecodeAlaw(b))
}

// PCM16LEToMulaw encodes little-endian PCM16 to 8-bit µ-law.
func PCM16LEToMulaw(b []byte) []byte {
	return g711.EncodeUlaw(leToSamples(b))
}

// PCM16LEToAlaw encodes little-endian PCM16 to 8-bit A-law.
func PCM16LEToAlaw(b []byte) []byte {
	return g711.EncodeAlaw(leToSamples(b))
}

func samplesToLE(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

func leToSamples(b []byte) []int16 {
	n := len(b) / BytesPerSample
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
	}
	return out
}

// FrameSizeBytes returns the byte length of one 20ms-equivalent frame for
// the given sample rate and bytes-per-sample, rounded up, matching the
// AudioSocket/RTP frame-alignment rule: ceil(sample_rate * frame_ms/1000) *
// bytes_per_sample.
func FrameSizeBytes(sampleRateHz int, frameMs int, bytesPerSample int) int {
	samples := (sampleRateHz*frameMs + 999) / 1000
	return samples * bytesPerSample
}
