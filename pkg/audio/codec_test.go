package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulawRoundTripLength(t *testing.T) {
	mulaw := make([]byte, 160)
	for i := range mulaw {
		mulaw[i] = byte(i)
	}

	pcm := MulawToPCM16LE(mulaw)
	back := PCM16LEToMulaw(pcm)

	require.Equal(t, len(mulaw), len(back))
}

func TestMulawRoundTripWithinOneLSB(t *testing.T) {
	mulaw := []byte{0x00, 0x0f, 0x3a, 0x7f, 0x80, 0xff}
	pcm := leToSamples(MulawToPCM16LE(mulaw))
	back := leToSamples(MulawToPCM16LE(PCM16LEToMulaw(samplesToLE(pcm))))

	// Compared as PCM samples: µ-law 0x7f and 0xff both decode to 0, and 0
	// re-encodes as 0xff, so the code bytes themselves need not round-trip.
	for i := range pcm {
		diff := int(pcm[i]) - int(back[i])
		assert.LessOrEqual(t, abs(diff), 1, "sample %d: %v vs %v", i, pcm[i], back[i])
	}
}

func TestAlawRoundTripLength(t *testing.T) {
	alaw := make([]byte, 160)
	for i := range alaw {
		alaw[i] = byte(255 - i)
	}

	pcm := AlawToPCM16LE(alaw)
	back := PCM16LEToAlaw(pcm)

	require.Equal(t, len(alaw), len(back))
}

func TestFrameSizeBytes(t *testing.T) {
	assert.Equal(t, 160, FrameSizeBytes(8000, 20, 1))
	assert.Equal(t, 320, FrameSizeBytes(8000, 20, 2))
	assert.Equal(t, 640, FrameSizeBytes(16000, 20, 2))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
