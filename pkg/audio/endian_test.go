package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeEndiannessPrefersSwappedOnHighRMSRatio(t *testing.T) {
	samples := leToSamples(sineWavePCM16(480, 440, 8000))
	for i := range samples {
		samples[i] /= 100
	}
	quiet := samplesToLE(samples)

	// Read as-is the buffer is a quiet signal (RMS ~70); byte-swapped it
	// reads as a loud one (RMS ~17900), well past max(1024, 4*native).
	prefer := ProbeEndianness(quiet, 960)
	assert.True(t, prefer)
}

func TestProbeEndiannessPrefersNativeOnPlausibleSignal(t *testing.T) {
	native := sineWavePCM16(480, 440, 8000)
	prefer := ProbeEndianness(native, 960)
	assert.False(t, prefer)
}

func TestSwapPCM16RoundTrip(t *testing.T) {
	in := sineWavePCM16(16, 440, 8000)
	out := SwapPCM16(SwapPCM16(in))
	assert.Equal(t, in, out)
}

func TestRemoveDCBiasClampsToDCThreshold(t *testing.T) {
	samples := []int16{1100, 1100, 1100, 1100}
	pcm := samplesToLE(samples)

	dc := DCOffset(pcm)
	assert.GreaterOrEqual(t, dc, 1024.0)

	cleaned := RemoveDCBias(pcm, dc)
	assert.InDelta(t, 0, DCOffset(cleaned), 1)
}
