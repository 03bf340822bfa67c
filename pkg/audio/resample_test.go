package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWavePCM16(numSamples int, freqHz, sampleRateHz float64) []byte {
	samples := make([]int16, numSamples)
	for i := range samples {
		t := float64(i) / sampleRateHz
		samples[i] = int16(10000 * math.Sin(2*math.Pi*freqHz*t))
	}
	return samplesToLE(samples)
}

func TestResampleIdentityReturnsInputAndNilState(t *testing.T) {
	in := sineWavePCM16(160, 440, 8000)
	out, state := Resample(in, 8000, 8000, nil)

	require.Equal(t, in, out)
	require.Nil(t, state)
}

func TestResampleLengthAccurateUpsample(t *testing.T) {
	in := sineWavePCM16(160, 440, 8000) // 20ms @ 8kHz
	out, state := Resample(in, 8000, 16000, nil)

	wantSamples := 320 // 20ms @ 16kHz
	require.NotNil(t, state)
	assert.Equal(t, wantSamples*BytesPerSample, len(out))
}

func TestResampleLengthAccurateDownsample(t *testing.T) {
	in := sineWavePCM16(320, 440, 16000) // 20ms @ 16kHz
	out, state := Resample(in, 16000, 8000, nil)

	wantSamples := 160 // 20ms @ 8kHz
	require.NotNil(t, state)
	assert.Equal(t, wantSamples*BytesPerSample, len(out))
}

func TestResampleCarriesStateAcrossChunks(t *testing.T) {
	var state *ResampleState
	totalOutSamples := 0

	// Ten 20ms chunks at 8kHz resampled to 16kHz.
	for i := 0; i < 10; i++ {
		chunk := sineWavePCM16(160, 440, 8000)
		out, st := Resample(chunk, 8000, 16000, state)
		state = st
		totalOutSamples += len(out) / BytesPerSample
	}

	// Length-accurate within one sample per chunk of carried drift.
	want := 10 * 320
	assert.InDelta(t, want, totalOutSamples, 10)
}
