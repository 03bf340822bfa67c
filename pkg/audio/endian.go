package audio

import "math"

// SwapPCM16 byte-swaps every 16-bit sample in a little-endian PCM16
// buffer in place semantics (a new buffer is returned; the input is not
// mutated).
func SwapPCM16(pcm16 []byte) []byte {
	out := make([]byte, len(pcm16))
	copy(out, pcm16)
	for i := 0; i+1 < len(out); i += 2 {
		out[i], out[i+1] = out[i+1], out[i]
	}
	return out
}

// rmsAndDC computes the RMS level and DC offset (mean) of a little-endian
// PCM16 buffer.
func rmsAndDC(pcm16 []byte) (rms float64, dc float64) {
	samples := leToSamples(pcm16)
	if len(samples) == 0 {
		return 0, 0
	}
	var sumSq, sum float64
	for _, s := range samples {
		f := float64(s)
		sumSq += f * f
		sum += f
	}
	n := float64(len(samples))
	return math.Sqrt(sumSq / n), sum / n
}

// ProbeEndianness inspects up to windowBytes of a PCM16 buffer and decides
// whether the stream prefers byte-swapped interpretation, per the ingress
// endianness-probe rule: compute RMS and DC offset of the native and
// byte-swapped windows; prefer swapped when either
//
//	rms_swapped >= max(1024, 4*rms_native)
//
// or
//
//	|avg_native| >= 8*|avg_swapped| AND rms_swapped >= max(256, rms_native/2)
func ProbeEndianness(pcm16 []byte, windowBytes int) bool {
	if windowBytes <= 0 || windowBytes > len(pcm16) {
		windowBytes = len(pcm16)
	}
	// windows must be an even number of bytes to stay sample-aligned.
	windowBytes -= windowBytes % 2
	window := pcm16[:windowBytes]

	rmsNative, dcNative := rmsAndDC(window)
	rmsSwapped, dcSwapped := rmsAndDC(SwapPCM16(window))

	if rmsSwapped >= math.Max(1024, 4*rmsNative) {
		return true
	}
	if math.Abs(dcNative) >= 8*math.Abs(dcSwapped) && rmsSwapped >= math.Max(256, rmsNative/2) {
		return true
	}
	return false
}

// RMS returns the root-mean-square level of a little-endian PCM16 buffer,
// normalized to full-scale int16 units (not the [-1,1] float range).
func RMS(pcm16 []byte) float64 {
	rms, _ := rmsAndDC(pcm16)
	return rms
}

// DCOffset returns the mean sample value (DC bias) of a little-endian
// PCM16 buffer.
func DCOffset(pcm16 []byte) float64 {
	_, dc := rmsAndDC(pcm16)
	return dc
}

// RemoveDCBias subtracts a fixed bias from every PCM16 sample, clamping to
// int16 range.
func RemoveDCBias(pcm16 []byte, bias float64) []byte {
	samples := leToSamples(pcm16)
	for i, s := range samples {
		v := float64(s) - bias
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		samples[i] = int16(v)
	}
	return samplesToLE(samples)
}
