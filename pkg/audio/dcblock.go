package audio

// dcBlockR is the pole of the first-order DC-block filter applied to
// PCM16 egress: y[n] = x[n] - x[n-1] + r*y[n-1].
const dcBlockR = 0.995

// DCBlockState carries the previous input and output sample of the
// DC-block filter across chunk boundaries.
type DCBlockState struct {
	prevX float64
	prevY float64
}

// ApplyDCBlock runs the first-order DC-block filter over a little-endian
// PCM16 buffer, carrying state across calls so a stream's filter output is
// continuous regardless of how it is chunked. A nil state is treated as
// filter-at-rest (prevX=prevY=0).
func ApplyDCBlock(pcm16 []byte, state *DCBlockState) ([]byte, *DCBlockState) {
	st := state
	if st == nil {
		st = &DCBlockState{}
	}

	samples := leToSamples(pcm16)
	out := make([]int16, len(samples))
	prevX, prevY := st.prevX, st.prevY
	for i, s := range samples {
		x := float64(s)
		y := x - prevX + dcBlockR*prevY
		out[i] = clampInt16(y)
		prevX = x
		prevY = y
	}
	st.prevX, st.prevY = prevX, prevY

	return samplesToLE(out), st
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
