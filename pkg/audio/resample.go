package audio

import "math"

// ResampleState carries a fractional-resampler's position between chunks
// so that a stream resampled in pieces stays sample-accurate, plus the
// last input sample of the previous chunk for interpolation continuity
// at a chunk boundary.
type ResampleState struct {
	pos         float64 // fractional offset, in source-sample units, into the next chunk
	prevSample  int16
	havePrev    bool
}

// Resample converts little-endian PCM16 from srcHz to dstHz using linear
// interpolation, carrying state across calls. Supported rates are any of
// 8000, 16000, 24000, 48000 as src or dst. When srcHz == dstHz the input
// is returned unchanged and the state becomes nil, per contract.
func Resample(pcm16le []byte, srcHz, dstHz int, state *ResampleState) ([]byte, *ResampleState) {
	if srcHz == dstHz {
		return pcm16le, nil
	}
	in := leToSamples(pcm16le)
	if len(in) == 0 {
		return nil, state
	}

	st := state
	if st == nil {
		st = &ResampleState{}
	}

	ratio := float64(srcHz) / float64(dstHz) // source samples consumed per output sample
	nOut := int(math.Ceil(float64(len(in)) * float64(dstHz) / float64(srcHz)))

	sampleAt := func(idx int) int16 {
		switch {
		case idx < 0:
			if st.havePrev {
				return st.prevSample
			}
			return in[0]
		case idx >= len(in):
			return in[len(in)-1]
		default:
			return in[idx]
		}
	}

	out := make([]int16, nOut)
	pos := st.pos
	for i := 0; i < nOut; i++ {
		i0 := int(math.Floor(pos))
		frac := pos - float64(i0)
		s0 := float64(sampleAt(i0))
		s1 := float64(sampleAt(i0 + 1))
		out[i] = int16(math.Round(s0 + (s1-s0)*frac))
		pos += ratio
	}

	st.pos = pos - float64(len(in))
	st.prevSample = in[len(in)-1]
	st.havePrev = true

	return samplesToLE(out), st
}
