package playback

import (
	"math"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/metrics"
)

// ProcessChunk runs one provider-supplied chunk through the §4.E.3
// per-chunk pipeline: decode, endianness probe, DC bias removal,
// resample, post-resample DC clamp, DC-block filter, and final
// companding/egress-swap. Stream-carried state (resampler, DC-block,
// probe results) is mutated on stream so subsequent chunks stay
// continuous.
func ProcessChunk(stream *StreamInfo, srcChunk []byte, callIDForMetrics string) []byte {
	pcm := srcChunk

	switch stream.SourceEncoding {
	case EncodingMulaw:
		pcm = audio.MulawToPCM16LE(srcChunk)
	case EncodingAlaw:
		pcm = audio.AlawToPCM16LE(srcChunk)
	case EncodingPCM16:
		if !stream.probedSrcEndian {
			stream.srcEndianSwapped = audio.ProbeEndianness(pcm, 960)
			stream.probedSrcEndian = true
		}
		if stream.srcEndianSwapped {
			pcm = audio.SwapPCM16(pcm)
		}
	}

	if dc := audio.DCOffset(pcm); math.Abs(dc) >= 1024 {
		pcm = audio.RemoveDCBias(pcm, dc)
	}

	if stream.SourceRate != stream.TargetRate {
		out, st := audio.Resample(pcm, stream.SourceRate, stream.TargetRate, stream.resampleState)
		stream.resampleState = st
		pcm = out
	}

	if dc := audio.DCOffset(pcm); math.Abs(dc) >= 256 {
		pcm = audio.RemoveDCBias(pcm, dc)
	}

	if stream.TargetEncoding == EncodingPCM16 {
		out, st := audio.ApplyDCBlock(pcm, stream.dcBlockState)
		stream.dcBlockState = st
		pcm = out
	}

	switch stream.TargetEncoding {
	case EncodingMulaw:
		return audio.PCM16LEToMulaw(pcm)
	case EncodingAlaw:
		return audio.PCM16LEToAlaw(pcm)
	case EncodingPCM16:
		return applyEgressSwap(stream, pcm, callIDForMetrics)
	default:
		return pcm
	}
}

// applyEgressSwap implements the §4.E.3 egress probe: on the first PCM16
// egress frame, compare native vs byte-swapped RMS and latch egress_swap
// permanently for the stream when the ratio is conclusive. force_true and
// force_false short-circuit the probe entirely.
func applyEgressSwap(stream *StreamInfo, pcm []byte, callID string) []byte {
	switch stream.EgressSwapMode {
	case SwapForceTrue:
		return audio.SwapPCM16(pcm)
	case SwapForceFalse:
		return pcm
	default:
		if !stream.probedEgress {
			stream.probedEgress = true
			rmsNative := audio.RMS(pcm)
			rmsSwapped := audio.RMS(audio.SwapPCM16(pcm))
			if rmsSwapped >= math.Max(512, 4*rmsNative) {
				stream.EgressSwap = true
				metrics.StreamEndianCorrectionsTotal.WithLabelValues(callID, "auto").Inc()
			}
		}
		if stream.EgressSwap {
			return audio.SwapPCM16(pcm)
		}
		return pcm
	}
}
