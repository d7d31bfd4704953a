// Package audio holds the PCM helpers shared by the capture pipeline:
// resampling, byte decoding, WAV encoding and level measurement. All
// functions operate on mono float32 samples in [-1, 1].
package audio

import (
	"fmt"
	"math"
)

// Resample converts samples from srcRate to dstRate using linear
// interpolation. When the rates are equal the input slice is returned
// unchanged (no copy). The output length is round(len(samples)/ratio)
// with ratio = srcRate/dstRate, and interpolation clamps at the final
// input sample so no read ever passes the end of the slice.
//
// Plain linear interpolation has no anti-aliasing filter; fine for
// speech model preprocessing, not for playback.
func Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate {
		return samples, nil
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(math.Round(float64(len(samples)) / ratio))
	if outLen == 0 {
		return []float32{}, nil
	}

	out := make([]float32, outLen)
	last := len(samples) - 1
	for i := range out {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		if i0 > last {
			i0 = last
		}
		frac := float32(srcPos - float64(i0))

		v0 := samples[i0]
		v1 := v0
		if i0 < last {
			v1 = samples[i0+1]
		}
		out[i] = v0 + (v1-v0)*frac
	}
	return out, nil
}
