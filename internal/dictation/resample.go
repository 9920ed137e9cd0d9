package dictation

import "encoding/binary"

// TargetRate is the sample rate the transcription service expects.
const TargetRate = 16000

// resample converts a mono float32 frame from srcRate to dstRate by linear
// interpolation. Rates being equal returns the input unchanged.
func resample(in []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(in) == 0 {
		return in
	}
	ratio := float64(srcRate) / float64(dstRate)
	n := int(float64(len(in)) / ratio)
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

// pcm16 converts float32 samples in [-1, 1] to little-endian signed 16-bit.
// Out-of-range samples are clamped.
func pcm16(in []float32) []byte {
	out := make([]byte, len(in)*2)
	for i, s := range in {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
