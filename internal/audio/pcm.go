package audio

import (
	"encoding/binary"
	"math"
)

// DecodeS16LE converts little-endian signed 16-bit PCM bytes to float32
// samples in [-1, 1). A trailing odd byte is dropped.
func DecodeS16LE(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// DecodeF32LE converts little-endian IEEE 754 32-bit float PCM bytes to
// float32 samples. Trailing bytes that do not fill a frame are dropped.
func DecodeF32LE(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// EncodeF32LE converts float32 samples to little-endian IEEE 754 32-bit
// float PCM bytes, the inverse of DecodeF32LE.
func EncodeF32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// RMS returns the root mean square level of samples. Empty input is 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
