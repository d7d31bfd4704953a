package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestDecodeS16LE(t *testing.T) {
	data := []byte{
		0x00, 0x00, // 0
		0xFF, 0x7F, // 32767
		0x00, 0x80, // -32768
	}
	out := DecodeS16LE(data)
	want := []float32{0, 32767.0 / 32768.0, -1}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestDecodeS16LEDropsOddTail(t *testing.T) {
	out := DecodeS16LE([]byte{0x00, 0x40, 0x7F})
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
}

func TestDecodeF32LE(t *testing.T) {
	samples := []float32{0.5, -0.25, 1}
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	out := DecodeF32LE(data)
	if len(out) != len(samples) {
		t.Fatalf("len = %d, want %d", len(out), len(samples))
	}
	for i := range samples {
		if out[i] != samples[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], samples[i])
		}
	}

	// Partial trailing frame is dropped.
	if got := DecodeF32LE(data[:5]); len(got) != 1 {
		t.Errorf("truncated len = %d, want 1", len(got))
	}
}

func TestEncodeF32LERoundtrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.25, 1, -1}
	out := DecodeF32LE(EncodeF32LE(samples))
	if len(out) != len(samples) {
		t.Fatalf("len = %d, want %d", len(out), len(samples))
	}
	for i := range samples {
		if out[i] != samples[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], samples[i])
		}
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want float64
	}{
		{"empty", nil, 0},
		{"silence", []float32{0, 0, 0, 0}, 0},
		{"half amplitude", []float32{0.5, -0.5, 0.5, -0.5}, 0.5},
		{"full scale", []float32{1, -1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMS(tt.in)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %v, want %v", got, tt.want)
			}
		})
	}
}
