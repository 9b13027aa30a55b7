package openai

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	audio := []float32{0, 0.5, -0.5, 1.0, -1.0, 2.0, -2.0}
	wav := encodeWAV(audio, 16000)

	if len(wav) != 44+len(audio)*2 {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(audio)*2)
	}
	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if sr := binary.LittleEndian.Uint32(wav[24:28]); sr != 16000 {
		t.Errorf("sample rate = %d", sr)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != 16 {
		t.Errorf("bits per sample = %d", bits)
	}
	if dataLen := binary.LittleEndian.Uint32(wav[40:44]); dataLen != uint32(len(audio)*2) {
		t.Errorf("data length = %d", dataLen)
	}

	// Out-of-range samples clamp instead of wrapping.
	samples := wav[44:]
	s := func(i int) int16 {
		return int16(binary.LittleEndian.Uint16(samples[i*2 : i*2+2]))
	}
	if s(0) != 0 {
		t.Errorf("sample 0 = %d", s(0))
	}
	if s(5) != 32767 {
		t.Errorf("clipped positive sample = %d, want 32767", s(5))
	}
	if s(6) != -32768 {
		t.Errorf("clipped negative sample = %d, want -32768", s(6))
	}
}
