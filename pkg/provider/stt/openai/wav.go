package openai

import (
	"encoding/binary"
	"math"
)

// encodeWAV serialises mono float32 PCM as a 16-bit little-endian WAV file.
// The transcription endpoint wants a container format; WAV is the cheapest
// one to produce in memory.
func encodeWAV(audio []float32, sampleRate int) []byte {
	dataLen := len(audio) * 2
	buf := make([]byte, 0, 44+dataLen)

	le := binary.LittleEndian
	u32 := func(v uint32) []byte {
		var b [4]byte
		le.PutUint32(b[:], v)
		return b[:]
	}
	u16 := func(v uint16) []byte {
		var b [2]byte
		le.PutUint16(b[:], v)
		return b[:]
	}

	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(uint32(36+dataLen))...)
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)                   // fmt chunk size
	buf = append(buf, u16(1)...)                    // PCM
	buf = append(buf, u16(1)...)                    // mono
	buf = append(buf, u32(uint32(sampleRate))...)   // sample rate
	buf = append(buf, u32(uint32(sampleRate*2))...) // byte rate
	buf = append(buf, u16(2)...)                    // block align
	buf = append(buf, u16(16)...)                   // bits per sample

	buf = append(buf, "data"...)
	buf = append(buf, u32(uint32(dataLen))...)
	for _, s := range audio {
		buf = append(buf, u16(uint16(floatToInt16(s)))...)
	}
	return buf
}

// floatToInt16 converts a float32 sample in [-1, 1] to int16, clamping
// out-of-range values.
func floatToInt16(s float32) int16 {
	v := float64(s) * math.MaxInt16
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
