package audio

import "encoding/binary"

// BytesToInt16 converts little-endian PCM bytes to int16 samples. Any
// trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := range n {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return samples
}

// Int16ToBytes converts int16 samples to little-endian PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], uint16(s))
	}
	return b
}

// Int16ToFloat32 converts int16 samples to float32 normalised to the range
// [-1.0, 1.0), the input format expected by speech-to-text backends.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Concat joins frames into one contiguous sample buffer.
func Concat(frames []Frame) []int16 {
	var total int
	for _, f := range frames {
		total += len(f)
	}
	out := make([]int16, 0, total)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
