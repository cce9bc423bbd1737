// Package audio provides the PCM plumbing for the ingest pipeline: reassembly
// of an arbitrary-sized little-endian int16 byte stream into fixed-duration
// frames, sample format conversion, and optional Opus packet decoding.
package audio

// Pipeline audio format: 16 kHz mono 16-bit PCM in 20 ms frames.
const (
	SampleRate = 16000
	FrameMs    = 20

	// FrameSamples is the number of int16 samples per frame (320).
	FrameSamples = SampleRate * FrameMs / 1000

	// FrameBytes is the size of one frame in raw PCM bytes.
	FrameBytes = FrameSamples * 2
)

// Frame is one fixed-duration block of mono int16 samples. Frames handed out
// by a Framer are freshly allocated and safe to retain.
type Frame []int16

// Framer reassembles a byte stream of little-endian int16 PCM delivered in
// arbitrary-sized chunks into complete [Frame] values, buffering any
// remainder across deliveries.
//
// A Framer belongs to a single stream and is not safe for concurrent use.
type Framer struct {
	remainder []byte
}

// Push appends data to the stream and returns all complete frames now
// available. Zero-length input returns nil. Trailing bytes that do not fill a
// whole frame are carried over to the next Push.
func (f *Framer) Push(data []byte) []Frame {
	if len(data) == 0 {
		return nil
	}

	buf := data
	if len(f.remainder) > 0 {
		buf = make([]byte, 0, len(f.remainder)+len(data))
		buf = append(buf, f.remainder...)
		buf = append(buf, data...)
		f.remainder = nil
	}

	n := len(buf) / FrameBytes
	if rest := len(buf) - n*FrameBytes; rest > 0 {
		f.remainder = make([]byte, rest)
		copy(f.remainder, buf[n*FrameBytes:])
	}
	if n == 0 {
		return nil
	}

	frames := make([]Frame, n)
	for i := range n {
		frames[i] = BytesToInt16(buf[i*FrameBytes : (i+1)*FrameBytes])
	}
	return frames
}

// Reset discards any buffered remainder.
func (f *Framer) Reset() {
	f.remainder = nil
}

// Pending returns the number of buffered bytes awaiting the next Push.
func (f *Framer) Pending() int {
	return len(f.remainder)
}
