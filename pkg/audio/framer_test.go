package audio

import "testing"

// pcmBytes builds a little-endian byte stream from sequential sample values.
func pcmBytes(n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i)
	}
	return Int16ToBytes(samples)
}

func TestFramerExactFrames(t *testing.T) {
	var f Framer
	frames := f.Push(pcmBytes(FrameSamples * 3))
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, fr := range frames {
		if len(fr) != FrameSamples {
			t.Fatalf("frame %d has %d samples, want %d", i, len(fr), FrameSamples)
		}
	}
	if f.Pending() != 0 {
		t.Errorf("pending = %d, want 0", f.Pending())
	}
}

func TestFramerRemainderCarriesOver(t *testing.T) {
	var f Framer

	// Half a frame: nothing emitted, remainder buffered.
	if frames := f.Push(pcmBytes(FrameSamples / 2)); frames != nil {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
	if f.Pending() != FrameSamples {
		t.Fatalf("pending = %d bytes, want %d", f.Pending(), FrameSamples)
	}

	// The other half plus a quarter: one frame out, quarter left over.
	frames := f.Push(pcmBytes(FrameSamples/2 + FrameSamples/4))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if f.Pending() != FrameSamples/2 {
		t.Errorf("pending = %d bytes, want %d", f.Pending(), FrameSamples/2)
	}
}

func TestFramerPreservesSampleOrder(t *testing.T) {
	var f Framer
	want := make([]int16, FrameSamples+10)
	for i := range want {
		want[i] = int16(i * 3)
	}
	raw := Int16ToBytes(want)

	var got []int16
	got = append(got, Concat(f.Push(raw[:7]))...)
	got = append(got, Concat(f.Push(raw[7:]))...)

	if len(got) != FrameSamples {
		t.Fatalf("emitted %d samples, want %d (10 samples remain buffered)", len(got), FrameSamples)
	}
	for i, s := range got {
		if s != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, s, want[i])
		}
	}
}

func TestFramerReset(t *testing.T) {
	var f Framer
	f.Push(pcmBytes(10))
	f.Reset()
	if f.Pending() != 0 {
		t.Errorf("pending after reset = %d, want 0", f.Pending())
	}
}

func TestInt16Float32RoundTrip(t *testing.T) {
	in := []int16{-32768, -1, 0, 1, 32767}
	out := Int16ToFloat32(in)
	if out[0] != -1.0 {
		t.Errorf("min sample = %f, want -1.0", out[0])
	}
	if out[2] != 0 {
		t.Errorf("zero sample = %f, want 0", out[2])
	}
	if out[4] >= 1.0 {
		t.Errorf("max sample = %f, want < 1.0", out[4])
	}
}
