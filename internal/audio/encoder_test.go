package audio

import (
	"testing"
	"time"
)

func TestEncoderChunking(t *testing.T) {
	// 100ms frames at 16kHz = 1600 samples per frame.
	e, err := NewEncoder(16000, 1, 16000, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	defer e.Close()

	if got := e.FrameSamples(); got != 1600 {
		t.Fatalf("FrameSamples = %d, want 1600", got)
	}

	// 1000 samples: not enough for a frame yet.
	frames, err := e.Encode(make([]int16, 1000))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}

	// 2500 more: 3500 total = 2 full frames + 300 remainder.
	frames, err = e.Encode(make([]int16, 2500))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Samples != 1600 {
			t.Errorf("frame %d: Samples = %d, want 1600", i, f.Samples)
		}
		if len(f.PCM) != 3200 {
			t.Errorf("frame %d: len(PCM) = %d, want 3200", i, len(f.PCM))
		}
	}

	tail, ok := e.Flush()
	if !ok {
		t.Fatal("expected a flushed tail frame")
	}
	if tail.Samples != 300 {
		t.Errorf("tail Samples = %d, want 300", tail.Samples)
	}

	// Flush drains the remainder.
	if _, ok := e.Flush(); ok {
		t.Error("second Flush should report no data")
	}
}

func TestEncoderPreservesDuration(t *testing.T) {
	e, err := NewEncoder(16000, 1, 16000, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	defer e.Close()

	const total = 16000 // one second
	emitted := 0
	for sent := 0; sent < total; sent += 777 {
		n := 777
		if total-sent < n {
			n = total - sent
		}
		frames, err := e.Encode(make([]int16, n))
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		for _, f := range frames {
			emitted += f.Samples
		}
	}
	if tail, ok := e.Flush(); ok {
		emitted += tail.Samples
	}
	if emitted != total {
		t.Fatalf("emitted %d samples, want %d", emitted, total)
	}
}

func TestFloatToPCMClamping(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"positive full scale", 1.0, 32767},
		{"negative full scale", -1.0, -32768},
		{"positive overflow", 1.5, 32767},
		{"negative overflow", -1.5, -32768},
		{"half scale", 0.5, 16383},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := floatToPCM(tt.in); got != tt.want {
				t.Errorf("floatToPCM(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDownmixStereo(t *testing.T) {
	in := []int16{100, 200, -100, -200, 0, 1000}
	out := downmix(in, 2)
	want := []int16{150, -150, 500}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestSamplesToBytesLittleEndian(t *testing.T) {
	got := samplesToBytes([]int16{0, 1, -1, 32767, -32768})
	want := []byte{0x00, 0x00, 0x01, 0x00, 0xFF, 0xFF, 0xFF, 0x7F, 0x00, 0x80}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = 0x%02X, want 0x%02X", i, got[i], want[i])
		}
	}
}

func TestEncodeAfterCloseFails(t *testing.T) {
	e, err := NewEncoder(16000, 1, 16000, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := e.Encode(make([]int16, 100)); err == nil {
		t.Error("Encode after Close should fail")
	}
}
