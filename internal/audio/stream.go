package audio

import (
	"sync"
)

// StreamHandle is a Handle fed by an external producer, used when the
// microphone lives on the other side of a network stream (the browser
// client) and decoded PCM is pushed in as it arrives.
type StreamHandle struct {
	sampleRate int
	channels   int
	samples    chan []int16

	mu       sync.Mutex
	released bool
}

// NewStreamHandle creates a push-fed capture handle.
func NewStreamHandle(sampleRate, channels int) *StreamHandle {
	return &StreamHandle{
		sampleRate: sampleRate,
		channels:   channels,
		samples:    make(chan []int16, 32),
	}
}

func (h *StreamHandle) Samples() <-chan []int16 { return h.samples }
func (h *StreamHandle) SampleRate() int         { return h.sampleRate }
func (h *StreamHandle) Channels() int           { return h.channels }

// Push delivers a buffer of interleaved samples. It reports false once the
// handle has been released or when the consumer cannot keep up.
func (h *StreamHandle) Push(samples []int16) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}

	select {
	case h.samples <- samples:
		return true
	default:
		return false
	}
}

// Release closes the sample stream. Safe to call multiple times.
func (h *StreamHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	close(h.samples)
	return nil
}
