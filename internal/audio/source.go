// Package audio provides microphone capture sources and the frame encoder
// that prepares captured samples for the transcription backend.
package audio

import (
	"context"
	"fmt"
)

// Constraints describe how the microphone should be captured. The sample
// rate and processing toggles are preferences; the device may not honor
// them exactly, so downstream encoding must tolerate the handle's actual
// rate.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints returns the capture preferences used by the product.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Handle is a live capture session. Samples delivers raw interleaved PCM
// buffers at the handle's actual rate and channel count; the channel is
// closed when the handle is released or the underlying device stops.
type Handle interface {
	Samples() <-chan []int16
	SampleRate() int
	Channels() int

	// Release stops the underlying hardware tracks. It is idempotent and
	// must be called on every exit path of the owning session.
	Release() error
}

// Source acquires an audio input device under explicit user consent.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (Handle, error)
}

// CaptureErrorKind distinguishes why a microphone could not be acquired.
type CaptureErrorKind string

const (
	// CaptureDenied means the user or platform refused access.
	CaptureDenied CaptureErrorKind = "permission_denied"
	// CaptureNoDevice means no usable input device is present.
	CaptureNoDevice CaptureErrorKind = "no_device"
	// CaptureBusy means the device is held by another process or session.
	CaptureBusy CaptureErrorKind = "device_busy"
)

// CaptureError is returned by Source.Acquire with a human-readable cause.
type CaptureError struct {
	Kind  CaptureErrorKind
	Cause error
}

func (e *CaptureError) Error() string {
	switch e.Kind {
	case CaptureDenied:
		return fmt.Sprintf("microphone access denied: %v", e.Cause)
	case CaptureNoDevice:
		return fmt.Sprintf("no microphone available: %v", e.Cause)
	case CaptureBusy:
		return fmt.Sprintf("microphone already in use: %v", e.Cause)
	}
	return fmt.Sprintf("microphone error: %v", e.Cause)
}

func (e *CaptureError) Unwrap() error { return e.Cause }
