package audio

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/syedabdeen/minutevault/internal/logging"
)

// DeviceSource captures from a local input device via portaudio. The caller
// owns portaudio.Initialize/Terminate for the process lifetime.
type DeviceSource struct {
	// BufferedChunks bounds the capture channel; chunks are dropped when
	// the consumer falls behind, to avoid blocking the real-time callback.
	BufferedChunks int
}

// NewDeviceSource creates a portaudio-backed Source.
func NewDeviceSource() *DeviceSource {
	return &DeviceSource{BufferedChunks: 16}
}

// Acquire opens the default input device.
func (s *DeviceSource) Acquire(ctx context.Context, c Constraints) (Handle, error) {
	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, &CaptureError{Kind: CaptureNoDevice, Cause: err}
	}

	channels := c.Channels
	if channels <= 0 || channels > device.MaxInputChannels {
		channels = 1
	}

	// The requested rate is a preference; fall back to the device rate and
	// let the encoder resample.
	rate := float64(c.SampleRate)
	if rate <= 0 {
		rate = device.DefaultSampleRate
	}

	h := &deviceHandle{
		sampleRate: int(rate),
		channels:   channels,
		samples:    make(chan []int16, s.BufferedChunks),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      rate,
		FramesPerBuffer: int(rate) / 10, // 100ms capture buffers
	}

	stream, err := portaudio.OpenStream(params, h.onInput)
	if err != nil {
		// Retry at the device's native rate before giving up.
		if rate != device.DefaultSampleRate {
			params.SampleRate = device.DefaultSampleRate
			params.FramesPerBuffer = int(device.DefaultSampleRate) / 10
			stream, err = portaudio.OpenStream(params, h.onInput)
			h.sampleRate = int(device.DefaultSampleRate)
		}
		if err != nil {
			return nil, classifyOpenError(err)
		}
		logging.Warning(logging.CategoryAudio, "device rejected %dHz, capturing at native %dHz", c.SampleRate, h.sampleRate)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, classifyOpenError(err)
	}

	h.stream = stream
	logging.Info(logging.CategoryAudio, "capture started device=%s rate=%d channels=%d", device.Name, h.sampleRate, channels)
	return h, nil
}

func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unavailable") || strings.Contains(msg, "in use") || strings.Contains(msg, "busy"):
		return &CaptureError{Kind: CaptureBusy, Cause: err}
	case strings.Contains(msg, "no device") || strings.Contains(msg, "invalid device"):
		return &CaptureError{Kind: CaptureNoDevice, Cause: err}
	case strings.Contains(msg, "denied") || strings.Contains(msg, "permission"):
		return &CaptureError{Kind: CaptureDenied, Cause: err}
	}
	return &CaptureError{Kind: CaptureNoDevice, Cause: fmt.Errorf("open input stream: %w", err)}
}

type deviceHandle struct {
	stream     *portaudio.Stream
	sampleRate int
	channels   int

	samples     chan []int16
	releaseOnce sync.Once
	releasedMu  sync.Mutex
	released    bool
}

func (h *deviceHandle) Samples() <-chan []int16 { return h.samples }
func (h *deviceHandle) SampleRate() int         { return h.sampleRate }
func (h *deviceHandle) Channels() int           { return h.channels }

// onInput runs on the portaudio callback thread; it must not block.
func (h *deviceHandle) onInput(in []int16) {
	if len(in) == 0 {
		return
	}

	h.releasedMu.Lock()
	released := h.released
	h.releasedMu.Unlock()
	if released {
		return
	}

	buf := make([]int16, len(in))
	copy(buf, in)

	select {
	case h.samples <- buf:
	default:
		logging.Warning(logging.CategoryAudio, "capture buffer full, dropping %d samples", len(buf))
	}
}

// Release stops and closes the stream. Safe to call multiple times.
func (h *deviceHandle) Release() error {
	var err error
	h.releaseOnce.Do(func() {
		h.releasedMu.Lock()
		h.released = true
		h.releasedMu.Unlock()

		if h.stream != nil {
			if stopErr := h.stream.Stop(); stopErr != nil {
				err = fmt.Errorf("stop input stream: %w", stopErr)
			}
			if closeErr := h.stream.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close input stream: %w", closeErr)
			}
		}
		close(h.samples)
		logging.Info(logging.CategoryAudio, "capture released rate=%d", h.sampleRate)
	})
	return err
}
