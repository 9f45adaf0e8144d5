package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	soxr "github.com/zaf/resample"
)

// Frame is one fixed-interval chunk of mono 16-bit little-endian PCM at the
// encoder's target rate, ready for the transcription transport.
type Frame struct {
	PCM     []byte
	Samples int
}

// Base64 returns the frame payload in the encoding the wire expects.
func (f Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.PCM)
}

// Encoder converts raw captured samples into wire frames: downmix to mono,
// resample to the target rate if the device rate differs, then chunk at a
// fixed interval. Leftover samples are carried into the next call so no
// audio is dropped between chunks.
type Encoder struct {
	srcRate     int
	srcChannels int
	targetRate  int

	frameSamples int

	mu          sync.Mutex
	resampler   *soxr.Resampler
	resampleBuf *bytes.Buffer
	inputBytes  []byte
	remaining   []int16
	closed      bool
}

// NewEncoder creates an encoder from the capture format to targetRate mono
// frames of frameInterval duration.
func NewEncoder(srcRate, srcChannels, targetRate int, frameInterval time.Duration) (*Encoder, error) {
	if srcRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: src=%d target=%d", srcRate, targetRate)
	}
	if srcChannels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", srcChannels)
	}

	frameSamples := int(time.Duration(targetRate) * frameInterval / time.Second)
	if frameSamples <= 0 {
		return nil, fmt.Errorf("frame interval %v too short for %dHz", frameInterval, targetRate)
	}

	e := &Encoder{
		srcRate:      srcRate,
		srcChannels:  srcChannels,
		targetRate:   targetRate,
		frameSamples: frameSamples,
		remaining:    make([]int16, 0, frameSamples),
	}

	if srcRate != targetRate {
		// The resampler writes into resampleBuf, which we drain per call.
		buf := &bytes.Buffer{}
		r, err := soxr.New(buf, float64(srcRate), float64(targetRate), 1, soxr.I16, soxr.HighQ)
		if err != nil {
			return nil, fmt.Errorf("create resampler: %w", err)
		}
		e.resampler = r
		e.resampleBuf = buf
	}

	return e, nil
}

// FrameSamples reports the number of target-rate samples per full frame.
func (e *Encoder) FrameSamples() int { return e.frameSamples }

// Encode consumes a buffer of interleaved capture samples and returns the
// complete frames now available. The returned slice is often empty while
// the encoder accumulates toward a full chunk.
func (e *Encoder) Encode(in []int16) ([]Frame, error) {
	if len(in) == 0 {
		return nil, nil
	}

	mono := downmix(in, e.srcChannels)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("encoder closed")
	}

	out := mono
	if e.resampler != nil {
		resampled, err := e.resample(mono)
		if err != nil {
			return nil, err
		}
		out = resampled
	}

	e.remaining = append(e.remaining, out...)

	var frames []Frame
	for len(e.remaining) >= e.frameSamples {
		chunk := e.remaining[:e.frameSamples]
		frames = append(frames, Frame{PCM: samplesToBytes(chunk), Samples: e.frameSamples})
		e.remaining = e.remaining[e.frameSamples:]
	}
	if len(frames) > 0 {
		// Compact to keep the backing array from growing unbounded.
		rest := make([]int16, len(e.remaining), e.frameSamples)
		copy(rest, e.remaining)
		e.remaining = rest
	}

	return frames, nil
}

// EncodeFloats converts float samples in [-1, 1] and encodes them. Values
// are clamped before integer conversion to avoid overflow at the boundary.
func (e *Encoder) EncodeFloats(in []float32) ([]Frame, error) {
	if len(in) == 0 {
		return nil, nil
	}
	pcm := make([]int16, len(in))
	for i, s := range in {
		pcm[i] = floatToPCM(s)
	}
	return e.Encode(pcm)
}

// Flush returns any buffered partial frame. Called once when capture ends
// so the tail of the recording is not lost.
func (e *Encoder) Flush() (Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.remaining) == 0 {
		return Frame{}, false
	}
	f := Frame{PCM: samplesToBytes(e.remaining), Samples: len(e.remaining)}
	e.remaining = e.remaining[:0]
	return f, true
}

// Close releases the resampler. The encoder is unusable afterwards.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.resampler != nil {
		return e.resampler.Close()
	}
	return nil
}

func (e *Encoder) resample(mono []int16) ([]int16, error) {
	size := len(mono) * 2
	if cap(e.inputBytes) < size {
		e.inputBytes = make([]byte, size)
	}
	in := e.inputBytes[:size]
	for i, s := range mono {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(s))
	}

	e.resampleBuf.Reset()
	if _, err := e.resampler.Write(in); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	outBytes := e.resampleBuf.Bytes()
	if len(outBytes) == 0 {
		// The resampler buffers internally near chunk edges.
		return nil, nil
	}

	out := make([]int16, len(outBytes)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(outBytes[i*2:]))
	}
	return out, nil
}

// downmix averages interleaved channels into mono.
func downmix(in []int16, channels int) []int16 {
	if channels == 1 {
		return in
	}
	out := make([]int16, len(in)/channels)
	for i := range out {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(in[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// floatToPCM clamps to [-1, 1] and scales asymmetrically so both extremes
// map onto the int16 range without overflow.
func floatToPCM(s float32) int16 {
	if s < -1 {
		s = -1
	} else if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

func samplesToBytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, s := range in {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
