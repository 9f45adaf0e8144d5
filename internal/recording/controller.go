// Package recording orchestrates microphone capture, frame encoding and the
// transcription session for a single recording, exposing a start/stop
// contract to the surrounding application.
package recording

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/syedabdeen/minutevault/internal/audio"
	"github.com/syedabdeen/minutevault/internal/logging"
	"github.com/syedabdeen/minutevault/internal/transcribe"
)

// ErrSessionActive is returned when start is requested while a recording is
// already running. The prior session is never stopped implicitly.
var ErrSessionActive = errors.New("a recording session is already active")

// ErrEmptyTitle is returned when start is requested without a title.
var ErrEmptyTitle = errors.New("recording title must not be empty")

// ErrTornDown is returned by Start when a teardown arrived while the start
// was still in flight, typically during the microphone consent prompt.
var ErrTornDown = errors.New("recording torn down during start")

// FinalTranscript is the result handed to the persistence collaborator at
// the end of a session.
type FinalTranscript struct {
	Title           string               `json:"title"`
	StartedAt       time.Time            `json:"startedAt"`
	DurationSeconds float64              `json:"durationSeconds"`
	SpeakerCount    int                  `json:"speakerCount"`
	Segments        []transcribe.Segment `json:"segments"`
}

// Status is the derived read-only state exposed for UI binding.
type Status struct {
	Phase        transcribe.Phase `json:"phase"`
	Connecting   bool             `json:"connecting"`
	Connected    bool             `json:"connected"`
	Title        string           `json:"title,omitempty"`
	PartialText  string           `json:"partialText,omitempty"`
	SpeakerCount int              `json:"speakerCount"`
	ElapsedMs    int64            `json:"elapsedMs"`
	LastError    string           `json:"lastError,omitempty"`
}

// SessionOptions are the per-deployment session settings the controller
// passes through to each transcription session.
type SessionOptions struct {
	BackendURL     string
	Tokens         transcribe.TokenSource
	ConnectTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	CommitGrace    time.Duration
	FrameInterval  time.Duration
	SampleRate     int
	Sink           transcribe.Sink
}

// Controller drives one recording at a time.
type Controller struct {
	source audio.Source
	opts   SessionOptions

	mu        sync.Mutex
	starting  bool
	gen       uint64 // increments per admitted start
	tornGen   uint64 // highest generation torn down
	title     string
	startedAt time.Time
	session   *transcribe.Session
	acc       *transcribe.Accumulator
	lastErr   string
}

// NewController creates a controller over the given microphone source.
func NewController(source audio.Source, opts SessionOptions) *Controller {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 200 * time.Millisecond
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	return &Controller{source: source, opts: opts}
}

// Start validates the title, acquires the microphone and connects the
// transcription session. It returns once the session is streaming or with
// the reason it could not start.
func (c *Controller) Start(ctx context.Context, title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}

	c.mu.Lock()
	if c.starting || (c.session != nil && !terminal(c.session.Phase())) {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.starting = true
	c.gen++
	myGen := c.gen

	acc := transcribe.NewAccumulator()
	c.acc = acc
	c.title = title
	c.lastErr = ""
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	constraints := audio.DefaultConstraints()
	constraints.SampleRate = c.opts.SampleRate

	handle, err := c.source.Acquire(ctx, constraints)
	if err != nil {
		c.recordErr(err)
		return fmt.Errorf("acquire microphone: %w", err)
	}

	encoder, err := audio.NewEncoder(handle.SampleRate(), handle.Channels(), c.opts.SampleRate, c.opts.FrameInterval)
	if err != nil {
		handle.Release()
		c.recordErr(err)
		return fmt.Errorf("create frame encoder: %w", err)
	}

	release := func() {
		if rerr := handle.Release(); rerr != nil {
			logging.Warning(logging.CategoryRecording, "microphone release: %v", rerr)
		}
		if cerr := encoder.Close(); cerr != nil {
			logging.Warning(logging.CategoryRecording, "encoder close: %v", cerr)
		}
	}

	session := transcribe.NewSession(transcribe.Options{
		BackendURL:     c.opts.BackendURL,
		Tokens:         c.opts.Tokens,
		ConnectTimeout: c.opts.ConnectTimeout,
		MaxRetries:     c.opts.MaxRetries,
		RetryBackoff:   c.opts.RetryBackoff,
		CommitGrace:    c.opts.CommitGrace,
		Sink:           c.opts.Sink,
	}, acc, release)

	c.mu.Lock()
	// A teardown may have arrived while Acquire was suspended on the
	// consent prompt; honor it instead of connecting.
	if c.tornGen >= myGen {
		c.mu.Unlock()
		release()
		return ErrTornDown
	}
	c.session = session
	c.startedAt = time.Now()
	c.mu.Unlock()

	frames := pumpFrames(handle, encoder)

	if err := session.Start(ctx, frames); err != nil {
		c.recordErr(err)
		return err
	}

	logging.Info(logging.CategoryRecording, "recording started title=%q", title)
	return nil
}

// pumpFrames encodes captured samples into wire frames until the handle's
// sample stream closes, then flushes the encoder tail.
func pumpFrames(handle audio.Handle, encoder *audio.Encoder) <-chan audio.Frame {
	frames := make(chan audio.Frame, 8)
	go func() {
		defer close(frames)
		for samples := range handle.Samples() {
			encoded, err := encoder.Encode(samples)
			if err != nil {
				logging.Warning(logging.CategoryRecording, "frame encoding stopped: %v", err)
				return
			}
			for _, f := range encoded {
				frames <- f
			}
		}
		if tail, ok := encoder.Flush(); ok {
			frames <- tail
		}
	}()
	return frames
}

// Stop ends the active session, waits for the commit grace period and
// returns the accumulated transcript for handoff to persistence.
func (c *Controller) Stop(ctx context.Context) (*FinalTranscript, error) {
	c.mu.Lock()
	session := c.session
	acc := c.acc
	title := c.title
	startedAt := c.startedAt
	c.mu.Unlock()

	if session == nil {
		return nil, errors.New("no recording session")
	}

	if err := session.Stop(ctx); err != nil {
		c.recordErr(err)
		return nil, err
	}

	var segments []transcribe.Segment
	speakers := 0
	if acc != nil {
		segments = acc.Ordered()
		speakers = acc.SpeakerCount()
	}

	final := &FinalTranscript{
		Title:           title,
		StartedAt:       startedAt,
		DurationSeconds: time.Since(startedAt).Seconds(),
		SpeakerCount:    speakers,
		Segments:        segments,
	}

	logging.Info(logging.CategoryRecording, "recording stopped title=%q segments=%d speakers=%d", title, len(segments), speakers)
	return final, nil
}

// Teardown force-closes any active session, releasing the microphone and
// the backend connection. Safe to call at any time, including while a
// start is still blocked acquiring the microphone.
func (c *Controller) Teardown() {
	c.mu.Lock()
	c.tornGen = c.gen
	session := c.session
	c.mu.Unlock()
	if session != nil {
		session.Teardown()
	}
}

// Status returns the derived read-only state for UI binding.
func (c *Controller) Status() Status {
	c.mu.Lock()
	session := c.session
	acc := c.acc
	title := c.title
	lastErr := c.lastErr
	c.mu.Unlock()

	st := Status{Phase: transcribe.PhaseIdle, Title: title, LastError: lastErr}
	if session == nil {
		return st
	}

	st.Phase = session.Phase()
	st.Connecting = st.Phase == transcribe.PhaseConnecting
	st.Connected = st.Phase == transcribe.PhaseConnected || st.Phase == transcribe.PhaseStopping
	if err := session.Err(); err != nil && st.LastError == "" {
		st.LastError = err.Error()
	}
	if acc != nil {
		st.PartialText = acc.Partial()
		st.SpeakerCount = acc.SpeakerCount()
	}
	if started := session.StartedAt(); !started.IsZero() {
		st.ElapsedMs = time.Since(started).Milliseconds()
	}
	return st
}

func (c *Controller) recordErr(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func terminal(p transcribe.Phase) bool {
	return p == transcribe.PhaseClosed || p == transcribe.PhaseFailed || p == transcribe.PhaseIdle
}
