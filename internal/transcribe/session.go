package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syedabdeen/minutevault/internal/audio"
	"github.com/syedabdeen/minutevault/internal/logging"
)

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseConnected  Phase = "connected"
	PhaseStopping   Phase = "stopping"
	PhaseClosed     Phase = "closed"
	PhaseFailed     Phase = "failed"
)

// Options configure a Session.
type Options struct {
	// BackendURL is the websocket endpoint of the transcription service.
	BackendURL string
	// Tokens issues the short-lived credential sent on connect.
	Tokens TokenSource
	// ConnectTimeout bounds each connect attempt (token fetch + dial).
	ConnectTimeout time.Duration
	// MaxRetries is the number of reconnect attempts after the first
	// failure before the session is declared Failed. Zero selects the
	// default of 3; a negative value disables retries.
	MaxRetries int
	// RetryBackoff is multiplied by the retry count between attempts.
	RetryBackoff time.Duration
	// CommitGrace bounds the wait for the final committed event on stop.
	CommitGrace time.Duration
	// Sink receives live output; nil means NoopSink.
	Sink Sink
	// Dialer overrides the websocket dialer, used by tests.
	Dialer *websocket.Dialer
}

func (o *Options) withDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	} else if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.CommitGrace <= 0 {
		o.CommitGrace = 1200 * time.Millisecond
	}
	if o.Sink == nil {
		o.Sink = NoopSink{}
	}
	if o.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = 10 * time.Second
		o.Dialer = &d
	}
}

// Session owns the streaming connection lifecycle to the transcription
// backend: connect with bounded retry, stream frames, receive events,
// commit-on-stop, and guaranteed resource release on every exit path.
//
// A session is single-use: once Closed or Failed it must be discarded and
// a new one created.
type Session struct {
	opts Options
	acc  *Accumulator

	conn   *websocket.Conn
	connMu sync.Mutex

	mu         sync.Mutex
	phase      Phase
	retryCount int
	startedAt  time.Time
	termErr    *SessionError

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	commitCh chan struct{}
	done     chan struct{}
	final    sync.Once

	// stopStream tells the write loop to flush queued frames and yield;
	// writeDone signals the flush finished so the commit trails the audio
	// it covers.
	stopStream chan struct{}
	writeDone  chan struct{}

	// after is time.After, overridable by tests observing retry delays.
	after func(time.Duration) <-chan time.Time

	// release funnels every exit path through one cleanup hook (the
	// microphone handle release), invoked exactly once.
	release func()
}

// NewSession creates an idle session. release is invoked exactly once when
// the session reaches a terminal phase, on any exit path.
func NewSession(opts Options, acc *Accumulator, release func()) *Session {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:       opts,
		acc:        acc,
		phase:      PhaseIdle,
		ctx:        ctx,
		cancel:     cancel,
		commitCh:   make(chan struct{}, 1),
		done:       make(chan struct{}),
		stopStream: make(chan struct{}),
		writeDone:  make(chan struct{}),
		after:      time.After,
		release:    release,
	}
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// RetryCount returns the number of connect retries performed.
func (s *Session) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// StartedAt returns when the session connected, or the zero time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Err returns the terminal error, if the session failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.termErr == nil {
		return nil
	}
	return s.termErr
}

// Done is closed once the session reaches a terminal phase.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start connects to the backend and begins forwarding frames. It blocks
// until connected or terminally failed. Frames are consumed until the
// channel closes or the session ends.
func (s *Session) Start(ctx context.Context, frames <-chan audio.Frame) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("start called in phase %q", phase)
	}
	s.setPhaseLocked(PhaseConnecting)
	s.mu.Unlock()

	conn, serr := s.connectWithRetry(ctx)
	if serr != nil {
		if serr.Kind == KindCanceled {
			s.shutdown(PhaseClosed, nil)
		} else {
			s.shutdown(PhaseFailed, serr)
		}
		return serr
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.mu.Lock()
	// A teardown may have raced the final dial; do not proceed to stream.
	if s.phase != PhaseConnecting {
		s.mu.Unlock()
		conn.Close()
		return sessionErr(KindCanceled, "session torn down during connect", nil)
	}
	s.startedAt = time.Now()
	s.setPhaseLocked(PhaseConnected)
	s.mu.Unlock()

	s.acc.StartClock()
	logging.Info(logging.CategorySession, "connected to transcription backend url=%s", s.opts.BackendURL)

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop(frames)

	return nil
}

// connectWithRetry performs bounded connect attempts with backoff. Token
// fetch failures are treated identically to dial failures.
func (s *Session) connectWithRetry(ctx context.Context) (*websocket.Conn, *SessionError) {
	var lastErr *SessionError

	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			s.mu.Lock()
			s.retryCount = attempt
			s.mu.Unlock()

			delay := time.Duration(attempt) * s.opts.RetryBackoff
			logging.Warning(logging.CategorySession, "connect attempt %d failed, retrying in %v: %v", attempt, delay, lastErr)
			select {
			case <-s.after(delay):
			case <-ctx.Done():
				return nil, sessionErr(KindCanceled, "connect canceled", ctx.Err())
			case <-s.ctx.Done():
				return nil, sessionErr(KindCanceled, "connect canceled", s.ctx.Err())
			}
		}

		conn, serr := s.connectOnce(ctx)
		if serr == nil {
			return conn, nil
		}
		if serr.Kind == KindCanceled {
			return nil, serr
		}
		lastErr = serr
	}

	return nil, lastErr
}

func (s *Session) connectOnce(ctx context.Context) (*websocket.Conn, *SessionError) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	// s.ctx covers the concurrent-teardown path distinct from the caller's
	// context.
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	token, err := s.opts.Tokens.Token(attemptCtx)
	if err != nil {
		if canceled(ctx, s.ctx) {
			return nil, sessionErr(KindCanceled, "connect canceled", err)
		}
		return nil, sessionErr(KindTokenFetch, "failed to obtain backend token", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	// The dialer only honors the context deadline once the TCP connection
	// is up; cancellation mid-handshake is not watched. Dial in a goroutine
	// and select so a teardown aborts the attempt immediately.
	type dialResult struct {
		conn *websocket.Conn
		resp *http.Response
		err  error
	}
	dialCh := make(chan dialResult, 1)
	go func() {
		conn, resp, err := s.opts.Dialer.DialContext(attemptCtx, s.opts.BackendURL, header)
		dialCh <- dialResult{conn: conn, resp: resp, err: err}
	}()

	var res dialResult
	select {
	case res = <-dialCh:
	case <-attemptCtx.Done():
		// Abandon the dial; close the connection if it lands late.
		go func() {
			late := <-dialCh
			if late.resp != nil && late.resp.Body != nil {
				late.resp.Body.Close()
			}
			if late.conn != nil {
				late.conn.Close()
			}
		}()
		if canceled(ctx, s.ctx) {
			return nil, sessionErr(KindCanceled, "connect canceled", attemptCtx.Err())
		}
		return nil, sessionErr(KindConnectTimeout, fmt.Sprintf("connect timed out after %v", s.opts.ConnectTimeout), attemptCtx.Err())
	}

	if res.resp != nil && res.resp.Body != nil {
		res.resp.Body.Close()
	}
	if res.err != nil {
		switch {
		case canceled(ctx, s.ctx):
			return nil, sessionErr(KindCanceled, "connect canceled", res.err)
		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			return nil, sessionErr(KindConnectTimeout, fmt.Sprintf("connect timed out after %v", s.opts.ConnectTimeout), res.err)
		default:
			return nil, sessionErr(KindConnect, "failed to connect to transcription backend", res.err)
		}
	}
	return res.conn, nil
}

func canceled(ctxs ...context.Context) bool {
	for _, c := range ctxs {
		if errors.Is(c.Err(), context.Canceled) {
			return true
		}
	}
	return false
}

// Stop commits pending audio, waits up to the grace period for the final
// transcript event, then disconnects. Calling it before the session is
// connected aborts the connect attempt; calling it again is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case PhaseConnected:
		s.setPhaseLocked(PhaseStopping)
		s.mu.Unlock()
	case PhaseIdle, PhaseConnecting:
		s.mu.Unlock()
		s.Teardown()
		return nil
	default:
		s.mu.Unlock()
		return nil
	}

	// Flush frames already queued before committing, so the commit covers
	// the tail of the recording.
	close(s.stopStream)
	select {
	case <-s.writeDone:
	case <-ctx.Done():
	case <-s.ctx.Done():
	}

	if err := s.writeJSON(wireCommit{Type: "commit"}); err != nil {
		logging.Warning(logging.CategorySession, "failed to send commit instruction: %v", err)
	}

	// Best-effort: proceed regardless of whether the final commit arrives.
	select {
	case <-s.commitCh:
		logging.Debug(logging.CategorySession, "final commit received before grace period elapsed")
	case <-time.After(s.opts.CommitGrace):
		logging.Warning(logging.CategorySession, "commit grace period of %v elapsed, unflushed audio may be lost", s.opts.CommitGrace)
	case <-ctx.Done():
	case <-s.ctx.Done():
	}

	s.closeConnGraceful()
	s.shutdown(PhaseClosed, nil)
	return nil
}

// Teardown forces the session to Closed from any state, releasing the
// connection and the capture handle. Safe to invoke concurrently with
// Start or Stop, and more than once.
func (s *Session) Teardown() {
	s.shutdown(PhaseClosed, nil)
}

// shutdown is the single terminal transition; every exit path funnels
// through it so resources are released exactly once.
func (s *Session) shutdown(phase Phase, serr *SessionError) {
	s.final.Do(func() {
		s.mu.Lock()
		s.phase = phase
		s.termErr = serr
		s.mu.Unlock()

		s.cancel()

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()

		if s.release != nil {
			s.release()
		}

		s.opts.Sink.OnPhase(phase)
		close(s.done)

		if serr != nil {
			logging.Error(logging.CategorySession, "session ended phase=%s: %v", phase, serr)
		} else {
			logging.Info(logging.CategorySession, "session ended phase=%s", phase)
		}
	})
}

func (s *Session) setPhaseLocked(phase Phase) {
	s.phase = phase
	s.opts.Sink.OnPhase(phase)
}

// readLoop receives backend events until the connection closes. All state
// transitions from inbound events happen in handleEvent.
func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			stopping := s.phase == PhaseStopping
			s.mu.Unlock()
			if stopping || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// Expected during disconnect.
				return
			}
			s.shutdown(PhaseFailed, sessionErr(KindBackend, "transcription stream closed unexpectedly", err))
			return
		}

		ev, err := decodeEvent(raw)
		if err != nil {
			logging.Warning(logging.CategorySession, "ignoring malformed backend event: %v", err)
			continue
		}
		if ev == nil {
			continue
		}
		s.handleEvent(ev)
	}
}

// handleEvent is the single inbound-event dispatch point.
func (s *Session) handleEvent(ev Event) {
	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()

	switch ev := ev.(type) {
	case SessionStartedEvent:
		logging.Debug(logging.CategorySession, "backend acknowledged session start")

	case PartialEvent:
		if phase != PhaseConnected && phase != PhaseStopping {
			return
		}
		s.acc.SetPartial(ev.Text)
		s.opts.Sink.OnPartial(ev.Text)

	case CommittedEvent:
		if phase != PhaseConnected && phase != PhaseStopping {
			return
		}
		seg := s.acc.Commit(ev.Text, ev.SpeakerID)
		s.opts.Sink.OnPartial("")
		s.opts.Sink.OnCommitted(seg)
		if phase == PhaseStopping {
			select {
			case s.commitCh <- struct{}{}:
			default:
			}
		}

	case ErrorEvent:
		s.shutdown(PhaseFailed, sessionErr(KindBackend, ev.Message, nil))
	}
}

// writeLoop forwards encoded frames to the backend as they arrive. On stop
// it flushes whatever is already queued before yielding to the commit.
func (s *Session) writeLoop(frames <-chan audio.Frame) {
	defer s.wg.Done()
	defer close(s.writeDone)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.stopStream:
			for {
				select {
				case f, ok := <-frames:
					if !ok || !s.sendFrame(f) {
						return
					}
				default:
					return
				}
			}
		case f, ok := <-frames:
			if !ok || !s.sendFrame(f) {
				return
			}
		}
	}
}

func (s *Session) sendFrame(f audio.Frame) bool {
	if len(f.PCM) == 0 {
		return true
	}
	payload := f.Base64()
	if err := s.writeJSON(wireFrame{AudioBase64: payload, Audio: payload}); err != nil {
		if s.ctx.Err() == nil {
			logging.Warning(logging.CategorySession, "failed to forward audio frame: %v", err)
		}
		return false
	}
	return true
}

func (s *Session) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("connection is closed")
	}
	return s.conn.WriteJSON(v)
}

// closeConnGraceful sends a close frame before tearing the socket down.
func (s *Session) closeConnGraceful() {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		logging.Debug(logging.CategorySession, "close frame not sent: %v", err)
	}
}
