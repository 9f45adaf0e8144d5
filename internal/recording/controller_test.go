package recording

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syedabdeen/minutevault/internal/audio"
	"github.com/syedabdeen/minutevault/internal/transcribe"
)

// fakeHandle is a scripted microphone handle.
type fakeHandle struct {
	samples  chan []int16
	releases int32
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{samples: make(chan []int16, 8)}
}

func (h *fakeHandle) Samples() <-chan []int16 { return h.samples }
func (h *fakeHandle) SampleRate() int         { return 16000 }
func (h *fakeHandle) Channels() int           { return 1 }

func (h *fakeHandle) Release() error {
	if atomic.AddInt32(&h.releases, 1) == 1 {
		close(h.samples)
	}
	return nil
}

func (h *fakeHandle) releaseCount() int {
	return int(atomic.LoadInt32(&h.releases))
}

type fakeSource struct {
	handle *fakeHandle
	err    error
}

func (s *fakeSource) Acquire(ctx context.Context, c audio.Constraints) (audio.Handle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.handle, nil
}

// scriptedBackend accepts the session and plays committed events back for
// each commit instruction.
func scriptedBackend(t *testing.T, commits []string) string {
	t.Helper()

	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		for i, text := range commits {
			c.WriteJSON(map[string]string{
				"message_type": "committed_transcript",
				"text":         text,
				"speaker":      []string{"A", "B", "A", "C"}[i%4],
			})
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func controllerOptions(url string) SessionOptions {
	return SessionOptions{
		BackendURL:     url,
		Tokens:         transcribe.StaticTokenSource("test-token"),
		ConnectTimeout: 2 * time.Second,
		MaxRetries:     -1,
		RetryBackoff:   5 * time.Millisecond,
		CommitGrace:    100 * time.Millisecond,
		FrameInterval:  100 * time.Millisecond,
		SampleRate:     16000,
	}
}

func TestStartRejectsEmptyTitle(t *testing.T) {
	c := NewController(&fakeSource{handle: newFakeHandle()}, controllerOptions("ws://unused"))
	for _, title := range []string{"", "   ", "\t"} {
		if err := c.Start(context.Background(), title); !errors.Is(err, ErrEmptyTitle) {
			t.Errorf("Start(%q) = %v, want ErrEmptyTitle", title, err)
		}
	}
}

func TestStartSurfacesPermissionError(t *testing.T) {
	capErr := &audio.CaptureError{Kind: audio.CaptureDenied, Cause: errors.New("denied by user")}
	c := NewController(&fakeSource{err: capErr}, controllerOptions("ws://unused"))

	err := c.Start(context.Background(), "Standup")
	if err == nil {
		t.Fatal("Start should fail when the microphone is denied")
	}
	var got *audio.CaptureError
	if !errors.As(err, &got) || got.Kind != audio.CaptureDenied {
		t.Errorf("error = %v, want a CaptureDenied CaptureError", err)
	}
	if st := c.Status(); st.LastError == "" {
		t.Error("Status.LastError should carry the failure message")
	}
}

func TestStartStopRoundtrip(t *testing.T) {
	handle := newFakeHandle()
	url := scriptedBackend(t, []string{"first point", "second point", "reply"})
	c := NewController(&fakeSource{handle: handle}, controllerOptions(url))

	if err := c.Start(context.Background(), "Weekly Sync"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for the scripted segments to land.
	deadline := time.After(2 * time.Second)
	for {
		if c.Status().SpeakerCount >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for committed segments")
		case <-time.After(10 * time.Millisecond):
		}
	}

	final, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if final.Title != "Weekly Sync" {
		t.Errorf("Title = %q", final.Title)
	}
	if len(final.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(final.Segments))
	}
	for i := 1; i < len(final.Segments); i++ {
		if final.Segments[i].Sequence <= final.Segments[i-1].Sequence {
			t.Error("Sequence must be strictly increasing")
		}
	}
	// Speakers A, B, A map onto two stable labels.
	if final.SpeakerCount != 2 {
		t.Errorf("SpeakerCount = %d, want 2", final.SpeakerCount)
	}

	if got := handle.releaseCount(); got < 1 {
		t.Errorf("microphone released %d times, want at least once", got)
	}
}

func TestStartWhileActiveRejected(t *testing.T) {
	handle := newFakeHandle()
	url := scriptedBackend(t, nil)
	c := NewController(&fakeSource{handle: handle}, controllerOptions(url))

	if err := c.Start(context.Background(), "First"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Teardown()

	if err := c.Start(context.Background(), "Second"); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Start = %v, want ErrSessionActive", err)
	}
}

func TestTeardownReleasesMicrophone(t *testing.T) {
	handle := newFakeHandle()
	url := scriptedBackend(t, nil)
	c := NewController(&fakeSource{handle: handle}, controllerOptions(url))

	if err := c.Start(context.Background(), "Interrupted"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.Teardown()
	c.Teardown()

	deadline := time.After(2 * time.Second)
	for handle.releaseCount() < 1 {
		select {
		case <-deadline:
			t.Fatal("microphone not released after teardown")
		case <-time.After(10 * time.Millisecond):
		}
	}

	st := c.Status()
	if st.Connected || st.Connecting {
		t.Errorf("Status after teardown = %+v, want disconnected", st)
	}

	// A new recording can start once the prior session is terminal.
	if err := c.Start(context.Background(), "Next"); err != nil {
		t.Fatalf("Start after teardown: %v", err)
	}
	c.Teardown()
}

// gatedSource blocks Acquire until the test opens the gate, modeling a
// microphone consent prompt held open.
type gatedSource struct {
	handle  *fakeHandle
	entered chan struct{}
	gate    chan struct{}
}

func (s *gatedSource) Acquire(ctx context.Context, c audio.Constraints) (audio.Handle, error) {
	close(s.entered)
	<-s.gate
	return s.handle, nil
}

func TestTeardownDuringAcquireAbortsStart(t *testing.T) {
	handle := newFakeHandle()
	src := &gatedSource{
		handle:  handle,
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	c := NewController(src, controllerOptions("ws://unused"))

	startErr := make(chan error, 1)
	go func() {
		startErr <- c.Start(context.Background(), "Held at Consent")
	}()

	<-src.entered
	c.Teardown()
	close(src.gate)

	select {
	case err := <-startErr:
		if !errors.Is(err, ErrTornDown) {
			t.Fatalf("Start = %v, want ErrTornDown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after teardown")
	}

	if got := handle.releaseCount(); got != 1 {
		t.Errorf("microphone released %d times, want 1", got)
	}
	st := c.Status()
	if st.Connected || st.Connecting {
		t.Errorf("Status after aborted start = %+v, want disconnected", st)
	}
}

func TestStatusReflectsLiveState(t *testing.T) {
	handle := newFakeHandle()
	url := scriptedBackend(t, nil)
	c := NewController(&fakeSource{handle: handle}, controllerOptions(url))

	if st := c.Status(); st.Phase != transcribe.PhaseIdle {
		t.Errorf("initial phase = %s, want idle", st.Phase)
	}

	if err := c.Start(context.Background(), "Live"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Teardown()

	st := c.Status()
	if !st.Connected {
		t.Errorf("Status.Connected = false after Start, phase=%s", st.Phase)
	}
	if st.Title != "Live" {
		t.Errorf("Status.Title = %q", st.Title)
	}
}
