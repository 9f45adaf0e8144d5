package transcribe

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Segment is one committed, immutable transcript entry. Sequence is
// strictly increasing in arrival order; StartOffsetMs is measured from
// session start and is non-decreasing across segments.
type Segment struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	Speaker       string `json:"speaker"`
	StartOffsetMs int64  `json:"startOffsetMs"`
	Sequence      int    `json:"sequence"`
}

// speakerRotation is the number of labels cycled through when the backend
// reports no speaker identity.
const speakerRotation = 4

// Accumulator merges partial and committed transcript events into an
// ordered sequence of speaker-labeled segments.
//
// Speaker labels: a backend-supplied speaker id always maps to the same
// "Speaker N" label for the session, and the registry only grows. Without
// backend ids, labels rotate through a fixed set of four by sequence
// number — a degraded-mode heuristic, not true diarization.
type Accumulator struct {
	mu       sync.Mutex
	start    time.Time
	seq      int
	lastMs   int64
	segments []Segment
	partial  string
	registry map[string]string
	labels   map[string]struct{}

	now func() time.Time
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		registry: make(map[string]string),
		labels:   make(map[string]struct{}),
		now:      time.Now,
	}
}

// StartClock anchors segment offsets. Called once when the session
// connects.
func (a *Accumulator) StartClock() {
	a.mu.Lock()
	a.start = a.now()
	a.mu.Unlock()
}

// SetPartial overwrites the live preview text (last write wins).
func (a *Accumulator) SetPartial(text string) {
	a.mu.Lock()
	a.partial = text
	a.mu.Unlock()
}

// Partial returns the current preview text.
func (a *Accumulator) Partial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partial
}

// Commit appends a committed transcript and clears the partial preview.
func (a *Accumulator) Commit(text, speakerID string) Segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	offset := int64(0)
	if !a.start.IsZero() {
		offset = a.now().Sub(a.start).Milliseconds()
	}
	// Arrival order is authoritative; clamp so offsets never regress.
	if offset < a.lastMs {
		offset = a.lastMs
	}
	a.lastMs = offset

	seg := Segment{
		ID:            uuid.NewString(),
		Text:          text,
		Speaker:       a.labelLocked(speakerID),
		StartOffsetMs: offset,
		Sequence:      a.seq,
	}
	a.segments = append(a.segments, seg)
	a.partial = ""
	return seg
}

func (a *Accumulator) labelLocked(speakerID string) string {
	if speakerID == "" {
		label := fmt.Sprintf("Speaker %d", (a.seq-1)%speakerRotation+1)
		a.labels[label] = struct{}{}
		return label
	}
	if label, ok := a.registry[speakerID]; ok {
		return label
	}
	label := fmt.Sprintf("Speaker %d", len(a.registry)+1)
	a.registry[speakerID] = label
	a.labels[label] = struct{}{}
	return label
}

// Ordered returns the committed segments in sequence order. Safe to call
// repeatedly; the result is a copy.
func (a *Accumulator) Ordered() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Segment, len(a.segments))
	copy(out, a.segments)
	return out
}

// SpeakerCount reports the number of distinct labels assigned so far.
func (a *Accumulator) SpeakerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.labels)
}

// Reset clears all segments and the speaker registry. Called only at the
// start of a new recording session, never mid-session.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.start = time.Time{}
	a.seq = 0
	a.lastMs = 0
	a.segments = nil
	a.partial = ""
	a.registry = make(map[string]string)
	a.labels = make(map[string]struct{})
}
