// Package transcribe owns the streaming connection to the transcription
// backend and the reconciliation of its partial and committed events into
// an ordered transcript.
package transcribe

// Sink receives live session output. It is the hook point for UI surfaces
// (the gateway pushes these to the browser) and must not block.
type Sink interface {
	// OnPhase is called on every session phase transition.
	OnPhase(phase Phase)
	// OnPartial is called with the latest provisional transcript text.
	OnPartial(text string)
	// OnCommitted is called for each finalized segment.
	OnCommitted(seg Segment)
}

// NoopSink is a Sink that does nothing.
type NoopSink struct{}

func (NoopSink) OnPhase(Phase)       {}
func (NoopSink) OnPartial(string)    {}
func (NoopSink) OnCommitted(Segment) {}
