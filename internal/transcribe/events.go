package transcribe

import (
	"encoding/json"
	"fmt"
)

// The session is written against this small internal event contract; the
// backend's wire shape is adapted into it at the boundary below.

// Event is one inbound transcription event.
type Event interface{ isEvent() }

// SessionStartedEvent signals the backend accepted the stream.
type SessionStartedEvent struct{}

// PartialEvent carries a provisional, not-yet-finalized transcript.
type PartialEvent struct {
	Text string
}

// CommittedEvent carries a finalized transcript the backend will not
// revise. SpeakerID is empty when the backend performs no diarization.
type CommittedEvent struct {
	Text      string
	SpeakerID string
}

// ErrorEvent carries a backend-reported stream error.
type ErrorEvent struct {
	Message string
}

func (SessionStartedEvent) isEvent() {}
func (PartialEvent) isEvent()        {}
func (CommittedEvent) isEvent()      {}
func (ErrorEvent) isEvent()          {}

// wireEvent is the superset of inbound message shapes across backends.
// Some report the discriminator as "message_type", others as "type".
type wireEvent struct {
	MessageType string `json:"message_type"`
	Type        string `json:"type"`
	Text        string `json:"text"`
	Transcript  string `json:"transcript"`
	Speaker     string `json:"speaker"`
	Error       string `json:"error"`
}

// wireFrame is an outbound audio frame. Backends accept the payload under
// either key; both are set.
type wireFrame struct {
	AudioBase64 string `json:"audio_base_64"`
	Audio       string `json:"audio,omitempty"`
}

// wireCommit instructs the backend to flush buffered audio into a final
// transcript event.
type wireCommit struct {
	Type string `json:"type"` // "commit"
}

// decodeEvent adapts one raw backend message into the internal contract.
// Unknown message types yield (nil, nil) and are ignored by the caller.
func decodeEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode backend event: %w", err)
	}

	kind := w.MessageType
	if kind == "" {
		kind = w.Type
	}

	text := w.Text
	if text == "" {
		text = w.Transcript
	}

	switch kind {
	case "session_started", "SessionBegins":
		return SessionStartedEvent{}, nil
	case "partial_transcript", "PartialTranscript":
		return PartialEvent{Text: text}, nil
	case "committed_transcript", "final_transcript", "FinalTranscript":
		return CommittedEvent{Text: text, SpeakerID: w.Speaker}, nil
	case "error":
		msg := w.Error
		if msg == "" {
			msg = "backend reported an unspecified error"
		}
		return ErrorEvent{Message: msg}, nil
	}
	return nil, nil
}
