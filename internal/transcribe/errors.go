package transcribe

import "fmt"

// ErrorKind classifies terminal session errors so callers can react to the
// cause without parsing messages.
type ErrorKind string

const (
	// KindTokenFetch covers failures obtaining the backend credential.
	// Treated exactly like a connect failure for retry purposes.
	KindTokenFetch ErrorKind = "token_fetch"
	// KindConnect covers websocket dial failures.
	KindConnect ErrorKind = "connect"
	// KindConnectTimeout covers connect attempts that exceeded the bound.
	KindConnectTimeout ErrorKind = "connect_timeout"
	// KindBackend covers mid-stream error events from the backend. These
	// are terminal for the session and never retried automatically.
	KindBackend ErrorKind = "backend"
	// KindCanceled marks sessions aborted by the caller mid-connect.
	KindCanceled ErrorKind = "canceled"
)

// SessionError is the single error type surfaced by a session: a
// human-readable message plus a machine-distinguishable kind.
type SessionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SessionError) Unwrap() error { return e.Err }

func sessionErr(kind ErrorKind, msg string, err error) *SessionError {
	return &SessionError{Kind: kind, Message: msg, Err: err}
}
