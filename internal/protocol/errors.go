package protocol

import "errors"

// Error classes. Every decode failure wraps exactly one of them so callers
// can pick a recovery boundary with errors.Is.
var (
	// ErrStreamExhausted means a read went past the end of its buffer. It
	// aborts the current message or entity only.
	ErrStreamExhausted = errors.New("stream exhausted")

	// ErrProtocolAnomaly means an unexpected byte pattern at a framing
	// boundary. The packet or fragment group is dropped.
	ErrProtocolAnomaly = errors.New("protocol anomaly")

	// ErrFatalReplayMismatch is only produced in strict mode, when an
	// anomaly or decode failure must stop the run.
	ErrFatalReplayMismatch = errors.New("fatal replay mismatch")
)
