package protocol

import "errors"

const (
	// Framing/transport validation.
	ErrProtoBadRequest  = "E_PROTO_BAD_REQUEST"
	ErrProtoTooLarge    = "E_PROTO_TOO_LARGE"
	ErrProtoUnknownKind = "E_PROTO_UNKNOWN_KIND"
	ErrBadVersion       = "E_BAD_VERSION"

	// Session lifecycle.
	ErrStale    = "E_STALE"
	ErrTimeout  = "E_TIMEOUT"
	ErrCapacity = "E_CAPACITY"
	ErrShutdown = "E_SHUTDOWN"
	ErrKicked   = "E_KICKED"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoTooLarge:    {},
	ErrProtoUnknownKind: {},
	ErrBadVersion:       {},
	ErrStale:            {},
	ErrTimeout:          {},
	ErrCapacity:         {},
	ErrShutdown:         {},
	ErrKicked:           {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

var (
	// ErrProtocol marks a malformed, oversized or unknown message. The message
	// is dropped; the connection stays up.
	ErrProtocol = errors.New("protocol error")
	// ErrStaleMessage marks an input or snapshot already superseded.
	ErrStaleMessage = errors.New("stale message")
)

// CodedError carries a wire code next to a Go error chain.
type CodedError struct {
	Code string
	Err  error
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *CodedError) Unwrap() error { return e.Err }

func Coded(code string, err error) error {
	return &CodedError{Code: code, Err: err}
}

// CodeOf maps an error to the code sent to peers.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	switch {
	case errors.Is(err, ErrProtocol):
		return ErrProtoBadRequest
	case errors.Is(err, ErrStaleMessage):
		return ErrStale
	}
	return ErrInternal
}
