package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeInvalidMessage     = "invalid_message"
	ErrCodeNotInRoom          = "not_in_room"
	ErrCodeForbidden          = "forbidden"
	ErrCodeEmptyMessage       = "empty_message"
	ErrCodePersistence        = "persistence_failure"
	ErrCodeAlreadyRegistered  = "already_registered"
	ErrCodeNotRegistered      = "not_registered"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeRateLimited        = "rate_limited"
)

var (
	// ErrAuth rejects setup; the connection is closed afterwards.
	ErrAuth = errors.New("authentication failed")
	// ErrInvalidEvent is a malformed or out-of-place command. The command is
	// dropped and the connection stays open.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrEmptyMessage rejects a message without content.
	ErrEmptyMessage = errors.New("empty message")
	// ErrPersistence means the message store did not accept the message.
	// Nothing was broadcast.
	ErrPersistence = errors.New("persistence failure")
	// ErrAlreadyRegistered guards a second setup with a different identity.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrNotRegistered guards any command other than setup before setup.
	ErrNotRegistered = errors.New("not registered")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

// Unwrap exposes the sentinel so callers can use errors.Is.
func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(kind error, code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: kind}
}

func invalidEvent(code, msg string) *CoreError {
	return coreError(ErrInvalidEvent, code, msg)
}

// AsCoreError converts any error returned by the hub into a CoreError suitable
// for sending back to the client.
func AsCoreError(err error) *CoreError {
	if err == nil {
		return nil
	}
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, ErrAuth):
		return coreError(ErrAuth, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, ErrEmptyMessage):
		return coreError(ErrEmptyMessage, ErrCodeEmptyMessage, err.Error())
	case errors.Is(err, ErrPersistence):
		return coreError(ErrPersistence, ErrCodePersistence, "message could not be stored")
	case errors.Is(err, ErrAlreadyRegistered):
		return coreError(ErrAlreadyRegistered, ErrCodeAlreadyRegistered, err.Error())
	case errors.Is(err, ErrNotRegistered):
		return coreError(ErrNotRegistered, ErrCodeNotRegistered, err.Error())
	default:
		return invalidEvent(ErrCodeBadRequest, err.Error())
	}
}
