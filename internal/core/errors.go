package core

import "errors"

// Error codes for domain errors. They travel to clients in error envelopes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeInvalidFrame       = "invalid_frame"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeNotMember          = "not_member"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeTooManyConnections = "too_many_connections"
	ErrCodeInternal           = "internal"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ErrorCode extracts the domain code from err, or ErrCodeInternal.
func ErrorCode(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}
