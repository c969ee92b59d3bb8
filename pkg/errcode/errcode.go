package errcode

import "fmt"

// Error represents a client-side business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Is makes wrapped errors match their base by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable reports whether re-invoking the failed command can succeed.
// Infrastructure and fetch failures are retryable; data and authorization
// failures are not.
func (e *Error) Retryable() bool {
	return (e.Code >= 2000 && e.Code < 4000) || e.Code == ErrSendFailed.Code ||
		e.Code == ErrMutationFailed.Code
}

var (
	// Common errors (1xxx)
	ErrInvalidParam   = New(1001, "invalid parameter")
	ErrInternal       = New(1002, "internal error")
	ErrUnauthorized   = New(1003, "unauthorized")
	ErrNotFound       = New(1004, "not found")
	ErrSessionExpired = New(1005, "session expired")

	// Connection errors (2xxx)
	ErrNotConnected     = New(2001, "socket not connected")
	ErrConnClosed       = New(2002, "connection closed")
	ErrRetriesExhausted = New(2003, "reconnect attempts exhausted")
	ErrNoTransport      = New(2004, "no usable transport")

	// Fetch errors (3xxx)
	ErrFetchFailed        = New(3001, "fetch failed")
	ErrConversationsStale = New(3002, "conversation refresh failed, showing last known state")
	ErrThreadLoadFailed   = New(3003, "thread load failed")

	// Mutation errors (4xxx)
	ErrSendFailed     = New(4001, "message send failed")
	ErrMutationFailed = New(4002, "update failed")
	ErrDeleteFailed   = New(4003, "delete failed")
	ErrMarkReadFailed = New(4004, "mark read failed")

	// Data errors (5xxx)
	ErrMalformedPayload = New(5001, "malformed payload")
	ErrUnknownEvent     = New(5002, "unknown event")

	// Authorization errors (6xxx)
	ErrAdminReadOnly = New(6001, "admin conversations are read-only")
)
