package transport

import (
	"fmt"
)

// Transport error definitions. Values returned by this package carry one of
// these codes and match them with errors.Is.
var (
	ErrConnect   = NewTpError(1001, "Endpoint cannot be bound or connected", "")
	ErrClosed    = NewTpError(1002, "Socket is closed", "")
	ErrNoMessage = NewTpError(1003, "No message within poll timeout", "")
	ErrEmptySend = NewTpError(1004, "Empty frame set", "")
)

type tpError struct {
	code    int
	msg     string
	context string
	cause   error
}

func (e *tpError) Error() string {
	if e.context != "" {
		if e.cause != nil {
			return fmt.Sprintf("Error %d: %s (context: %s): %v", e.code, e.msg, e.context, e.cause)
		}
		return fmt.Sprintf("Error %d: %s (context: %s)", e.code, e.msg, e.context)
	}
	return fmt.Sprintf("Error %d: %s", e.code, e.msg)
}

func (e *tpError) Code() int { return e.code }

func (e *tpError) Unwrap() error { return e.cause }

// Is matches on the error code so that contextual copies compare equal to
// the package-level sentinels.
func (e *tpError) Is(target error) bool {
	t, ok := target.(*tpError)
	return ok && t.code == e.code
}

func (e *tpError) with(context string, cause error) *tpError {
	return &tpError{code: e.code, msg: e.msg, context: context, cause: cause}
}

func NewTpError(code int, message string, context string) *tpError {
	return &tpError{
		code:    code,
		msg:     message,
		context: context,
	}
}
