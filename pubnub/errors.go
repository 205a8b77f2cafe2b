package pubnub

import (
	"errors"
	"fmt"
)

const (
	InvalidArgumentsError = iota

	ConnectionError

	TimedOutError

	ProtocolError

	BadRequestError

	AccessDeniedError

	ServerError

	CryptoError

	DestroyedError

	UnknownError
)

// Error is the typed failure returned by every client operation.
type Error struct {
	Code       int
	Message    string
	StatusCode int
	Cause      error
}

func errorName(code int) string {
	switch code {
	case InvalidArgumentsError:
		return "InvalidArgumentsError"
	case ConnectionError:
		return "ConnectionError"
	case TimedOutError:
		return "TimedOutError"
	case ProtocolError:
		return "ProtocolError"
	case BadRequestError:
		return "BadRequestError"
	case AccessDeniedError:
		return "AccessDeniedError"
	case ServerError:
		return "ServerError"
	case CryptoError:
		return "CryptoError"
	case DestroyedError:
		return "DestroyedError"
	default:
		return "UnknownError"
	}
}

func (err *Error) Error() string {
	if err == nil {
		return "<nil>"
	}
	name := errorName(err.Code)
	switch {
	case err.Message != "" && err.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", name, err.Message, err.Cause)
	case err.Message != "":
		return fmt.Sprintf("%s: %s", name, err.Message)
	case err.Cause != nil:
		return fmt.Sprintf("%s: %v", name, err.Cause)
	}
	return name
}

func (err *Error) Unwrap() error {
	if err == nil {
		return nil
	}
	return err.Cause
}

// Is matches any *Error carrying the same code.
func (err *Error) Is(target error) bool {
	var other *Error
	if err == nil || !errors.As(target, &other) || other == nil {
		return false
	}
	return err.Code == other.Code
}

// NewError creates an error for code. An error argument becomes the cause,
// anything else is formatted into the message.
func NewError(errorCode int, message ...interface{}) error {
	result := &Error{Code: errorCode}
	if errorCode < InvalidArgumentsError || errorCode > UnknownError {
		result.Code = UnknownError
	}
	if len(message) == 0 {
		return result
	}
	if cause, ok := message[0].(error); ok {
		result.Cause = cause
		return result
	}
	result.Message = fmt.Sprint(message[0])
	if len(message) > 1 {
		if cause, ok := message[1].(error); ok {
			result.Cause = cause
		}
	}
	return result
}

func newHTTPError(errorCode int, statusCode int, message string) error {
	return &Error{Code: errorCode, StatusCode: statusCode, Message: message}
}

// ErrorCode returns the code carried by err, UnknownError for foreign errors,
// and -1 for nil.
func ErrorCode(err error) int {
	if err == nil {
		return -1
	}
	var typed *Error
	if errors.As(err, &typed) && typed != nil {
		return typed.Code
	}
	return UnknownError
}

// IsTransportFailure reports whether err counts as a failed poll for backoff
// and failover purposes.
func IsTransportFailure(err error) bool {
	switch ErrorCode(err) {
	case ConnectionError, TimedOutError, ProtocolError, ServerError, UnknownError:
		return true
	}
	return false
}
