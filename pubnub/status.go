package pubnub

import "time"

// ConnectionStatus is the state of the subscription state machine.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusUnsubscribed
)

func (status ConnectionStatus) String() string {
	switch status {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusReconnecting:
		return "RECONNECTING"
	case StatusUnsubscribed:
		return "UNSUBSCRIBED"
	}
	return "UNKNOWN"
}

// StatusCategory classifies a status event.
type StatusCategory int

const (
	CategoryUnknown StatusCategory = iota
	CategoryConnecting
	CategoryConnected
	CategoryReconnected
	CategoryDisconnected
	CategoryUnexpectedDisconnect
	CategoryTimeout
	CategoryMalformedResponse
	CategoryBadRequest
	CategoryAccessDenied
	CategoryAcknowledgment
	CategoryDecryptionError
	CategoryReconnectionAttemptsExhausted
)

func (category StatusCategory) String() string {
	switch category {
	case CategoryConnecting:
		return "Connecting"
	case CategoryConnected:
		return "Connected"
	case CategoryReconnected:
		return "Reconnected"
	case CategoryDisconnected:
		return "Disconnected"
	case CategoryUnexpectedDisconnect:
		return "UnexpectedDisconnect"
	case CategoryTimeout:
		return "Timeout"
	case CategoryMalformedResponse:
		return "MalformedResponse"
	case CategoryBadRequest:
		return "BadRequest"
	case CategoryAccessDenied:
		return "AccessDenied"
	case CategoryAcknowledgment:
		return "Acknowledgment"
	case CategoryDecryptionError:
		return "DecryptionError"
	case CategoryReconnectionAttemptsExhausted:
		return "ReconnectionAttemptsExhausted"
	}
	return "Unknown"
}

// Operation names the client operation a status event belongs to.
type Operation int

const (
	OperationSubscribe Operation = iota
	OperationUnsubscribe
	OperationLeave
	OperationReconnect
	OperationDisconnect
	OperationPublish
	OperationTime
)

func (operation Operation) String() string {
	switch operation {
	case OperationSubscribe:
		return "Subscribe"
	case OperationUnsubscribe:
		return "Unsubscribe"
	case OperationLeave:
		return "Leave"
	case OperationReconnect:
		return "Reconnect"
	case OperationDisconnect:
		return "Disconnect"
	case OperationPublish:
		return "Publish"
	case OperationTime:
		return "Time"
	}
	return "Unknown"
}

// Status is a connectivity event delivered to listeners.
type Status struct {
	Category  StatusCategory
	Operation Operation
	// State is the connection status after the event was applied.
	State                 ConnectionStatus
	Host                  string
	AffectedChannels      []string
	AffectedChannelGroups []string
	Cursor                int64
	StatusCode            int
	Err                   error
	// FailedOver is set when this failure rotated the endpoint; Host is then the new host.
	FailedOver bool
	RetryIn    time.Duration
}

// IsError reports whether the status describes a failure.
func (status Status) IsError() bool {
	return status.Err != nil
}

func categoryForError(err error) StatusCategory {
	switch ErrorCode(err) {
	case TimedOutError:
		return CategoryTimeout
	case ProtocolError:
		return CategoryMalformedResponse
	case BadRequestError:
		return CategoryBadRequest
	case AccessDeniedError:
		return CategoryAccessDenied
	case CryptoError:
		return CategoryDecryptionError
	case ConnectionError, ServerError:
		return CategoryUnexpectedDisconnect
	}
	return CategoryUnknown
}

func statusCodeOf(err error) int {
	if typed, ok := err.(*Error); ok && typed != nil {
		return typed.StatusCode
	}
	return 0
}
