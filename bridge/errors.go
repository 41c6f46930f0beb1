package bridge

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// CodeTransportFailure is reported when the endpoint could not be reached.
	CodeTransportFailure = "TRANSPORT_FAILURE"
	// CodeUpstreamStatus is reported for non-2xx responses.
	CodeUpstreamStatus = "UPSTREAM_STATUS"
	// CodeUpstreamError is reported when a 2xx body carries status "error".
	CodeUpstreamError = "UPSTREAM_ERROR"
	// CodeDecodeFailure is reported when a 2xx body cannot be decoded.
	CodeDecodeFailure = "DECODE_FAILURE"
)

// TransportError is a network or connection failure talking to the
// search endpoint. It wraps the underlying error unchanged.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("bridge: request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Code returns CodeTransportFailure.
func (e *TransportError) Code() string { return CodeTransportFailure }

// RemoteStatusError is returned when the endpoint answers outside 2xx.
type RemoteStatusError struct {
	StatusCode int
	Body       string
}

func (e *RemoteStatusError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("bridge: remote returned status %d: %s", e.StatusCode, e.Body)
}

// Code returns CodeUpstreamStatus.
func (e *RemoteStatusError) Code() string { return CodeUpstreamStatus }

// RemoteLogicError is returned when a successful response carries
// {"status":"error"}. Message is the remote-supplied text.
type RemoteLogicError struct {
	Message string
}

func (e *RemoteLogicError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "unspecified error"
	}
	return "bridge: remote reported error: " + msg
}

// Code returns CodeUpstreamError.
func (e *RemoteLogicError) Code() string { return CodeUpstreamError }

// DecodeError is returned when a successful response body is not the
// expected JSON shape.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("bridge: decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Code returns CodeDecodeFailure.
func (e *DecodeError) Code() string { return CodeDecodeFailure }

// ErrorCode returns the machine-readable code of a bridge error found
// in err's chain, or "" when there is none.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}
