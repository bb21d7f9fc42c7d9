package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks a malformed inbound request body.
	ErrParse = errors.New("malformed inbound payload")
	// ErrGatewayUnavailable marks a transport-level failure reaching the gateway.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	// ErrGatewayDeclined marks a gateway answer that carried no usable reply.
	ErrGatewayDeclined = errors.New("gateway declined")
	// ErrNotifyFailed marks a failed delivery to the chat platform.
	ErrNotifyFailed = errors.New("chat delivery failed")
)

// ParseError reports why an inbound body could not be normalized.
type ParseError struct {
	ContentType string
	Err         error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q body: %v", e.ContentType, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

// GatewayError is a transport failure talking to the gateway.
type GatewayError struct {
	URL string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.URL, e.Err)
}

func (e *GatewayError) Unwrap() []error { return []error{ErrGatewayUnavailable, e.Err} }

// NotifyError describes a delivery the chat platform did not accept.
type NotifyError struct {
	Status int
	Body   string
	Err    error
}

func (e *NotifyError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("chat delivery: %v", e.Err)
	default:
		return fmt.Sprintf("chat delivery: HTTP %d: %s", e.Status, e.Body)
	}
}

func (e *NotifyError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrNotifyFailed, e.Err}
	}
	return []error{ErrNotifyFailed}
}
