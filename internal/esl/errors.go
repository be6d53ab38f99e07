package esl

import "errors"

// ErrDisconnected is returned by API and by any pending wait when the ESL
// link goes down, either because the peer closed it or because Close was
// called. Every pending API caller observes exactly this error.
var ErrDisconnected = errors.New("esl: disconnected")

// ErrConnect wraps the underlying cause of a failed Connect: TCP failure,
// auth rejection, or the connect timeout expiring.
type ErrConnect struct {
	Cause error
}

func (e *ErrConnect) Error() string {
	return "esl: connect failed: " + e.Cause.Error()
}

func (e *ErrConnect) Unwrap() error {
	return e.Cause
}

// ErrAuthRejected indicates FreeSWITCH rejected the configured password.
var ErrAuthRejected = errors.New("esl: auth rejected")

// ErrConnectTimeout indicates the connect handshake did not complete within
// the configured timeout.
var ErrConnectTimeout = errors.New("esl: connect timeout")
