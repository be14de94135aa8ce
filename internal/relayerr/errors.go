// Package relayerr defines the error taxonomy surfaced by the relay
// connection. Authentication and transport failures carry a reconnect
// hint so the caller knows whether an externally triggered retry is
// worth attempting.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind classifies a connection-level failure.
type Kind int

const (
	// KindAuth means the relay closed the socket before sending any
	// message, which is how an init with a bad password presents. The
	// relay protocol has no explicit auth-failure message, so this
	// heuristic is the contract.
	KindAuth Kind = iota

	// KindTransport means the socket failed after authentication had
	// started or succeeded.
	KindTransport
)

// Decode/transform errors are recovered per message and never surfaced
// as ConnectionError; these sentinels mark them in logs and tests.
var (
	ErrMalformedMessage = errors.New("malformed relay message")
	ErrUnknownKind      = errors.New("unhandled message kind")
)

// ConnectionError is the typed failure handed to the presentation layer.
// The human-readable message is built only when Error is called, so
// errors that are inspected but never shown cost nothing beyond the
// struct itself.
type ConnectionError struct {
	Kind Kind
	Host string

	// Retryable reports whether an externally triggered reconnect may
	// succeed. False for auth failures and for transport errors on a
	// connection that never reached the connected state.
	Retryable bool

	Cause error
}

// Error builds the message lazily from the kind and host.
func (e *ConnectionError) Error() string {
	switch e.Kind {
	case KindAuth:
		return fmt.Sprintf("authentication with %s failed: the relay closed the connection before responding; check the relay password", e.Host)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("lost connection to %s: %v", e.Host, e.Cause)
		}

		return fmt.Sprintf("lost connection to %s", e.Host)
	}
}

// Unwrap exposes the underlying transport error, if any.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Reconnect reports whether the caller should attempt one reconnect.
func (e *ConnectionError) Reconnect() bool {
	return e.Retryable
}

// NewAuthError builds the non-retryable authentication failure.
func NewAuthError(host string) *ConnectionError {
	return &ConnectionError{Kind: KindAuth, Host: host, Retryable: false}
}

// NewTransportError builds a transport failure. wasConnected gates the
// reconnect hint so that first-contact failures never retry storm.
func NewTransportError(host string, cause error, wasConnected bool) *ConnectionError {
	return &ConnectionError{
		Kind:      KindTransport,
		Host:      host,
		Retryable: wasConnected,
		Cause:     cause,
	}
}
