package backend

import (
	"errors"
	"fmt"
)

// ConfigError reports that a capability resolved to a kind that cannot
// serve it, or to a kind whose configuration section is missing. It is
// raised at build time and never retried.
type ConfigError struct {
	Capability Capability
	Kind       Kind
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf(
		"config mismatch for %s (kind %s): %s",
		e.Capability, e.Kind, e.Reason,
	)
}

// CapabilityUnavailableError is returned when a capability is invoked
// on a context that was built without a backend for it.
type CapabilityUnavailableError struct {
	Capability Capability
}

func (e *CapabilityUnavailableError) Error() string {
	return fmt.Sprintf("capability %s unavailable: no backend configured", e.Capability)
}

// TransportError covers dial, TLS, I/O, timeout and cancellation
// failures. The session that produced it is unusable.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport error during %s with %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError indicates the server rejected the credentials.
type AuthError struct {
	Login string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Login, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError is a server-side rejection or malformed exchange. Err
// carries the server's message when one was sent.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ParseError reports a message body that could not be parsed as MIME.
type ParseError struct {
	UID string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing email %s: %v", e.UID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EmailNotFoundError reports that no message exists for the UID.
type EmailNotFoundError struct {
	UID string
}

func (e *EmailNotFoundError) Error() string {
	return fmt.Sprintf("no email found for uid %s", e.UID)
}

// EmptyPartError reports a message that exists but has no part of the
// requested MIME type.
type EmptyPartError struct {
	UID  string
	MIME string
}

func (e *EmptyPartError) Error() string {
	return fmt.Sprintf("no %s content found for uid %s", e.MIME, e.UID)
}

// IsConfigError reports whether err (or any error in its chain) is a
// ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsCapabilityUnavailable reports whether err is a
// CapabilityUnavailableError.
func IsCapabilityUnavailable(err error) bool {
	var target *CapabilityUnavailableError
	return errors.As(err, &target)
}

// IsTransportError reports whether err is a TransportError.
func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsAuthError reports whether err is an AuthError.
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsProtocolError reports whether err is a ProtocolError.
func IsProtocolError(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

// IsParseError reports whether err is a ParseError.
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is an EmailNotFoundError.
func IsNotFound(err error) bool {
	var target *EmailNotFoundError
	return errors.As(err, &target)
}

// IsEmptyPart reports whether err is an EmptyPartError.
func IsEmptyPart(err error) bool {
	var target *EmptyPartError
	return errors.As(err, &target)
}
