// Package nverrors defines the typed error taxonomy shared by the DHCP
// session, the lease cache, the interface applicator and the request
// coordinator.
package nverrors

import (
	"fmt"
	"strings"
)

// StatusKind classifies a failure independently of the transport that
// eventually reports it to a caller.
type StatusKind int

const (
	// Unknown is the zero value; it should never be returned deliberately.
	Unknown StatusKind = iota
	InvalidArgument
	Timeout
	NoLease
	InvalidDhcpServerReply
	LeaseExpired
	Storage
	Internal
	Bug
)

func (k StatusKind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case Timeout:
		return "Timeout"
	case NoLease:
		return "NoLease"
	case InvalidDhcpServerReply:
		return "InvalidDhcpServerReply"
	case LeaseExpired:
		return "LeaseExpired"
	case Storage:
		return "Storage"
	case Internal:
		return "Internal"
	case Bug:
		return "Bug"
	default:
		return "Unknown"
	}
}

// StatusError is the error type every core component returns on failure.
// net/rpc only round-trips an error's message, so the kind is encoded as
// a "Kind: message" prefix (see Error) and recovered with ParseStatus on
// the client side.
type StatusError struct {
	Kind    StatusKind
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds a StatusError with a formatted message.
func New(kind StatusKind, format string, args ...interface{}) *StatusError {
	return &StatusError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a StatusError that carries an underlying error's message.
func Wrap(kind StatusKind, err error, context string) *StatusError {
	return &StatusError{Kind: kind, Message: fmt.Sprintf("%s: %v", context, err)}
}

// AsStatus extracts a *StatusError, or wraps err as Internal if it isn't one.
func AsStatus(err error) *StatusError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*StatusError); ok {
		return se
	}
	return &StatusError{Kind: Internal, Message: err.Error()}
}

var kindByName = map[string]StatusKind{
	InvalidArgument.String():        InvalidArgument,
	Timeout.String():                Timeout,
	NoLease.String():                NoLease,
	InvalidDhcpServerReply.String(): InvalidDhcpServerReply,
	LeaseExpired.String():           LeaseExpired,
	Storage.String():                Storage,
	Internal.String():               Internal,
	Bug.String():                    Bug,
}

// ParseStatus recovers a StatusError from an error that crossed a
// transport which only round-trips the message string (net/rpc does
// this): it looks for the "Kind: message" prefix StatusError.Error
// produces, falling back to Unknown when the prefix isn't recognized.
func ParseStatus(err error) *StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if prefix, rest, ok := strings.Cut(msg, ": "); ok {
		if kind, known := kindByName[prefix]; known {
			return &StatusError{Kind: kind, Message: rest}
		}
	}
	return &StatusError{Kind: Unknown, Message: msg}
}

// ExitCode maps a StatusKind to the client CLI's process exit code, per
// the RPC status -> exit code table: OK(handled separately)->0,
// InvalidArgument->156, NotFound (NoLease)->6, Unknown->155, other->1.
func (k StatusKind) ExitCode() int {
	switch k {
	case InvalidArgument:
		return 156
	case NoLease:
		return 6
	case Unknown:
		return 155
	default:
		return 1
	}
}
