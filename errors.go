package psi

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Error kinds returned by the client and server drivers. Test with errors.Is.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidState        = errors.New("invalid state")
	ErrMalformedParameters = errors.New("malformed parameters")
	ErrMalformedMessage    = errors.New("malformed message")
	ErrNoData              = errors.New("no data")
	ErrProtocolFailure     = errors.New("protocol failure")
)

var kinds = []error{
	ErrInvalidArgument,
	ErrInvalidState,
	ErrMalformedParameters,
	ErrMalformedMessage,
	ErrNoData,
	ErrProtocolFailure,
}

// Wrap annotates cause with msg and marks the result with kind. The kind
// name is kept in the message so that it survives transports that only
// carry error strings.
func Wrap(kind, cause error, msg string) error {
	if cause == nil {
		return errors.Wrap(kind, msg)
	}
	return errors.Mark(errors.Wrapf(cause, "%s: %s", kind.Error(), msg), kind)
}

// Wrapf is Wrap with a format string.
func Wrapf(kind, cause error, format string, args ...interface{}) error {
	return Wrap(kind, cause, errors.Newf(format, args...).Error())
}

// Errorf returns a new error of the given kind.
func Errorf(kind error, format string, args ...interface{}) error {
	return errors.Wrapf(kind, format, args...)
}

// FromMessage rebuilds a typed error from a message produced by this
// package, as returned by an RPC transport.
func FromMessage(msg string) error {
	for _, k := range kinds {
		if strings.Contains(msg, k.Error()) {
			return errors.Mark(errors.New(msg), k)
		}
	}
	return errors.New(msg)
}
