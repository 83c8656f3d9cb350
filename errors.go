package oscsim

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the errors that can cross the RPC boundary.
type ErrorKind string

// The error kinds reported to clients. Configuration errors are fatal at
// startup; all others are reported to the caller and the server continues.
const (
	InvalidParameter ErrorKind = "INVALID_PARAMETER"
	EncodingError    ErrorKind = "ENCODING_ERROR"
	TransientIO      ErrorKind = "TRANSIENT_IO"
	Configuration    ErrorKind = "CONFIGURATION"
)

// Error carries a kind and a message. net/rpc transports errors as plain
// strings, so Error() renders as "KIND: message" and clients recover the
// kind from the prefix.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Invalidf makes an InvalidParameter error.
func Invalidf(format string, a ...interface{}) error {
	return &Error{Kind: InvalidParameter, Message: fmt.Sprintf(format, a...)}
}

// Encodingf makes an EncodingError error.
func Encodingf(format string, a ...interface{}) error {
	return &Error{Kind: EncodingError, Message: fmt.Sprintf(format, a...)}
}

// Transientf makes a TransientIO error.
func Transientf(format string, a ...interface{}) error {
	return &Error{Kind: TransientIO, Message: fmt.Sprintf(format, a...)}
}

// Configf makes a Configuration error.
func Configf(format string, a ...interface{}) error {
	return &Error{Kind: Configuration, Message: fmt.Sprintf(format, a...)}
}

// KindOf returns the ErrorKind of err, or "" if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
