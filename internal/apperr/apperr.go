// Package apperr defines the closed set of failure kinds surfaced by the
// service and their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure
type Kind int

const (
	Internal Kind = iota
	MissingSignature
	MalformedPayload
	InvalidSignature
	IncompleteMetadata
	InvalidArguments
	Unauthorized
	NotFound
	EventInFlight
	StorageUnavailable
	IdentityProviderUnavailable
	PaymentProviderUnavailable
)

var kindNames = map[Kind]string{
	Internal:                    "internal",
	MissingSignature:            "missingSignature",
	MalformedPayload:            "malformedPayload",
	InvalidSignature:            "invalidSignature",
	IncompleteMetadata:          "incompleteMetadata",
	InvalidArguments:            "invalidArguments",
	Unauthorized:                "unauthorized",
	NotFound:                    "notFound",
	EventInFlight:               "eventInFlight",
	StorageUnavailable:          "storageUnavailable",
	IdentityProviderUnavailable: "identityProviderUnavailable",
	PaymentProviderUnavailable:  "paymentProviderUnavailable",
}

// String returns the wire name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[Internal]
}

// StatusCode maps a kind onto the HTTP status returned to the caller
func (k Kind) StatusCode() int {
	switch k {
	case MissingSignature, MalformedPayload, InvalidSignature, IncompleteMetadata, InvalidArguments:
		return 400
	case Unauthorized:
		return 401
	case NotFound:
		return 404
	case EventInFlight:
		return 409
	default:
		return 500
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a bare &Error{Kind: k} target of the same Kind, so
// errors.Is(err, &Error{Kind: NotFound}) tests the classification. A target
// with any other field set, such as one built with New, matches only itself.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// New creates a classified error with a message
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Public returns the message safe to show a caller. Infrastructure failures
// get a generic description so internals do not leak.
func Public(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Internal server error"
	}
	switch e.Kind {
	case StorageUnavailable, IdentityProviderUnavailable, PaymentProviderUnavailable, Internal:
		return "Internal server error"
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}
