package attendance

import (
	"errors"
	"fmt"
)

// Kind classifies failures so transports can map them.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindExpired             Kind = "expired"
	KindOutOfRange          Kind = "out_of_range"
	KindDuplicate           Kind = "duplicate"
	KindLocationUnavailable Kind = "location_unavailable"
	KindUnauthorized        Kind = "unauthorized"
	KindConflict            Kind = "conflict"
	KindTransient           Kind = "transient"
)

// Error is a typed domain failure. Distance and Radius are set for out_of_range.
type Error struct {
	Kind     Kind
	Msg      string
	Distance float64
	Radius   float64
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Msg: op, Err: err}
}
