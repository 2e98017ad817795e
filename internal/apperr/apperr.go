package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the request boundary.
type Kind string

const (
	KindInvalidDate       Kind = "InvalidDate"
	KindPolicyViolation   Kind = "PolicyViolation"
	KindEmptyRoster       Kind = "EmptyRoster"
	KindUnknownRollNumber Kind = "UnknownRollNumber"
	KindAlreadyMarked     Kind = "AlreadyMarked"
	KindNothingToEdit     Kind = "NothingToEdit"
	KindAlreadyInactive   Kind = "AlreadyInactive"
	KindUnauthorized      Kind = "Unauthorized"
	KindNotFound          Kind = "NotFound"
	KindInvalid           Kind = "Invalid"
	KindConflict          Kind = "Conflict"
)

// Error is a user-actionable failure. Code is a stable machine identifier,
// Detail carries the offending value when there is one.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Code != "" && e.Code != string(e.Kind) {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind and Code so errors.Is(err, apperr.New(KindX, "")) works
// against any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message, Err: err}
}

// WithCode returns a copy with a more specific code.
func (e *Error) WithCode(code string) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

// WithDetail returns a copy carrying the offending value.
func (e *Error) WithDetail(detail string) *Error {
	cp := *e
	cp.Detail = detail
	return &cp
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As unwraps err into an *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func InvalidDate(input string) *Error {
	return New(KindInvalidDate, "date could not be parsed").WithDetail(input)
}

func OnlyTodayAllowed(day string) *Error {
	return New(KindPolicyViolation, "attendance can only be marked or edited for today").
		WithCode("onlyTodayAllowed").WithDetail(day)
}

func EmptyRoster(classKey string) *Error {
	return New(KindEmptyRoster, "no active students enrolled in class").WithDetail(classKey)
}

func UnknownRollNumber(roll string) *Error {
	return New(KindUnknownRollNumber, "roll number is not on the class roster").WithDetail(roll)
}

func AlreadyMarked(classKey, day string) *Error {
	return New(KindAlreadyMarked, "attendance already marked for this class and day").WithDetail(classKey + "@" + day)
}

func NothingToEdit(classKey, day string) *Error {
	return New(KindNothingToEdit, "no attendance recorded for this class and day").WithDetail(classKey + "@" + day)
}

func AlreadyInactive(id string) *Error {
	return New(KindAlreadyInactive, "assignment is already inactive").WithDetail(id)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

func NotFound(what, id string) *Error {
	return Newf(KindNotFound, "%s not found", what).WithDetail(id)
}

func Invalid(message string) *Error {
	return New(KindInvalid, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}
