package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Code classifies a registry failure. Transports carry the code verbatim so
// that callers on the other side of the wire can branch on the category.
type Code string

const (
	// CodeInvalidArgument indicates malformed input: an empty resource name,
	// an unknown behavior ordinal, or parameters the resource kind rejected.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeAlreadyExists indicates INITIALIZE_NEW collided with an open session.
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	// CodeNotFound indicates ATTACH_TO_EXISTING missed, or a session id that is
	// unknown or already closed.
	CodeNotFound Code = "NOT_FOUND"
	// CodePermissionDenied indicates the resource kind could not access the
	// underlying resource.
	CodePermissionDenied Code = "PERMISSION_DENIED"
	// CodeInternal covers every other construction, destruction or operation failure.
	CodeInternal Code = "INTERNAL"
)

// Valid reports whether c is one of the known codes.
func (c Code) Valid() bool {
	switch c {
	case CodeInvalidArgument, CodeAlreadyExists, CodeNotFound, CodePermissionDenied, CodeInternal:
		return true
	}
	return false
}

// Error is the typed error returned by every registry operation.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " "))
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, which lets the sentinel
// values below be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Code == e.Code
}

// Sentinels for errors.Is comparisons. They carry only a code.
var (
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument}
	ErrAlreadyExists    = &Error{Code: CodeAlreadyExists}
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrPermissionDenied = &Error{Code: CodePermissionDenied}
	ErrInternal         = &Error{Code: CodeInternal}
)

// Errorf builds an *Error with a formatted message. A %w verb in format is
// honored and becomes the wrapped cause.
func Errorf(code Code, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Code: code, Message: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// CodeOf classifies err. Typed registry errors keep their code; filesystem
// permission and existence errors map to PermissionDenied and NotFound;
// everything else is Internal. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) && re.Code.Valid() {
		return re.Code
	}
	switch {
	case errors.Is(err, fs.ErrPermission):
		return CodePermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return CodeNotFound
	}
	return CodeInternal
}

// classify wraps a collaborator error into an *Error, preserving any code the
// collaborator already chose.
func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	msg := fmt.Sprintf(format, args...) + ": " + err.Error()
	return &Error{Code: CodeOf(err), Message: msg, Err: err}
}
