// Package errdefs defines the error kinds and codes reported while building executables.
//
// Every failure carries a Kind (what class of problem occurred) and a Code (which problem exactly).
// Callers match codes with errors.Is against the exported sentinels and kinds with KindOf.
package errdefs

import (
	"fmt"

	"gitlab.com/tozd/go/errors"
)

// Kind classifies errors.
type Kind int

const (
	// Format reports malformed headers or resource blocks.
	Format Kind = iota + 1
	// NotFound reports a missing marker, resource or token.
	NotFound
	// Range reports offsets or RVAs outside their valid bounds.
	Range
	// UnsupportedPlatform reports a donor or host platform mismatch.
	UnsupportedPlatform
	// ExternalTool reports failing collaborators (bundler, converter, signer).
	ExternalTool
	// InvalidOptions reports unusable build options.
	InvalidOptions
)

var kindNames = map[Kind]string{
	Format:              "format error",
	NotFound:            "not found",
	Range:               "range error",
	UnsupportedPlatform: "unsupported platform",
	ExternalTool:        "external tool error",
	InvalidOptions:      "invalid options",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Code names a specific error condition.
type Code string

// Error is the typed error returned by all exeup packages.
type Error struct {
	Kind Kind
	Code Code
	Msg  string
	Err  error // optional cause
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrMarkerNotFound        = sentinel(NotFound, "MarkerNotFound", "marker not found")
	ErrAmbiguousMarker       = sentinel(Format, "AmbiguousMarker", "marker is not unique")
	ErrAlreadyInjected       = sentinel(Format, "AlreadyInjected", "executable already contains a payload")
	ErrMalformedHeader       = sentinel(Format, "MalformedHeader", "malformed header")
	ErrRvaOutOfRange         = sentinel(Range, "RvaOutOfRange", "rva out of range")
	ErrResourceNotFound      = sentinel(NotFound, "ResourceNotFound", "resource not found")
	ErrInvalidVersionBlock   = sentinel(Format, "InvalidVersionBlock", "invalid version block")
	ErrInvalidIcon           = sentinel(Format, "InvalidIcon", "invalid icon")
	ErrUnknownExecutionLevel = sentinel(InvalidOptions, "UnknownExecutionLevel", "unknown execution level")
	ErrTokenNotFound         = sentinel(NotFound, "TokenNotFound", "execution level token not found")
	ErrExternalToolFailed    = sentinel(ExternalTool, "ExternalToolFailed", "external tool failed")
	ErrExternalToolTimeout   = sentinel(ExternalTool, "ExternalToolTimeout", "external tool timed out")
	ErrUnsupportedPlatform   = sentinel(UnsupportedPlatform, "UnsupportedPlatform", "unsupported platform")
	ErrMissingOption         = sentinel(InvalidOptions, "MissingOption", "missing option")
)

func sentinel(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// New returns an error with the kind and code of the given sentinel and a formatted message.
func New(s *Error, format string, args ...interface{}) *Error {
	return &Error{
		Kind: s.Kind,
		Code: s.Code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// Wrap is like New, but records err as the cause.
func Wrap(s *Error, err error, format string, args ...interface{}) *Error {
	e := New(s, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or zero if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the code of the first *Error in err's chain, or an empty code if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
