package delta

import (
	"fmt"
	"strings"
)

// ErrorKind classifies decode failures. Each kind is itself an error, so
// callers can test a decode error with errors.Is(err, delta.ErrUnknownOperation).
type ErrorKind int

const (
	// ErrSyntax: the input is not well-formed JSON.
	ErrSyntax ErrorKind = iota + 1
	// ErrMissingField: "ops" or an element's payload field is absent.
	ErrMissingField
	// ErrUnknownOperation: an element carries none of the known payload fields.
	ErrUnknownOperation
	// ErrAmbiguousOperation: an element carries more than one payload field.
	ErrAmbiguousOperation
	// ErrUnexpectedField: a field outside the closed field set, or a repeated field.
	ErrUnexpectedField
	// ErrTypeMismatch: a field is present but has the wrong JSON type.
	ErrTypeMismatch
)

var kindNames = map[ErrorKind]string{
	ErrSyntax:             "syntax error",
	ErrMissingField:       "missing field",
	ErrUnknownOperation:   "unknown operation",
	ErrAmbiguousOperation: "ambiguous operation",
	ErrUnexpectedField:    "unexpected field",
	ErrTypeMismatch:       "type mismatch",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

func (k ErrorKind) Error() string { return "delta: " + k.String() }

// DecodeError describes why a document could not be decoded.
type DecodeError struct {
	Kind ErrorKind
	// Index of the offending element of "ops", or -1 for the top level.
	Index int
	// Field the error refers to, if any.
	Field  string
	Detail string
	Err    error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("delta: ")
	if e.Index >= 0 {
		fmt.Fprintf(&b, "ops[%d]: ", e.Index)
	}
	b.WriteString(e.Kind.String())
	if e.Field != "" {
		fmt.Fprintf(&b, " %q", e.Field)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the error against its ErrorKind.
func (e *DecodeError) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

func (e *DecodeError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, index int, field, detail string) *DecodeError {
	return &DecodeError{Kind: kind, Index: index, Field: field, Detail: detail}
}
