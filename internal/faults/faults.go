// Package faults defines the error taxonomy shared by the classification
// pipeline. Every step reports failures as *Error so the orchestrator can
// record why a submission aborted without inspecting message text.
package faults

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindDecode        Kind = "decode"
	KindFormat        Kind = "format"
	KindShapeMismatch Kind = "shape_mismatch"
	KindLoad          Kind = "load"
	KindInference     Kind = "inference"
	KindIO            Kind = "io"
	KindSchema        Kind = "schema"
	KindInsert        Kind = "insert"
	KindQuery         Kind = "query"
	KindDelete        Kind = "delete"
	KindCancelled     Kind = "cancelled"
)

// Sentinels for errors.Is checks. They match any *Error of the same kind.
var (
	ErrDecode        = &Error{Kind: KindDecode}
	ErrFormat        = &Error{Kind: KindFormat}
	ErrShapeMismatch = &Error{Kind: KindShapeMismatch}
	ErrLoad          = &Error{Kind: KindLoad}
	ErrInference     = &Error{Kind: KindInference}
	ErrIO            = &Error{Kind: KindIO}
	ErrSchema        = &Error{Kind: KindSchema}
	ErrInsert        = &Error{Kind: KindInsert}
	ErrQuery         = &Error{Kind: KindQuery}
	ErrDelete        = &Error{Kind: KindDelete}
	ErrCancelled     = &Error{Kind: KindCancelled}
)

// Error is a classified failure with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Kind) + " error"
	case e.Err == nil:
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// ErrorKind returns the classification as a plain string.
func (e *Error) ErrorKind() string { return string(e.Kind) }

// New builds a classified error from a message.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: eris.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Unclassified
// context cancellations and deadlines report KindCancelled; any other
// unclassified error reports "".
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return ""
}
