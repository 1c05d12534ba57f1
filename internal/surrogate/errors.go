package surrogate

import (
	"errors"
	"fmt"
)

// Kind classifies a surrogate contract violation. These are caller errors,
// never transient conditions: nothing in this package retries.
type Kind int

const (
	// KindShape reports a prediction input of the wrong rank or width.
	KindShape Kind = iota
	// KindDimensionMismatch reports disagreeing vector widths or
	// out-of-range indices in the training tables.
	KindDimensionMismatch
	// KindInvalidState reports an operation that requires a trained model.
	KindInvalidState
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindShape:
		return "shape error"
	case KindDimensionMismatch:
		return "dimension mismatch"
	case KindInvalidState:
		return "invalid state"
	}
	return "unknown"
}

// Error is a surrogate error with context that can be wrapped with
// additional information.
type Error struct {
	// Kind classifies the contract violation.
	Kind Kind
	// Op is the operation that caused the error.
	Op string
	// Message names the expected versus actual dimensions or state.
	Message string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var msg string
	if e.Op != "" {
		msg = fmt.Sprintf("surrogate: %s: %s: %s", e.Op, e.Kind, e.Message)
	} else {
		msg = fmt.Sprintf("surrogate: %s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newShapeErrorf(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindShape, Op: op, Message: fmt.Sprintf(format, args...)}
}

func newDimensionMismatchf(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindDimensionMismatch, Op: op, Message: fmt.Sprintf(format, args...)}
}

func newInvalidState(op, message string) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Message: message}
}

// wrapKind wraps an existing error under the given kind. It returns nil if
// err is nil.
func wrapKind(err error, k Kind, op, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Message: message, Err: err}
}

// IsShapeError reports whether err is a rank or column-count violation.
func IsShapeError(err error) bool { return hasKind(err, KindShape) }

// IsDimensionMismatch reports whether err is a training-table width or
// index violation.
func IsDimensionMismatch(err error) bool { return hasKind(err, KindDimensionMismatch) }

// IsInvalidState reports whether err was raised by an operation on an
// untrained model.
func IsInvalidState(err error) bool { return hasKind(err, KindInvalidState) }

func hasKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
