// Package errors provides contextual error handling for the TAIGA server.
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Error is an error with operational context attached.
type Error struct {
	// Err is the underlying error, if any.
	Err error
	// Message describes what went wrong.
	Message string
	// Operation is the operation that failed.
	Operation string
	// Component is the subsystem where the error occurred.
	Component string
	// Stack is the call stack at the point the error was created.
	Stack string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Component != "" {
		b.WriteString(e.Component)
		b.WriteString(": ")
	}
	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the given component, operation and message.
func New(component, operation, message string) *Error {
	return &Error{
		Message:   message,
		Operation: operation,
		Component: component,
		Stack:     getStackTrace(),
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(component, operation, format string, args ...interface{}) *Error {
	return &Error{
		Message:   fmt.Sprintf(format, args...),
		Operation: operation,
		Component: component,
		Stack:     getStackTrace(),
	}
}

// Wrap wraps an existing error with component and operation context. It
// returns nil if err is nil.
func Wrap(err error, component, operation, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Err:       err,
		Message:   message,
		Operation: operation,
		Component: component,
		Stack:     getStackTrace(),
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, component, operation, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Err:       err,
		Message:   fmt.Sprintf(format, args...),
		Operation: operation,
		Component: component,
		Stack:     getStackTrace(),
	}
}

func getStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		if strings.Contains(frame.File, "runtime/") {
			break
		}
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
