// Package xerrors provides error constructors that capture caller
// position, feeding the stack enrichment in internal/log.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// stacked carries a full call stack captured at construction.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// annotated carries a message prefix and the single PC of the wrap site.
type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (a *annotated) Error() string     { return a.msg + ": " + a.err.Error() }
func (a *annotated) Unwrap() error     { return a.err }
func (a *annotated) PC() uintptr       { return a.pc }
func (a *annotated) IsXerrorsWrapper() {}

func captureStack(skip int) []uintptr {
	const maxDepth = 64
	pcs := make([]uintptr, maxDepth)
	// skip runtime.Callers and captureStack itself
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

func stackedSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: captureStack(skip)}
}

// WithStack attaches the current call stack to err.
func WithStack(err error) error { return stackedSkip(err, 2) }

// EnsureTrace attaches a stack only if err does not already carry one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return stackedSkip(err, 2)
}

// Wrap prefixes err with msg and records the wrap site.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// New returns a stack-carrying error.
func New(msg string) error { return stackedSkip(errors.New(msg), 2) }

// Newf is New with a format string.
func Newf(format string, args ...any) error { return stackedSkip(fmt.Errorf(format, args...), 2) }
