package message

import (
	"errors"
	"runtime"
	"strings"
)

// DefaultMaxStackDepth bounds the stack trace serialized into error details
// when the caller asks for a limited trace.
const DefaultMaxStackDepth = 3

// StackFrame is one entry of a serialized stack trace. Class holds the
// package-qualified receiver (or the package path for free functions) and
// Method the bare function name, matching the wire format
// {class, method, file, line}.
type StackFrame struct {
	Class  string `json:"class"`
	Method string `json:"method"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}

// ErrorDetails is the body of every ERROR reply: a subset of a Go error
// that is safe to serialize. Reasons carries the unwrap chain of causes,
// innermost last.
type ErrorDetails struct {
	Error      string       `json:"error"`
	Reasons    []string     `json:"reasons"`
	StackTrace []StackFrame `json:"stackTrace"`
}

// NewErrorDetails captures err and the current call stack into a
// serializable record. stackDepth caps the number of frames: 0 means
// include none, a positive value truncates.
func NewErrorDetails(err error, stackDepth int) ErrorDetails {
	details := ErrorDetails{}
	if err != nil {
		details.Error = err.Error()
		details.Reasons = reasonChain(err)
	}
	if stackDepth > 0 {
		details.StackTrace = captureStack(3, stackDepth)
	}
	return details
}

// reasonChain walks the error's unwrap chain and collects the message of
// each cause, starting with the outermost cause and ending with the
// innermost.
func reasonChain(err error) []string {
	var reasons []string
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		reasons = append(reasons, cause.Error())
	}
	return reasons
}

// captureStack records up to depth frames of the current goroutine's stack,
// skipping the innermost skip frames (the capture machinery itself).
func captureStack(skip, depth int) []StackFrame {
	pcs := make([]uintptr, depth)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]StackFrame, 0, n)
	for {
		frame, more := frames.Next()
		class, method := splitFunction(frame.Function)
		stack = append(stack, StackFrame{
			Class:  class,
			Method: method,
			File:   frame.File,
			Line:   frame.Line,
		})
		if !more || len(stack) >= depth {
			break
		}
	}
	return stack
}

// splitFunction splits a runtime function name such as
// "ws-rpc/endpoint.(*Endpoint).handleMessage" into its qualifier and the
// bare method name.
func splitFunction(fn string) (class, method string) {
	if fn == "" {
		return "", ""
	}
	idx := strings.LastIndex(fn, ".")
	if idx < 0 {
		return "", fn
	}
	return fn[:idx], fn[idx+1:]
}
