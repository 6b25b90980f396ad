// Package native describes the single-threaded host runtime that the bridge
// calls into and is called back from.
//
// The host signals errors with a non-local jump: it records a resumption
// point and, on error, transfers control straight to it. In Go that transfer
// is a panic carrying a *Jump. Process termination (FATAL and PANIC reports)
// is a panic carrying an *Exit. Managed code must never intercept either one
// unless it owns the jump target.
package native

import (
	"fmt"

	"github.com/risor-io/ffiguard/elog"
	"github.com/risor-io/ffiguard/errcodes"
)

// JumpTarget is a resumption point. Targets are compared by identity.
type JumpTarget struct {
	name string
}

// NewJumpTarget returns a fresh, uninstalled target.
func NewJumpTarget(name string) *JumpTarget {
	return &JumpTarget{name: name}
}

func (t *JumpTarget) String() string {
	if t == nil {
		return "<none>"
	}
	return t.name
}

// Jump is the payload of a non-local jump to Target.
type Jump struct {
	Target *JumpTarget
	Value  int
}

func (j *Jump) String() string {
	return fmt.Sprintf("jump to %s (%d)", j.Target, j.Value)
}

// Exit is the payload of a host process termination.
type Exit struct {
	Level   elog.Level
	Code    errcodes.Code
	Message string
}

func (e *Exit) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Level, e.Code, e.Message)
}

// ErrorContextCallback is one link of the host's error context chain.
// Callbacks are invoked while an error is being reported to add context
// lines to it.
type ErrorContextCallback struct {
	Name     string
	Callback func() string
	Previous *ErrorContextCallback
}

// MemoryContext is an arena owned by the host.
type MemoryContext interface {
	Name() string
}

// ErrorData is the host's record of the error currently being handled.
type ErrorData struct {
	Elevel     elog.Level
	SQLErrCode errcodes.Code
	Message    string
	Detail     string
	Hint       string
	Context    string
	FuncName   string
	Filename   string
	Lineno     uint32
	Colno      uint32
}

// ReportRequest holds the arguments of a host error report.
type ReportRequest struct {
	Level    elog.Level
	Code     errcodes.Code
	Message  string
	Detail   string
	Hint     string
	FuncName string
	File     string
	Line     uint32
	Column   uint32
}

// Runtime is the host interface consumed by the bridge. Every method must be
// called from the host's own thread.
type Runtime interface {
	// Report emits an error report. It does not return when
	// req.Level >= elog.ERROR.
	Report(req ReportRequest)

	// CopyErrorData copies the error currently being handled. It must not
	// be called while the host's error context is current.
	CopyErrorData() *ErrorData
	// FreeErrorData releases a copy returned by CopyErrorData.
	FreeErrorData(data *ErrorData)
	// FlushErrorState discards the error currently being handled.
	FlushErrorState()
	// ReThrow resumes the error currently being handled as a jump to the
	// installed exception stack. It never returns.
	ReThrow()

	ExceptionStack() *JumpTarget
	SetExceptionStack(target *JumpTarget)
	ErrorContextStack() *ErrorContextCallback
	SetErrorContextStack(cb *ErrorContextCallback)

	CurrentMemoryContext() MemoryContext
	SetCurrentMemoryContext(ctx MemoryContext)
	ErrorMemoryContext() MemoryContext
}

// Datum is a value passed across the boundary. Datums must be plain values
// with nothing left to clean up.
type Datum any

// Function is an entry point the host may call.
type Function func(args ...Datum) Datum

// FunctionTable resolves entry points by name.
type FunctionTable interface {
	Lookup(name string) (Function, bool)
}

// IsControlTransfer reports whether a recovered panic value belongs to the
// host rather than to managed code.
func IsControlTransfer(v any) bool {
	switch v.(type) {
	case *Jump, *Exit:
		return true
	default:
		return false
	}
}
