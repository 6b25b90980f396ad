package sim

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/risor-io/ffiguard/elog"
	"github.com/risor-io/ffiguard/errcodes"
	"github.com/risor-io/ffiguard/native"
	"github.com/risor-io/ffiguard/report"
)

// ErrTerminated is returned by Exec once the backend has exited.
var ErrTerminated = errors.New("backend terminated")

// TerminatedError describes why the backend exited.
type TerminatedError struct {
	Exit *native.Exit
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTerminated, e.Exit)
}

func (e *TerminatedError) Unwrap() error {
	return ErrTerminated
}

// Exec runs one statement the way the backend's main loop does: with a
// top-level jump target installed and a fresh transaction context. An
// error that jumps to the top level aborts the statement and is returned as
// the *pgconn.PgError a client would receive. Process exits, and Go panics
// that escaped every guard, terminate the backend.
func (b *Backend) Exec(statement string, fn func()) (err error) {
	if b.terminated != nil {
		return &TerminatedError{Exit: b.terminated}
	}
	target := native.NewJumpTarget("main loop")
	b.SetExceptionStack(target)
	b.current = b.txn
	b.logger.Debug().Str("statement", statement).Msg("exec")

	defer func() {
		r := recover()
		b.exceptionStack = nil
		b.contextStack = nil
		b.current = b.top

		switch v := r.(type) {
		case nil:
			b.txn.reset()
		case *native.Jump:
			if v.Target != target {
				b.terminated = &native.Exit{
					Level:   elog.PANIC,
					Code:    errcodes.InternalError,
					Message: fmt.Sprintf("jump to unknown target %s", v.Target),
				}
				err = &TerminatedError{Exit: b.terminated}
				return
			}
			if len(b.errors) == 0 {
				b.terminated = &native.Exit{
					Level:   elog.PANIC,
					Code:    errcodes.InternalError,
					Message: "jumped to the main loop without an error",
				}
				err = &TerminatedError{Exit: b.terminated}
				return
			}
			data := b.errors[len(b.errors)-1]
			b.emit(&data)
			b.FlushErrorState()
			b.txn.reset()
			err = report.FromErrorData(&data).PgError()
		case *native.Exit:
			err = &TerminatedError{Exit: v}
		default:
			// the host cannot unwind Go frames; a panic reaching it is fatal
			b.terminated = &native.Exit{
				Level:   elog.PANIC,
				Code:    errcodes.InternalError,
				Message: fmt.Sprintf("unguarded panic crossed into the backend: %v", v),
			}
			err = &TerminatedError{Exit: b.terminated}
		}
	}()

	fn()
	return nil
}

// CallFunction calls a registered entry point, as the function manager
// does. Unknown names raise UNDEFINED_FUNCTION.
func (b *Backend) CallFunction(name string, args ...native.Datum) native.Datum {
	var fn native.Function
	var ok bool
	if b.functions != nil {
		fn, ok = b.functions.Lookup(name)
	}
	if !ok {
		b.Report(native.ReportRequest{
			Level:    elog.ERROR,
			Code:     errcodes.UndefinedFunction,
			Message:  fmt.Sprintf("function %s does not exist", name),
			FuncName: "LookupFuncName",
			File:     "parse_func.c",
			Line:     2139,
		})
	}
	return fn(args...)
}

// WithErrorContext runs fn with an error context callback pushed. The
// callback is popped only when fn returns normally; an error leaves it
// installed for whoever catches the jump to undo.
func (b *Backend) WithErrorContext(name string, line func() string, fn func()) {
	cb := &native.ErrorContextCallback{Name: name, Callback: line, Previous: b.contextStack}
	b.SetErrorContextStack(cb)
	fn()
	b.SetErrorContextStack(cb.Previous)
}

// TryCatch runs body with its own jump target. If body raises an error,
// the target is removed, catch runs and the error is thrown again.
func (b *Backend) TryCatch(body func(), catch func()) {
	saveStack := b.exceptionStack
	saveContext := b.contextStack
	target := native.NewJumpTarget("TryCatch")
	b.SetExceptionStack(target)

	caught := func() (caught bool) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if jump, ok := r.(*native.Jump); ok && jump.Target == target {
				caught = true
				return
			}
			b.SetExceptionStack(saveStack)
			b.SetErrorContextStack(saveContext)
			panic(r)
		}()
		body()
		return false
	}()

	b.SetExceptionStack(saveStack)
	b.SetErrorContextStack(saveContext)
	if caught {
		if catch != nil {
			catch()
		}
		b.ReThrow()
	}
}

// Elog reports a message located at the caller.
func (b *Backend) Elog(level elog.Level, code errcodes.Code, message string) {
	_, file, line, _ := runtime.Caller(1)
	b.Report(native.ReportRequest{
		Level:   level,
		Code:    code,
		Message: message,
		File:    file,
		Line:    uint32(line),
	})
}

// Palloc allocates size bytes in the current memory context.
func (b *Backend) Palloc(size int) []byte {
	if size < 0 || size > b.maxAllocSize {
		b.Report(native.ReportRequest{
			Level:    elog.ERROR,
			Code:     errcodes.InternalError,
			Message:  fmt.Sprintf("invalid memory alloc request size %d", size),
			FuncName: "palloc",
			File:     "mcxt.c",
			Line:     1077,
		})
	}
	b.current.alloc()
	return make([]byte, size)
}

// Divide divides two bigints.
func (b *Backend) Divide(dividend, divisor int64) int64 {
	if divisor == 0 {
		b.Report(native.ReportRequest{
			Level:    elog.ERROR,
			Code:     errcodes.DivisionByZero,
			Message:  "division by zero",
			FuncName: "int8div",
			File:     "int8.c",
			Line:     613,
		})
	}
	if dividend == math.MinInt64 && divisor == -1 {
		b.Report(native.ReportRequest{
			Level:    elog.ERROR,
			Code:     errcodes.NumericValueOutOfRange,
			Message:  "bigint out of range",
			FuncName: "int8div",
			File:     "int8.c",
			Line:     628,
		})
	}
	return dividend / divisor
}

// Lookup resolves a relation name to its oid.
func (b *Backend) Lookup(relname string) int64 {
	oid, ok := b.relations[relname]
	if !ok {
		b.Report(native.ReportRequest{
			Level:    elog.ERROR,
			Code:     errcodes.UndefinedTable,
			Message:  fmt.Sprintf("relation \"%s\" does not exist", relname),
			FuncName: "RangeVarGetRelidExtended",
			File:     "namespace.c",
			Line:     433,
		})
	}
	return oid
}
