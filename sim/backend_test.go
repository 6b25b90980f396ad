package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/risor-io/ffiguard/elog"
	"github.com/risor-io/ffiguard/errcodes"
	"github.com/risor-io/ffiguard/native"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type funcs map[string]native.Function

func (f funcs) Lookup(name string) (native.Function, bool) {
	fn, ok := f[name]
	return fn, ok
}

func newBackend(opts ...Option) *Backend {
	return New(append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
}

func requirePgError(t *testing.T, err error, code errcodes.Code) *pgconn.PgError {
	t.Helper()
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, code.SQLState(), pgErr.Code)
	return pgErr
}

func TestExecSuccess(t *testing.T) {
	b := newBackend()
	var got int64
	err := b.Exec("SELECT 6 / 3", func() {
		got = b.Divide(6, 3)
	})
	require.Nil(t, err)
	require.Equal(t, int64(2), got)
	require.Nil(t, b.Close())
	require.Equal(t, 1, b.TransactionContext().Resets())
}

func TestExecError(t *testing.T) {
	b := newBackend()
	err := b.Exec("SELECT 1 / 0", func() {
		b.Divide(1, 0)
		t.Fatal("Divide returned")
	})
	pgErr := requirePgError(t, err, errcodes.DivisionByZero)
	require.Equal(t, "ERROR", pgErr.Severity)
	require.Equal(t, "division by zero", pgErr.Message)
	require.Equal(t, "int8div", pgErr.Routine)
	require.Equal(t, "int8.c", pgErr.File)
	require.Equal(t, int32(613), pgErr.Line)

	msgs := b.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, elog.ERROR, msgs[0].Level)
	require.Equal(t, "int8div, int8.c:613", msgs[0].Location)

	require.Equal(t, 0, b.PendingErrors())
	require.Nil(t, b.Close())
	require.Nil(t, b.Terminated())

	// the backend keeps serving statements
	require.Nil(t, b.Exec("SELECT 1", func() {}))
}

func TestDivideOverflow(t *testing.T) {
	b := newBackend()
	err := b.Exec("SELECT", func() {
		b.Divide(math.MinInt64, -1)
	})
	pgErr := requirePgError(t, err, errcodes.NumericValueOutOfRange)
	require.Equal(t, "bigint out of range", pgErr.Message)
}

func TestMessageLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     elog.Level
		delivered bool
	}{
		{"debug", elog.DEBUG1, false},
		{"log", elog.LOG, false},
		{"server only", elog.LOG_SERVER_ONLY, false},
		{"info", elog.INFO, true},
		{"notice", elog.NOTICE, true},
		{"warning", elog.WARNING, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend()
			require.Nil(t, b.Exec("DO", func() {
				b.Elog(tt.level, errcodes.SuccessfulCompletion, "hello")
			}))
			if tt.delivered {
				require.Len(t, b.Messages(), 1)
				require.Equal(t, "hello", b.Messages()[0].Text)
			} else {
				require.Empty(t, b.Messages())
			}
		})
	}
}

func TestClientMinMessages(t *testing.T) {
	b := newBackend(WithClientMinMessages(elog.WARNING))
	require.Nil(t, b.Exec("DO", func() {
		b.Elog(elog.NOTICE, errcodes.SuccessfulCompletion, "quiet")
		b.Elog(elog.WARNING, errcodes.Warning, "loud")
	}))
	msgs := b.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "loud", msgs[0].Text)
}

func TestErrorWithoutTargetIsFatal(t *testing.T) {
	b := newBackend()
	require.Panics(t, func() {
		b.Elog(elog.ERROR, errcodes.InternalError, "no handler")
	})
	exit := b.Terminated()
	require.NotNil(t, exit)
	require.Equal(t, elog.FATAL, exit.Level)

	err := b.Exec("SELECT 1", func() {})
	require.True(t, errors.Is(err, ErrTerminated))
}

func TestFatalTerminates(t *testing.T) {
	b := newBackend()
	err := b.Exec("DO", func() {
		b.Elog(elog.FATAL, errcodes.AdminShutdown, "terminating connection")
	})
	var terminated *TerminatedError
	require.ErrorAs(t, err, &terminated)
	require.Equal(t, elog.FATAL, terminated.Exit.Level)
	require.Equal(t, errcodes.AdminShutdown, terminated.Exit.Code)
	require.NotNil(t, b.Terminated())
}

func TestUnguardedPanicTerminates(t *testing.T) {
	b := newBackend()
	err := b.Exec("DO", func() {
		panic("go panic")
	})
	require.True(t, errors.Is(err, ErrTerminated))
	require.Contains(t, err.Error(), "unguarded panic crossed into the backend: go panic")
}

func TestCallFunction(t *testing.T) {
	b := newBackend(WithFunctions(funcs{
		"add": func(args ...native.Datum) native.Datum {
			return args[0].(int64) + args[1].(int64)
		},
	}))
	var got native.Datum
	require.Nil(t, b.Exec("SELECT add(1, 2)", func() {
		got = b.CallFunction("add", int64(1), int64(2))
	}))
	require.Equal(t, int64(3), got)

	err := b.Exec("SELECT nope()", func() {
		b.CallFunction("nope")
	})
	pgErr := requirePgError(t, err, errcodes.UndefinedFunction)
	require.Equal(t, "function nope does not exist", pgErr.Message)
}

func TestLookup(t *testing.T) {
	b := newBackend(WithRelation("users", 16384))
	var oid int64
	require.Nil(t, b.Exec("SELECT", func() {
		oid = b.Lookup("users")
	}))
	require.Equal(t, int64(16384), oid)

	err := b.Exec("SELECT", func() {
		b.Lookup("orders")
	})
	pgErr := requirePgError(t, err, errcodes.UndefinedTable)
	require.Equal(t, `relation "orders" does not exist`, pgErr.Message)
}

func TestPalloc(t *testing.T) {
	b := newBackend(WithMaxAllocSize(64))
	require.Nil(t, b.Exec("SELECT", func() {
		require.Len(t, b.Palloc(16), 16)
	}))
	require.Equal(t, 1, b.TransactionContext().Allocations())
	require.Equal(t, 0, b.TransactionContext().Live())

	err := b.Exec("SELECT", func() {
		b.Palloc(65)
	})
	pgErr := requirePgError(t, err, errcodes.InternalError)
	require.Equal(t, "invalid memory alloc request size 65", pgErr.Message)
}

func TestErrorContext(t *testing.T) {
	b := newBackend()
	b.Exec("SELECT f()", func() {
		b.WithErrorContext("outer", func() string { return "SQL function \"f\"" }, func() {
			b.WithErrorContext("inner", func() string { return "line 3" }, func() {
				b.Lookup("missing")
			})
		})
	})
	msgs := b.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "line 3\nSQL function \"f\"", msgs[0].Context)
	require.Nil(t, b.ErrorContextStack())
	require.Nil(t, b.Close())
}

func TestTryCatch(t *testing.T) {
	b := newBackend()
	var caught bool
	var stackInCatch *native.JumpTarget
	err := b.Exec("DO", func() {
		outer := b.ExceptionStack()
		b.TryCatch(func() {
			b.Divide(1, 0)
		}, func() {
			caught = true
			stackInCatch = b.ExceptionStack()
			require.Equal(t, outer, stackInCatch)
		})
	})
	require.True(t, caught)
	requirePgError(t, err, errcodes.DivisionByZero)
	require.Equal(t, 1, b.Stats().ReThrows)
}

func TestTryCatchNoError(t *testing.T) {
	b := newBackend()
	require.Nil(t, b.Exec("DO", func() {
		b.TryCatch(func() {}, func() {
			t.Fatal("catch ran")
		})
	}))
}

func TestCopyErrorDataInErrorContextAsserts(t *testing.T) {
	b := newBackend()
	var data *native.ErrorData
	err := b.Exec("DO", func() {
		b.TryCatch(func() {
			b.Divide(1, 0)
		}, func() {
			// the error path leaves ErrorContext current
			require.Equal(t, "ErrorContext", b.CurrentMemoryContext().Name())
			data = b.CopyErrorData()
		})
	})
	require.Nil(t, data)
	var terminated *TerminatedError
	require.ErrorAs(t, err, &terminated)
	require.Equal(t, elog.PANIC, terminated.Exit.Level)
	require.Contains(t, terminated.Exit.Message, "TRAP: CopyErrorData called while ErrorContext is current")
}

func TestCopyErrorData(t *testing.T) {
	b := newBackend()
	var copied native.ErrorData
	err := b.Exec("DO", func() {
		saved := b.CurrentMemoryContext()
		b.TryCatch(func() {
			b.Divide(1, 0)
		}, func() {
			b.SetCurrentMemoryContext(saved)
			data := b.CopyErrorData()
			copied = *data
			b.FreeErrorData(data)
			b.SetCurrentMemoryContext(b.ErrorMemoryContext())
		})
	})
	requirePgError(t, err, errcodes.DivisionByZero)
	require.Equal(t, errcodes.DivisionByZero, copied.SQLErrCode)
	require.Equal(t, "division by zero", copied.Message)
	require.Equal(t, 1, b.Stats().ErrorsCopied)
	require.Equal(t, 1, b.Stats().ErrorsFreed)
	require.Nil(t, b.Close())
}

func TestCloseReportsLeaks(t *testing.T) {
	b := newBackend()
	b.SetExceptionStack(native.NewJumpTarget("leaked"))
	b.SetErrorContextStack(&native.ErrorContextCallback{Name: "leaked"})
	b.SetCurrentMemoryContext(b.TransactionContext())
	err := b.Close()
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "exception stack still installed: leaked")
	require.Contains(t, err.Error(), "error context callback still installed: leaked")
	require.Contains(t, err.Error(), "current memory context is TransactionContext")
}

func TestBackendIDs(t *testing.T) {
	require.NotEqual(t, newBackend().ID(), newBackend().ID())
}
