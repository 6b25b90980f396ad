package guard_test

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/risor-io/ffiguard/elog"
	"github.com/risor-io/ffiguard/errcodes"
	"github.com/risor-io/ffiguard/guard"
	"github.com/risor-io/ffiguard/native"
	"github.com/risor-io/ffiguard/report"
	"github.com/risor-io/ffiguard/sim"
	"github.com/stretchr/testify/require"
)

func TestCallFromNativeReturnsValue(t *testing.T) {
	b, _ := setup(t)
	var got string
	require.Nil(t, b.Exec("SELECT", func() {
		got = guard.CallFromNative(func() string {
			return "ok"
		})
	}))
	require.Equal(t, "ok", got)
	require.Empty(t, b.Messages())
}

func TestSeverityGate(t *testing.T) {
	tests := []struct {
		name     string
		level    elog.Level
		returns  bool
		messages int
	}{
		{"debug", elog.DEBUG1, true, 0},
		{"log", elog.LOG, true, 0},
		{"info", elog.INFO, true, 1},
		{"notice", elog.NOTICE, true, 1},
		{"warning", elog.WARNING, true, 1},
		{"error", elog.ERROR, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, a := setup(t)
			var returned bool
			var got int
			err := b.Exec("DO", func() {
				got = guard.CallFromNative(func() int {
					panic(report.New(errcodes.RaiseException, "raised at "+tt.name, "gate").WithLevel(tt.level))
				})
				returned = true
			})
			require.Equal(t, tt.returns, returned)
			require.Zero(t, got)
			require.Len(t, b.Messages(), tt.messages)
			require.Empty(t, a.messages)
			if tt.returns {
				require.Nil(t, err)
			} else {
				pgErr := requirePgError(t, err, errcodes.RaiseException)
				require.Equal(t, "raised at error", pgErr.Message)
				require.Equal(t, "gate", pgErr.Routine)
			}
		})
	}
}

func TestFatalReportTerminates(t *testing.T) {
	b, a := setup(t)
	err := b.Exec("DO", func() {
		guard.CallFromNative(func() int {
			panic(report.New(errcodes.AdminShutdown, "shutting down", "").WithLevel(elog.FATAL))
		})
	})
	require.True(t, errors.Is(err, sim.ErrTerminated))
	require.Empty(t, a.messages)
	require.Equal(t, elog.FATAL, b.Terminated().Level)
}

// lenient is a runtime whose report function never jumps.
type lenient struct {
	*sim.Backend
}

func (lenient) Report(native.ReportRequest) {}

func TestReportReturningAtErrorIsFatal(t *testing.T) {
	b, a := setup(t)
	guard.Setup(lenient{b}, guard.WithAbortHandler(a.handle))
	r := recovered(func() {
		guard.CallFromNative(func() int {
			panic(report.New(errcodes.InternalError, "boom", "").WithLevel(elog.ERROR))
		})
	})
	require.IsType(t, &guard.FatalError{}, r)
	require.Len(t, a.messages, 1)
	require.Equal(t, "native runtime returned from a report at level ERROR", a.messages[0])
}

func TestRawUnwindIsLocated(t *testing.T) {
	b, _ := setup(t)
	var line int
	err := b.Exec("DO", func() {
		guard.CallFromNative(func() int {
			_, _, line, _ = runtime.Caller(0)
			panic("index out of range")
		})
	})
	pgErr := requirePgError(t, err, errcodes.InternalError)
	require.Equal(t, "index out of range", pgErr.Message)
	require.True(t, strings.HasSuffix(pgErr.File, "inbound_test.go"), pgErr.File)
	require.Equal(t, int32(line+1), pgErr.Line)
}

func TestRuntimeErrorPanic(t *testing.T) {
	b, _ := setup(t)
	err := b.Exec("DO", func() {
		guard.CallFromNative(func() int {
			var values []int
			return values[3]
		})
	})
	pgErr := requirePgError(t, err, errcodes.InternalError)
	require.Contains(t, pgErr.Message, "index out of range")
	require.True(t, strings.HasSuffix(pgErr.File, "inbound_test.go"), pgErr.File)
}

func TestErrorValueWrappingReport(t *testing.T) {
	b, _ := setup(t)
	wrapped := report.New(errcodes.UniqueViolation, "duplicate key", "insert").WithLevel(elog.ERROR)
	err := b.Exec("INSERT", func() {
		guard.CallFromNative(func() int {
			panic(fmt.Errorf("inserting row: %w", wrapped))
		})
	})
	pgErr := requirePgError(t, err, errcodes.UniqueViolation)
	require.Equal(t, "duplicate key", pgErr.Message)
}

func TestPropagatedErrorResumes(t *testing.T) {
	b, _ := setup(t)
	var cleanedUp bool
	err := b.Exec("SELECT", func() {
		guard.CallFromNative(func() int64 {
			defer func() {
				cleanedUp = true
			}()
			return guard.CallNative(func() int64 {
				return b.Lookup("missing")
			})
		})
	})
	require.True(t, cleanedUp)
	pgErr := requirePgError(t, err, errcodes.UndefinedTable)
	require.Equal(t, `relation "missing" does not exist`, pgErr.Message)
	require.Equal(t, 1, b.Stats().ReThrows)
	// resumed, not reported again
	require.Equal(t, 1, b.Stats().ErrorsRaised)
	require.Len(t, b.Messages(), 1)
	require.Nil(t, b.Close())
}

func TestNestedCallbacksResumeOnce(t *testing.T) {
	var b *sim.Backend
	b, _ = setup(t, sim.WithFunctions(funcs{
		"inner": func(args ...native.Datum) native.Datum {
			return guard.CallFromNative(func() native.Datum {
				return guard.CallNative(func() int64 {
					return b.Divide(args[0].(int64), 0)
				})
			})
		},
		"outer": func(args ...native.Datum) native.Datum {
			return guard.CallFromNative(func() native.Datum {
				return guard.CallNative(func() native.Datum {
					return b.CallFunction("inner", args...)
				})
			})
		},
	}))

	err := b.Exec("SELECT outer(1)", func() {
		b.CallFunction("outer", int64(1))
	})
	requirePgError(t, err, errcodes.DivisionByZero)

	stats := b.Stats()
	require.Equal(t, 1, stats.ErrorsRaised)
	// each callback frame resumes the error into the native frame below it
	require.Equal(t, 2, stats.ReThrows)
	require.Equal(t, 2, stats.ErrorsCopied)
	require.Equal(t, 2, stats.ErrorsFreed)
	require.Len(t, b.Messages(), 1)
	require.Nil(t, b.Close())
}

func TestManagedErrorCrossesNativeFrames(t *testing.T) {
	var b *sim.Backend
	b, _ = setup(t, sim.WithFunctions(funcs{
		"validate": func(args ...native.Datum) native.Datum {
			return guard.CallFromNative(func() native.Datum {
				if args[0].(int64) < 0 {
					guard.Errorf("value %d is negative", args[0])
				}
				return args[0]
			})
		},
	}))

	var cleanedUp bool
	err := b.Exec("SELECT validate(-1)", func() {
		guard.CallFromNative(func() native.Datum {
			defer func() {
				cleanedUp = true
			}()
			return guard.CallNative(func() native.Datum {
				return b.CallFunction("validate", int64(-1))
			})
		})
	})

	require.True(t, cleanedUp)
	pgErr := requirePgError(t, err, errcodes.RaiseException)
	require.Equal(t, "value -1 is negative", pgErr.Message)
	require.Equal(t, 1, b.Stats().ErrorsRaised)
	require.Equal(t, 1, b.Stats().ReThrows)
	require.Nil(t, b.Close())
}
