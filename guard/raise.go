package guard

import (
	"errors"
	"fmt"

	"github.com/risor-io/ffiguard/elog"
	"github.com/risor-io/ffiguard/errcodes"
	"github.com/risor-io/ffiguard/report"
)

// Raise dispatches a report by level. ERROR panics so the Go frames between
// here and the nearest guard unwind; the report reaches the native runtime
// at the outermost CallFromNative. Lower levels are emitted immediately and
// Raise returns. FATAL and PANIC are reported directly and terminate the
// runtime.
func Raise(r *report.ReportWithLevel) {
	switch {
	case r.Level == elog.ERROR:
		panic(r)
	case r.Level.Aborts():
		emit(r)
		fatal("native runtime returned from a report at level %s", r.Level)
	default:
		emit(r)
	}
}

func emit(r *report.ReportWithLevel) {
	rt := active()
	CallNativeVoid(func() {
		rt.Report(r.Request())
	})
}

// Ereport raises a report located at the caller.
func Ereport(level elog.Level, code errcodes.Code, message string) {
	Raise(report.WithLocation(code, message, report.Caller(1)).WithLevel(level))
}

// Errorf raises an ERROR with code RAISE_EXCEPTION. It does not return.
func Errorf(format string, args ...any) {
	raiseAt(elog.ERROR, errcodes.RaiseException, fmt.Sprintf(format, args...))
}

// Warning emits a WARNING.
func Warning(format string, args ...any) {
	raiseAt(elog.WARNING, errcodes.Warning, fmt.Sprintf(format, args...))
}

// Notice emits a NOTICE.
func Notice(format string, args ...any) {
	raiseAt(elog.NOTICE, errcodes.SuccessfulCompletion, fmt.Sprintf(format, args...))
}

// Info emits an INFO message.
func Info(format string, args ...any) {
	raiseAt(elog.INFO, errcodes.SuccessfulCompletion, fmt.Sprintf(format, args...))
}

// Log writes a message to the server log.
func Log(format string, args ...any) {
	raiseAt(elog.LOG, errcodes.SuccessfulCompletion, fmt.Sprintf(format, args...))
}

// Debug1 emits a DEBUG1 message.
func Debug1(format string, args ...any) {
	raiseAt(elog.DEBUG1, errcodes.SuccessfulCompletion, fmt.Sprintf(format, args...))
}

func raiseAt(level elog.Level, code errcodes.Code, message string) {
	Raise(report.WithLocation(code, message, report.Caller(2)).WithLevel(level))
}

// Report returns v, or raises err as an ERROR. An err that wraps a report or
// a CaughtError keeps its code, message and location; any other error is raised as
// DATA_EXCEPTION located at the caller.
func Report[T any](v T, err error) T {
	if err == nil {
		return v
	}
	var caught report.CaughtError
	if errors.As(err, &caught) {
		panic(caught.Ereport().ErrorReport.WithLevel(elog.ERROR))
	}
	var r *report.ReportWithLevel
	if errors.As(err, &r) {
		panic(r.ErrorReport.WithLevel(elog.ERROR))
	}
	panic(report.WithLocation(errcodes.DataException, err.Error(), report.Caller(1)).
		WithLevel(elog.ERROR))
}
