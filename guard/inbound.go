package guard

import (
	"github.com/risor-io/ffiguard/elog"
	"github.com/risor-io/ffiguard/report"
)

type guardAction int

const (
	actionReturn guardAction = iota
	actionReThrow
	actionReport
)

// CallFromNative runs f on behalf of the native runtime. It is meant to be
// the whole body of a callback handed to the runtime, and nothing else:
// when f panics, CallFromNative either reports the error to the runtime or
// resumes a propagated native error as a jump, and neither returns to the
// Go frames that called it.
//
// A panic below elog.ERROR is reported as a diagnostic and the zero value
// is returned. T should be a plain value.
func CallFromNative[T any](f func() T) T {
	rt := active()
	result, action, ereport := runGuarded(f)
	switch action {
	case actionReturn:
		return result
	case actionReThrow:
		cfg.logger.Debug().Msg("resuming propagated native error")
		rt.SetCurrentMemoryContext(rt.ErrorMemoryContext())
		rt.ReThrow()
		fatal("native runtime returned from ReThrow")
	case actionReport:
		cfg.logger.Debug().
			Str("level", ereport.Level.String()).
			Str("code", ereport.Code.SQLState()).
			Str("message", ereport.Message).
			Msg("reporting managed error")
		rt.Report(ereport.Request())
		if ereport.Level >= elog.ERROR {
			fatal("native runtime returned from a report at level %s", ereport.Level)
		}
	}
	var zero T
	return zero
}

// runGuarded calls f and decides what CallFromNative must do. It never
// resumes a jump itself: its own deferred frame is still pending.
func runGuarded[T any](f func() T) (result T, action guardAction, ereport *report.ReportWithLevel) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if passThrough(r) {
			panic(r)
		}
		caught := classify(r)
		if _, ok := caught.(*report.PropagatedNativeError); ok {
			action = actionReThrow
			return
		}
		action, ereport = actionReport, caught.Ereport()
	}()
	return f(), actionReturn, nil
}
