package report

import (
	"errors"
	"fmt"

	"github.com/risor-io/ffiguard/elog"
	"github.com/risor-io/ffiguard/errcodes"
	"github.com/risor-io/ffiguard/loccache"
)

// CaughtError is the classification of a recovered panic. It is one of
// *PropagatedNativeError, *ExplicitReport or *RawUnwind.
type CaughtError interface {
	error
	// Ereport returns the structured report carried by the error.
	Ereport() *ReportWithLevel
	caught()
}

// PropagatedNativeError is an error raised by the native runtime and
// trapped by an outbound guard. It must eventually resume as a native jump
// rather than being reported a second time.
type PropagatedNativeError struct {
	*ReportWithLevel
}

func (e *PropagatedNativeError) Ereport() *ReportWithLevel { return e.ReportWithLevel }
func (e *PropagatedNativeError) caught()                   {}

// ExplicitReport is a structured error raised deliberately by managed code.
type ExplicitReport struct {
	*ReportWithLevel
}

func (e *ExplicitReport) Ereport() *ReportWithLevel { return e.ReportWithLevel }
func (e *ExplicitReport) caught()                   {}

// RawUnwind is an unstructured panic wrapped with a best-effort report.
// Payload is the original panic value.
type RawUnwind struct {
	*ReportWithLevel
	Payload any
}

func (e *RawUnwind) Ereport() *ReportWithLevel { return e.ReportWithLevel }
func (e *RawUnwind) caught()                   {}

// Unwrap exposes a panicked error value to errors.Is and errors.As.
func (e *RawUnwind) Unwrap() error {
	if err, ok := e.Payload.(error); ok {
		return err
	}
	return nil
}

// Classify converts a recovered panic value into a CaughtError. Values that
// are already classified are returned unchanged. Unstructured values take
// their location from the location cache.
func Classify(v any) CaughtError {
	switch v := v.(type) {
	case CaughtError:
		return v
	case *ReportWithLevel:
		return &ExplicitReport{ReportWithLevel: v}
	case *ErrorReport:
		return &ExplicitReport{ReportWithLevel: v.WithLevel(elog.ERROR)}
	case ErrorReport:
		return &ExplicitReport{ReportWithLevel: v.WithLevel(elog.ERROR)}
	case error:
		var caught CaughtError
		if errors.As(v, &caught) {
			return caught
		}
		var r *ReportWithLevel
		if errors.As(v, &r) {
			return &ExplicitReport{ReportWithLevel: r}
		}
	}
	return &RawUnwind{
		ReportWithLevel: WithLocation(
			errcodes.InternalError,
			panicMessage(v),
			FromCache(loccache.Take()),
		).WithLevel(elog.ERROR),
		Payload: v,
	}
}

// IsStructured reports whether Classify would produce something other than a
// RawUnwind for v.
func IsStructured(v any) bool {
	switch v := v.(type) {
	case CaughtError, *ReportWithLevel, *ErrorReport, ErrorReport:
		return true
	case error:
		var caught CaughtError
		var r *ReportWithLevel
		return errors.As(v, &caught) || errors.As(v, &r)
	default:
		return false
	}
}

func panicMessage(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
