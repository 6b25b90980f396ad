// Package report defines the structured error values shared by both sides of
// the boundary.
package report

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/risor-io/ffiguard/elog"
	"github.com/risor-io/ffiguard/errcodes"
	"github.com/risor-io/ffiguard/loccache"
	"github.com/risor-io/ffiguard/native"
)

// Location is the source position an error report points at.
type Location struct {
	File      string
	Function  string // optional
	Line      uint32
	Column    uint32
	Backtrace string // optional, captured goroutine stack
}

// UnknownLocation is used when nothing better is available.
func UnknownLocation() Location {
	return Location{File: loccache.Unknown}
}

// FromCache converts a location taken from the location cache.
func FromCache(loc loccache.Location) Location {
	return Location{File: loc.File, Line: loc.Line, Column: loc.Column}
}

// String mirrors the native runtime's own rendering, with a column added.
func (l Location) String() string {
	if l.Function != "" {
		return fmt.Sprintf("%s, %s:%d:%d", l.Function, l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// IsUnknown returns true if the location was never recorded.
func (l Location) IsUnknown() bool {
	return l.File == "" || l.File == loccache.Unknown
}

// ErrorReport is a classified error. Values are never modified after they
// are raised; the Set methods return modified copies.
type ErrorReport struct {
	Code     errcodes.Code
	Message  string
	Detail   string // optional
	Hint     string // optional
	Location Location
}

// New creates an ErrorReport located at the caller.
func New(code errcodes.Code, message string, funcname string) ErrorReport {
	loc := Caller(1)
	loc.Function = funcname
	return ErrorReport{Code: code, Message: message, Location: loc}
}

// Newf creates an ErrorReport with a formatted message located at the caller.
func Newf(code errcodes.Code, format string, args ...any) ErrorReport {
	return ErrorReport{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Location: Caller(1),
	}
}

// WithLocation creates an ErrorReport at an explicit location.
func WithLocation(code errcodes.Code, message string, loc Location) ErrorReport {
	return ErrorReport{Code: code, Message: message, Location: loc}
}

// SetDetail returns a copy with the detail line set.
func (r ErrorReport) SetDetail(detail string) ErrorReport {
	r.Detail = detail
	return r
}

// SetHint returns a copy with the hint line set.
func (r ErrorReport) SetHint(hint string) ErrorReport {
	r.Hint = hint
	return r
}

// WithLevel attaches a severity.
func (r ErrorReport) WithLevel(level elog.Level) *ReportWithLevel {
	return &ReportWithLevel{Level: level, ErrorReport: r}
}

// String renders the report the way it appears in a server log.
func (r ErrorReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", r.Code, r.Message)
	if r.Hint != "" {
		fmt.Fprintf(&b, "\nHINT: %s", r.Hint)
	}
	if r.Detail != "" {
		fmt.Fprintf(&b, "\nDETAIL: %s", r.Detail)
	}
	fmt.Fprintf(&b, "\nLOCATION: %s", r.Location)
	return b.String()
}

// ReportWithLevel is an ErrorReport tagged with a severity. Only values at
// elog.ERROR or above are raised as panics; lower levels are emitted
// immediately.
type ReportWithLevel struct {
	Level elog.Level
	ErrorReport
}

// Error implements the error interface.
func (r *ReportWithLevel) Error() string {
	return fmt.Sprintf("%s: %s: %s", r.Level, r.Code, r.Message)
}

// DetailWithBacktrace returns the detail line followed by the captured
// backtrace, if any.
func (r *ReportWithLevel) DetailWithBacktrace() string {
	bt := r.Location.Backtrace
	switch {
	case bt == "":
		return r.Detail
	case r.Detail == "":
		return "\n" + bt
	default:
		return r.Detail + "\n" + bt
	}
}

// Request builds the arguments for the native runtime's report function.
func (r *ReportWithLevel) Request() native.ReportRequest {
	return native.ReportRequest{
		Level:    r.Level,
		Code:     r.Code,
		Message:  r.Message,
		Detail:   r.DetailWithBacktrace(),
		Hint:     r.Hint,
		FuncName: r.Location.Function,
		File:     r.Location.File,
		Line:     r.Location.Line,
		Column:   r.Location.Column,
	}
}

// FromErrorData copies a native error record field by field. The result
// shares no memory with data, which may be released afterwards.
func FromErrorData(data *native.ErrorData) *ReportWithLevel {
	return &ReportWithLevel{
		Level: data.Elevel,
		ErrorReport: ErrorReport{
			Code:    data.SQLErrCode,
			Message: strings.Clone(data.Message),
			Detail:  strings.Clone(data.Detail),
			Hint:    strings.Clone(data.Hint),
			Location: Location{
				File:     strings.Clone(data.Filename),
				Function: strings.Clone(data.FuncName),
				Line:     data.Lineno,
				Column:   data.Colno,
			},
		},
	}
}

// PgError converts the report into the shape a database client sees.
func (r *ReportWithLevel) PgError() *pgconn.PgError {
	return &pgconn.PgError{
		Severity: r.Level.String(),
		Code:     r.Code.SQLState(),
		Message:  r.Message,
		Detail:   r.Detail,
		Hint:     r.Hint,
		File:     r.Location.File,
		Line:     int32(r.Location.Line),
		Routine:  r.Location.Function,
	}
}

// FromPgError converts a client-side error back into a report. Unknown
// severities and malformed codes fall back to ERROR and INTERNAL_ERROR.
func FromPgError(pgErr *pgconn.PgError) *ReportWithLevel {
	level, err := elog.ParseLevel(pgErr.Severity)
	if err != nil {
		level = elog.ERROR
	}
	code, err := errcodes.Make(pgErr.Code)
	if err != nil {
		code = errcodes.InternalError
	}
	return &ReportWithLevel{
		Level: level,
		ErrorReport: ErrorReport{
			Code:    code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
			Hint:    pgErr.Hint,
			Location: Location{
				File:     pgErr.File,
				Function: pgErr.Routine,
				Line:     uint32(pgErr.Line),
			},
		},
	}
}

// Caller returns the location of a function on the calling goroutine's
// stack. Caller(0) is the function that calls Caller.
func Caller(skip int) Location {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return UnknownLocation()
	}
	return Location{File: file, Line: uint32(line)}
}
