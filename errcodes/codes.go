// Package errcodes defines the SQLSTATE error codes carried by error reports.
//
// A Code is stored in the native runtime's packed form: each of the five
// SQLSTATE characters occupies six bits. Codes are organized by class, the
// first two characters:
//   - 01: Warning
//   - 0A: Feature not supported
//   - 22: Data exception
//   - 23: Integrity constraint violation
//   - 42: Syntax error or access rule violation
//   - 53: Insufficient resources
//   - 57: Operator intervention
//   - P0: PL/pgSQL error
//   - XX: Internal error
package errcodes

import "fmt"

// Code is a packed SQLSTATE.
type Code int32

func sixbit(ch byte) int32 {
	return int32(ch-'0') & 0x3F
}

// Make packs a five character SQLSTATE.
func Make(sqlstate string) (Code, error) {
	if len(sqlstate) != 5 {
		return 0, fmt.Errorf("invalid sqlstate %q: must be 5 characters", sqlstate)
	}
	var c int32
	for i := 0; i < 5; i++ {
		ch := sqlstate[i]
		if !(ch >= '0' && ch <= '9') && !(ch >= 'A' && ch <= 'Z') {
			return 0, fmt.Errorf("invalid sqlstate %q: bad character %q", sqlstate, ch)
		}
		c |= sixbit(ch) << (6 * i)
	}
	return Code(c), nil
}

// MustMake is like Make but panics on a malformed SQLSTATE.
func MustMake(sqlstate string) Code {
	c, err := Make(sqlstate)
	if err != nil {
		panic(err)
	}
	return c
}

var (
	SuccessfulCompletion = MustMake("00000")

	Warning                 = MustMake("01000") // warning
	WarningDeprecatedFeature = MustMake("01P01") // deprecated feature

	FeatureNotSupported = MustMake("0A000") // feature not supported

	DataException             = MustMake("22000") // data exception
	NumericValueOutOfRange    = MustMake("22003") // numeric value out of range
	DivisionByZero            = MustMake("22012") // division by zero
	InvalidParameterValue     = MustMake("22023") // invalid parameter value
	InvalidTextRepresentation = MustMake("22P02") // invalid input syntax

	NotNullViolation = MustMake("23502") // not null violation
	UniqueViolation  = MustMake("23505") // unique violation

	SyntaxError       = MustMake("42601") // syntax error
	UndefinedFunction = MustMake("42883") // undefined function
	UndefinedTable    = MustMake("42P01") // undefined table

	OutOfMemory = MustMake("53200") // out of memory

	QueryCanceled = MustMake("57014") // canceling statement
	AdminShutdown = MustMake("57P01") // terminating connection

	RaiseException = MustMake("P0001") // raise exception
	AssertFailure  = MustMake("P0004") // assert failure

	InternalError = MustMake("XX000") // internal error
	DataCorrupted = MustMake("XX001") // data corrupted
)

// codeDescriptions maps error codes to their short descriptions.
var codeDescriptions = map[Code]string{
	SuccessfulCompletion:      "successful completion",
	Warning:                   "warning",
	WarningDeprecatedFeature:  "deprecated feature",
	FeatureNotSupported:       "feature not supported",
	DataException:             "data exception",
	NumericValueOutOfRange:    "numeric value out of range",
	DivisionByZero:            "division by zero",
	InvalidParameterValue:     "invalid parameter value",
	InvalidTextRepresentation: "invalid text representation",
	NotNullViolation:          "not null violation",
	UniqueViolation:           "unique violation",
	SyntaxError:               "syntax error",
	UndefinedFunction:         "undefined function",
	UndefinedTable:            "undefined table",
	OutOfMemory:               "out of memory",
	QueryCanceled:             "query canceled",
	AdminShutdown:             "admin shutdown",
	RaiseException:            "raise exception",
	AssertFailure:             "assert failure",
	InternalError:             "internal error",
	DataCorrupted:             "data corrupted",
}

// SQLState unpacks the code into its five character form.
func (c Code) SQLState() string {
	var b [5]byte
	v := int32(c)
	for i := 0; i < 5; i++ {
		b[i] = byte(v&0x3F) + '0'
		v >>= 6
	}
	return string(b[:])
}

// String returns the SQLSTATE.
func (c Code) String() string {
	return c.SQLState()
}

// Class returns the two character class of the code.
func (c Code) Class() string {
	return c.SQLState()[:2]
}

// Description returns the short description for an error code.
func (c Code) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}

// IsWarning returns true for codes in the success and warning classes.
func (c Code) IsWarning() bool {
	switch c.Class() {
	case "00", "01", "02":
		return true
	default:
		return false
	}
}
