// Package elog defines the severity levels understood by the native runtime's
// error reporting entry point.
package elog

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Level is an ordered severity. Values match the native runtime's own
// numbering so they can be passed across the boundary unchanged.
type Level int

const (
	DEBUG5 Level = 10 // Debugging messages, in categories of decreasing detail
	DEBUG4 Level = 11
	DEBUG3 Level = 12
	DEBUG2 Level = 13
	DEBUG1 Level = 14

	// LOG is for server operational messages; sent only to the server log by default.
	LOG Level = 15
	// LOG_SERVER_ONLY is like LOG but never sent to the client.
	LOG_SERVER_ONLY Level = 16
	// INFO messages are always sent to the client.
	INFO Level = 17
	// NOTICE is for helpful messages about query operation.
	NOTICE Level = 18
	// WARNING is for unexpected, non-fatal conditions.
	WARNING Level = 19

	// ERROR aborts the current transaction and returns to a known state.
	ERROR Level = 21
	// FATAL aborts the process.
	FATAL Level = 22
	// PANIC takes down every other process with it.
	PANIC Level = 23
)

var levelNames = map[Level]string{
	DEBUG5:          "DEBUG5",
	DEBUG4:          "DEBUG4",
	DEBUG3:          "DEBUG3",
	DEBUG2:          "DEBUG2",
	DEBUG1:          "DEBUG1",
	LOG:             "LOG",
	LOG_SERVER_ONLY: "LOG_SERVER_ONLY",
	INFO:            "INFO",
	NOTICE:          "NOTICE",
	WARNING:         "WARNING",
	ERROR:           "ERROR",
	FATAL:           "FATAL",
	PANIC:           "PANIC",
}

// String returns the level name as the native runtime prints it.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// IsError returns true for levels that abandon the current call stack.
func (l Level) IsError() bool {
	return l >= ERROR
}

// Aborts returns true for levels that terminate the process instead of
// jumping to a recovery point.
func (l Level) Aborts() bool {
	return l >= FATAL
}

// FromInt converts a raw native level. Unknown values map to ERROR.
func FromInt(i int) Level {
	l := Level(i)
	if _, ok := levelNames[l]; ok {
		return l
	}
	return ERROR
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == want {
			return l, nil
		}
	}
	// "debug" is accepted as an alias the way the native runtime does
	if want == "DEBUG" {
		return DEBUG2, nil
	}
	return 0, fmt.Errorf("unknown log level: %q", s)
}

// ZerologLevel maps the level onto the closest zerolog level.
func (l Level) ZerologLevel() zerolog.Level {
	switch {
	case l <= DEBUG1:
		return zerolog.DebugLevel
	case l < WARNING:
		return zerolog.InfoLevel
	case l == WARNING:
		return zerolog.WarnLevel
	case l == ERROR:
		return zerolog.ErrorLevel
	case l == FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.PanicLevel
	}
}
