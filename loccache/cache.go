// Package loccache remembers where the most recent unstructured panic began.
//
// Structured reports carry their own source location. A plain panic (a
// runtime error, a failed assertion, panic("...")) does not, so the guards
// call Capture from their deferred recover and Take the location when the
// panic is classified. Capture is the only writer, and every Capture is
// followed by a Take in the same recover. The slot is owned by the single thread that is allowed
// to talk to the native runtime; it is not locked.
package loccache

import (
	"runtime"
	"strings"
)

// Unknown is the file name used when no location was recorded.
const Unknown = "<unknown>"

// Location is a source position. Go does not report columns, so Column is
// zero for locations captured from a panic.
type Location struct {
	File   string
	Line   uint32
	Column uint32
}

var (
	installed bool
	slot      *Location
)

// Install enables capturing and clears the slot. It may be called more than
// once.
func Install() {
	installed = true
	slot = nil
}

// Installed reports whether Install has been called.
func Installed() bool {
	return installed
}

// record stores loc if the slot is empty. The first write wins so that the
// innermost panic origin survives outer frames that panic while cleaning up.
// It returns true if loc was stored.
func record(loc Location) bool {
	if !installed || slot != nil {
		return false
	}
	slot = &loc
	return true
}

// Take reads and clears the slot. When nothing was recorded the returned
// location has File set to Unknown.
func Take() Location {
	if slot == nil {
		return Location{File: Unknown}
	}
	loc := *slot
	slot = nil
	return loc
}

// Capture records the origin of the panic currently in flight. It must be
// called from a deferred function while the goroutine is panicking. Nested
// panics leave several runtime.gopanic frames on the stack; the origin of
// the earliest one is recorded.
func Capture() bool {
	if !installed || slot != nil {
		return false
	}
	loc, ok := panicOrigin(2)
	if !ok {
		return false
	}
	return record(loc)
}

func panicOrigin(skip int) (Location, bool) {
	pcs := make([]uintptr, 256)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var (
		origin     Location
		found      bool
		afterPanic bool
	)
	for {
		frame, more := frames.Next()
		switch {
		case frame.Function == "runtime.gopanic":
			afterPanic = true
		case afterPanic && !strings.HasPrefix(frame.Function, "runtime."):
			origin = Location{File: frame.File, Line: uint32(frame.Line)}
			found = true
			afterPanic = false
		}
		if !more {
			break
		}
	}
	return origin, found
}
