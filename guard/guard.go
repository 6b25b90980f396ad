// Package guard wraps every crossing between Go and the native runtime.
//
// CallNative wraps a call into the runtime and turns a native error jump into
// a Go panic carrying *report.PropagatedNativeError, so deferred functions run
// normally. CallFromNative wraps a callback the runtime invokes and turns any
// panic into a native error report, or resumes a propagated native error as a
// jump. Try is a purely managed try/catch built on the same classification.
//
// The native runtime is single-threaded. Setup designates the calling OS
// thread as the only one allowed to cross the boundary; any other thread is
// aborted before it touches the runtime's bookkeeping.
package guard

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/risor-io/ffiguard/loccache"
	"github.com/risor-io/ffiguard/native"
	"github.com/risor-io/ffiguard/report"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Option describes a function used to configure the bridge.
type Option func(*config)

type config struct {
	logger     zerolog.Logger
	backtraces bool
	abort      func(msg string)
}

// WithLogger sets the logger used for bridge diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithBacktraces enables capturing the goroutine stack for unstructured
// panics. The stack is appended to the detail line when reported.
func WithBacktraces(enabled bool) Option {
	return func(cfg *config) {
		cfg.backtraces = enabled
	}
}

// WithAbortHandler replaces the function called on unrecoverable conditions.
// The default logs at fatal level and exits the process. If the handler
// returns, the bridge panics with *FatalError.
func WithAbortHandler(fn func(msg string)) Option {
	return func(cfg *config) {
		cfg.abort = fn
	}
}

var (
	rt  native.Runtime
	cfg = defaultConfig()
)

func defaultConfig() config {
	return config{
		logger: log.Logger,
		abort:  exitProcess,
	}
}

// Setup binds the bridge to a native runtime and designates the calling OS
// thread as the runtime's thread. The calling goroutine is locked to its
// thread. Calling Setup again rebinds and redesignates.
func Setup(host native.Runtime, opts ...Option) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	cfg = c
	rt = host
	nativeDepth = 0
	loccache.Install()
	designateThread()
	cfg.logger.Debug().Int64("thread", currentThread()).Msg("bridge ready")
}

// Shutdown unbinds the runtime and releases the thread designation. It must
// be called from the designated thread.
func Shutdown() {
	checkActiveThread()
	rt = nil
	releaseThread()
}

// Runtime returns the bound native runtime, or nil before Setup.
func Runtime() native.Runtime {
	return rt
}

// active returns the bound runtime after verifying the calling thread.
func active() native.Runtime {
	checkActiveThread()
	if rt == nil {
		fatal("native runtime used before guard.Setup")
	}
	return rt
}

// FatalError is raised when an abort handler returns instead of exiting.
// Guards never intercept it.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Message
}

func fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	cfg.logger.WithLevel(zerolog.FatalLevel).Msg(msg)
	cfg.abort(msg)
	panic(&FatalError{Message: msg})
}

func exitProcess(msg string) {
	fmt.Fprintln(os.Stderr, "ffiguard:", msg)
	os.Exit(2)
}

// passThrough reports whether a recovered value must keep unwinding
// untouched: native control transfers and aborts.
func passThrough(v any) bool {
	if native.IsControlTransfer(v) {
		return true
	}
	_, ok := v.(*FatalError)
	return ok
}

// classify turns a recovered panic into a CaughtError, capturing the panic
// origin for unstructured values.
func classify(v any) report.CaughtError {
	structured := report.IsStructured(v)
	if !structured {
		loccache.Capture()
	}
	caught := report.Classify(v)
	// a rethrown RawUnwind keeps the stack of the panic that created it
	if raw, ok := caught.(*report.RawUnwind); ok && cfg.backtraces && !structured {
		raw.Location.Backtrace = string(debug.Stack())
	}
	return caught
}
