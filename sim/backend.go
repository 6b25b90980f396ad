// Package sim is an in-process stand-in for the native runtime. A Backend
// behaves like a single database backend process: it owns global
// bookkeeping (exception stack, error context chain, current memory
// context, error data stack) and reports errors by jumping, exactly as the
// bridge expects of a real host.
package sim

import (
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/risor-io/ffiguard/elog"
	"github.com/risor-io/ffiguard/errcodes"
	"github.com/risor-io/ffiguard/native"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Message is a report delivered to the client.
type Message struct {
	Level    elog.Level
	Code     errcodes.Code
	Text     string
	Detail   string
	Hint     string
	Context  string
	Location string
}

// Stats counts writes to the backend's global bookkeeping.
type Stats struct {
	ExceptionStackWrites int
	ContextStackWrites   int
	ErrorsRaised         int
	ErrorsCopied         int
	ErrorsFreed          int
	Flushes              int
	ReThrows             int
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the server log.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithClientMinMessages sets the lowest level delivered to the client.
func WithClientMinMessages(level elog.Level) Option {
	return func(b *Backend) {
		b.clientMinMessages = level
	}
}

// WithLogMinMessages sets the lowest level written to the server log.
func WithLogMinMessages(level elog.Level) Option {
	return func(b *Backend) {
		b.logMinMessages = level
	}
}

// WithFunctions sets the table CallFunction resolves entry points from.
func WithFunctions(table native.FunctionTable) Option {
	return func(b *Backend) {
		b.functions = table
	}
}

// WithRelation creates a relation visible to Lookup.
func WithRelation(name string, oid int64) Option {
	return func(b *Backend) {
		b.relations[name] = oid
	}
}

// WithMaxAllocSize sets the largest request Palloc accepts.
func WithMaxAllocSize(size int) Option {
	return func(b *Backend) {
		b.maxAllocSize = size
	}
}

// Backend implements native.Runtime.
type Backend struct {
	id                uuid.UUID
	logger            zerolog.Logger
	clientMinMessages elog.Level
	logMinMessages    elog.Level
	maxAllocSize      int

	top     *MemoryContext
	txn     *MemoryContext
	errCxt  *MemoryContext
	current *MemoryContext

	exceptionStack *native.JumpTarget
	contextStack   *native.ErrorContextCallback
	errors         []native.ErrorData
	copies         map[*native.ErrorData]*MemoryContext

	functions native.FunctionTable
	relations map[string]int64
	messages  []Message
	stats     Stats

	terminated *native.Exit
}

var _ native.Runtime = (*Backend)(nil)

// New creates a backend ready to execute statements.
func New(opts ...Option) *Backend {
	top := newMemoryContext("TopMemoryContext", nil)
	b := &Backend{
		id:                uuid.Must(uuid.NewV4()),
		logger:            log.Logger,
		clientMinMessages: elog.NOTICE,
		logMinMessages:    elog.WARNING,
		maxAllocSize:      0x3fffffff,
		top:               top,
		txn:               newMemoryContext("TransactionContext", top),
		errCxt:            newMemoryContext("ErrorContext", top),
		copies:            map[*native.ErrorData]*MemoryContext{},
		relations:         map[string]int64{},
	}
	b.current = top
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With().Str("backend", b.id.String()).Logger()
	return b
}

// ID identifies the backend in logs.
func (b *Backend) ID() uuid.UUID {
	return b.id
}

// TopMemoryContext is the long-lived root context.
func (b *Backend) TopMemoryContext() *MemoryContext {
	return b.top
}

// TransactionContext is reset at the end of every statement.
func (b *Backend) TransactionContext() *MemoryContext {
	return b.txn
}

// Stats returns a snapshot of the bookkeeping counters.
func (b *Backend) Stats() Stats {
	return b.stats
}

// Messages returns the messages delivered to the client so far.
func (b *Backend) Messages() []Message {
	return append([]Message(nil), b.messages...)
}

// PendingErrors returns the depth of the error data stack.
func (b *Backend) PendingErrors() int {
	return len(b.errors)
}

// Terminated returns the exit that ended the backend, or nil.
func (b *Backend) Terminated() *native.Exit {
	return b.terminated
}

// Report implements native.Runtime.
func (b *Backend) Report(req native.ReportRequest) {
	level := req.Level
	if level == elog.ERROR && b.exceptionStack == nil {
		// nowhere to jump to
		level = elog.FATAL
	}
	data := native.ErrorData{
		Elevel:     level,
		SQLErrCode: req.Code,
		Message:    req.Message,
		Detail:     req.Detail,
		Hint:       req.Hint,
		Context:    b.errorContext(),
		FuncName:   req.FuncName,
		Filename:   req.File,
		Lineno:     req.Line,
		Colno:      req.Column,
	}
	if level < elog.ERROR {
		b.emit(&data)
		return
	}
	b.errCxt.alloc()
	if level.Aborts() {
		b.emit(&data)
		b.terminate(level, req.Code, req.Message)
	}
	b.errors = append(b.errors, data)
	b.stats.ErrorsRaised++
	b.current = b.errCxt
	panic(&native.Jump{Target: b.exceptionStack, Value: 1})
}

// CopyErrorData implements native.Runtime.
func (b *Backend) CopyErrorData() *native.ErrorData {
	if b.current == b.errCxt {
		b.assertFailed("CopyErrorData called while ErrorContext is current")
	}
	if len(b.errors) == 0 {
		b.assertFailed("CopyErrorData called with no error pending")
	}
	data := b.errors[len(b.errors)-1]
	b.current.alloc()
	b.copies[&data] = b.current
	b.stats.ErrorsCopied++
	return &data
}

// FreeErrorData implements native.Runtime.
func (b *Backend) FreeErrorData(data *native.ErrorData) {
	cxt, ok := b.copies[data]
	if !ok {
		b.assertFailed("FreeErrorData called with a record not returned by CopyErrorData")
	}
	delete(b.copies, data)
	cxt.free()
	b.stats.ErrorsFreed++
}

// FlushErrorState implements native.Runtime.
func (b *Backend) FlushErrorState() {
	b.errors = nil
	b.errCxt.reset()
	b.stats.Flushes++
}

// ReThrow implements native.Runtime.
func (b *Backend) ReThrow() {
	if len(b.errors) == 0 {
		b.assertFailed("ReThrow called with no error pending")
	}
	if b.exceptionStack == nil {
		data := b.errors[len(b.errors)-1]
		data.Elevel = elog.FATAL
		b.emit(&data)
		b.terminate(elog.FATAL, data.SQLErrCode, data.Message)
	}
	b.stats.ReThrows++
	panic(&native.Jump{Target: b.exceptionStack, Value: 1})
}

// ExceptionStack implements native.Runtime.
func (b *Backend) ExceptionStack() *native.JumpTarget {
	return b.exceptionStack
}

// SetExceptionStack implements native.Runtime.
func (b *Backend) SetExceptionStack(target *native.JumpTarget) {
	b.exceptionStack = target
	b.stats.ExceptionStackWrites++
}

// ErrorContextStack implements native.Runtime.
func (b *Backend) ErrorContextStack() *native.ErrorContextCallback {
	return b.contextStack
}

// SetErrorContextStack implements native.Runtime.
func (b *Backend) SetErrorContextStack(cb *native.ErrorContextCallback) {
	b.contextStack = cb
	b.stats.ContextStackWrites++
}

// CurrentMemoryContext implements native.Runtime.
func (b *Backend) CurrentMemoryContext() native.MemoryContext {
	return b.current
}

// SetCurrentMemoryContext implements native.Runtime.
func (b *Backend) SetCurrentMemoryContext(ctx native.MemoryContext) {
	m, ok := ctx.(*MemoryContext)
	if !ok || m == nil {
		b.assertFailed(fmt.Sprintf("not a memory context of this backend: %v", ctx))
	}
	b.current = m
}

// ErrorMemoryContext implements native.Runtime.
func (b *Backend) ErrorMemoryContext() native.MemoryContext {
	return b.errCxt
}

// Close checks that no bookkeeping leaked past the last statement.
func (b *Backend) Close() error {
	var result *multierror.Error
	if n := len(b.errors); n > 0 {
		result = multierror.Append(result, fmt.Errorf("%d error(s) still pending", n))
	}
	if n := len(b.copies); n > 0 {
		result = multierror.Append(result, fmt.Errorf("%d error data copies not freed", n))
	}
	if b.exceptionStack != nil {
		result = multierror.Append(result, fmt.Errorf("exception stack still installed: %s", b.exceptionStack))
	}
	if b.contextStack != nil {
		result = multierror.Append(result, fmt.Errorf("error context callback still installed: %s", b.contextStack.Name))
	}
	if b.current != b.top {
		result = multierror.Append(result, fmt.Errorf("current memory context is %s", b.current.Name()))
	}
	return result.ErrorOrNil()
}

func (b *Backend) errorContext() string {
	var lines []string
	for cb := b.contextStack; cb != nil; cb = cb.Previous {
		if cb.Callback != nil {
			if line := cb.Callback(); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func (b *Backend) emit(data *native.ErrorData) {
	location := fmt.Sprintf("%s:%d", data.Filename, data.Lineno)
	if data.FuncName != "" {
		location = data.FuncName + ", " + location
	}
	if data.Elevel >= b.logMinMessages {
		b.logger.WithLevel(data.Elevel.ZerologLevel()).
			Str("severity", data.Elevel.String()).
			Str("sqlstate", data.SQLErrCode.SQLState()).
			Str("location", location).
			Msg(data.Message)
	}
	if b.deliver(data.Elevel) {
		b.messages = append(b.messages, Message{
			Level:    data.Elevel,
			Code:     data.SQLErrCode,
			Text:     data.Message,
			Detail:   data.Detail,
			Hint:     data.Hint,
			Context:  data.Context,
			Location: location,
		})
	}
}

// deliver reports whether a message at level reaches the client. INFO is
// always sent.
func (b *Backend) deliver(level elog.Level) bool {
	if level == elog.LOG_SERVER_ONLY {
		return false
	}
	return level == elog.INFO || level >= b.clientMinMessages
}

func (b *Backend) terminate(level elog.Level, code errcodes.Code, message string) {
	b.terminated = &native.Exit{Level: level, Code: code, Message: message}
	panic(b.terminated)
}

// assertFailed mirrors a failed assertion in the host: the process aborts.
func (b *Backend) assertFailed(msg string) {
	b.logger.WithLevel(zerolog.PanicLevel).Str("severity", "PANIC").Msg("TRAP: " + msg)
	b.terminate(elog.PANIC, errcodes.InternalError, "TRAP: "+msg)
}
