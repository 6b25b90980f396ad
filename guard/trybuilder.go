package guard

import (
	"github.com/risor-io/ffiguard/errcodes"
	"github.com/risor-io/ffiguard/report"
)

// Handler handles a caught error and produces a replacement result. A
// handler may rethrow by panicking with the error it was given.
type Handler[T any] func(err report.CaughtError) T

// TryBuilder is a try/catch/finally construct. Build it with NewTry, add
// handlers, and run it with Execute.
//
//	n := guard.NewTry(func() int64 { return parse(s) }).
//		CatchWhen(errcodes.InvalidTextRepresentation, func(report.CaughtError) int64 { return 0 }).
//		Finally(cleanup).
//		Execute()
type TryBuilder[T any] struct {
	fn      func() T
	when    map[errcodes.Code]Handler[T]
	panics  Handler[T]
	others  Handler[T]
	finally func()
}

// NewTry starts a TryBuilder around fn.
func NewTry[T any](fn func() T) *TryBuilder[T] {
	return &TryBuilder[T]{fn: fn, when: map[errcodes.Code]Handler[T]{}}
}

// CatchWhen handles caught errors with the given code.
func (b *TryBuilder[T]) CatchWhen(code errcodes.Code, h Handler[T]) *TryBuilder[T] {
	b.when[code] = h
	return b
}

// CatchPanic handles unstructured panics. It takes precedence over a
// CatchWhen handler for errcodes.InternalError.
func (b *TryBuilder[T]) CatchPanic(h Handler[T]) *TryBuilder[T] {
	b.panics = h
	return b
}

// CatchOthers handles any caught error without a more specific handler.
func (b *TryBuilder[T]) CatchOthers(h Handler[T]) *TryBuilder[T] {
	b.others = h
	return b
}

// Finally sets a block that runs once after the body and any handler. If a
// handler rethrows, the block does not run.
func (b *TryBuilder[T]) Finally(fn func()) *TryBuilder[T] {
	b.finally = fn
	return b
}

// Execute runs the body. When a handler produced the result, the native
// runtime's error state is flushed. Without a handler the finally block runs
// and the error is rethrown unchanged.
func (b *TryBuilder[T]) Execute() T {
	res := Try(b.fn)
	if res.IsOK() {
		b.runFinally()
		return res.value
	}

	handler := b.handlerFor(res.err)
	if handler == nil {
		b.runFinally()
		panic(res.err)
	}
	value := handler(res.err)
	flushErrorState()
	b.runFinally()
	return value
}

func (b *TryBuilder[T]) handlerFor(err report.CaughtError) Handler[T] {
	if _, ok := err.(*report.RawUnwind); ok && b.panics != nil {
		return b.panics
	}
	if h, ok := b.when[err.Ereport().Code]; ok {
		return h
	}
	return b.others
}

func (b *TryBuilder[T]) runFinally() {
	if b.finally != nil {
		b.finally()
	}
}
