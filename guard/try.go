package guard

import (
	"github.com/risor-io/ffiguard/errcodes"
	"github.com/risor-io/ffiguard/report"
)

// TryResult holds the outcome of Try: either a value or a caught error. A
// caught error must be consumed, by rethrowing it or deliberately discarding
// it with one of the UnwrapOr methods.
type TryResult[T any] struct {
	value T
	err   report.CaughtError
}

// Try runs f and catches any managed panic it raises, including native
// errors already converted by CallNative. It never performs a native jump
// and does not install a jump target, so native calls inside f must still
// go through CallNative.
func Try[T any](f func() T) (res TryResult[T]) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if passThrough(r) {
			panic(r)
		}
		res.err = classify(r)
	}()
	res.value = f()
	return res
}

// TryVoid is Try for functions without a result.
func TryVoid(f func()) TryResult[struct{}] {
	return Try(func() struct{} {
		f()
		return struct{}{}
	})
}

// IsOK returns true if no error was caught.
func (r TryResult[T]) IsOK() bool {
	return r.err == nil
}

// Err returns the caught error, or nil.
func (r TryResult[T]) Err() report.CaughtError {
	return r.err
}

// Code returns the SQLSTATE of the caught error.
func (r TryResult[T]) Code() (errcodes.Code, bool) {
	if r.err == nil {
		return 0, false
	}
	return r.err.Ereport().Code, true
}

// Unwrap returns the value or rethrows the caught error unchanged.
func (r TryResult[T]) Unwrap() T {
	return r.UnwrapOrRethrow(func() {})
}

// UnwrapOrRethrow returns the value, or runs cleanup and then rethrows the
// caught error unchanged.
func (r TryResult[T]) UnwrapOrRethrow(cleanup func()) T {
	if r.err == nil {
		return r.value
	}
	cleanup()
	panic(r.err)
}

// UnwrapOr returns the value, or discards the caught error and returns
// value instead. The native runtime's error state is flushed first.
//
// Discarding an error is only correct when the caller knows the native
// runtime is in a state where the error can be ignored.
func (r TryResult[T]) UnwrapOr(value T) T {
	if r.err == nil {
		return r.value
	}
	r.discard()
	return value
}

// UnwrapOrElse is like UnwrapOr but computes the replacement by calling f
// after the error state is flushed. The same caution applies.
func (r TryResult[T]) UnwrapOrElse(f func() T) T {
	if r.err == nil {
		return r.value
	}
	r.discard()
	return f()
}

// UnwrapOrCatch returns the value, or, if the caught error has the given
// code, flushes the error state and returns the error. Errors with any
// other code are rethrown.
func (r TryResult[T]) UnwrapOrCatch(code errcodes.Code) (T, error) {
	if r.err == nil {
		return r.value, nil
	}
	if caught, _ := r.Code(); caught != code {
		panic(r.err)
	}
	r.discard()
	var zero T
	return zero, r.err
}

// FinallyOrRethrow runs block exactly once, then returns the value or
// rethrows the caught error.
func (r TryResult[T]) FinallyOrRethrow(block func()) T {
	block()
	if r.err != nil {
		panic(r.err)
	}
	return r.value
}

func (r TryResult[T]) discard() {
	cfg.logger.Debug().
		Str("code", r.err.Ereport().Code.SQLState()).
		Str("message", r.err.Ereport().Message).
		Msg("discarding caught error")
	flushErrorState()
}

func flushErrorState() {
	rt := active()
	CallNativeVoid(rt.FlushErrorState)
}
