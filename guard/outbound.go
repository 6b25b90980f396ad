package guard

import (
	"fmt"

	"github.com/risor-io/ffiguard/native"
	"github.com/risor-io/ffiguard/report"
)

// CallNative calls f, which calls into the native runtime, with a fresh jump
// target installed. If the runtime raises an error anywhere below f, the jump
// lands here and is re-raised as a panic carrying
// *report.PropagatedNativeError, so the calling Go frames unwind normally.
//
// The runtime's exception stack and error context chain are restored on
// every exit path. CallNative must be called from the designated thread;
// any other thread is aborted before the bookkeeping is touched.
func CallNative[T any](f func() T) T {
	frame := enterNative(active())
	defer frame.leave()
	return f()
}

// CallNativeVoid is CallNative for functions without a result.
func CallNativeVoid(f func()) {
	CallNative(func() struct{} {
		f()
		return struct{}{}
	})
}

// nativeFrame is the bookkeeping saved by one CallNative.
type nativeFrame struct {
	rt          native.Runtime
	depth       int
	target      *native.JumpTarget
	prevStack   *native.JumpTarget
	prevContext *native.ErrorContextCallback
	prevMemory  native.MemoryContext
}

// Jump targets are reused by nesting depth. Frames that are active at the
// same time always sit at different depths, so a target still identifies
// exactly one live frame.
var (
	targets     []*native.JumpTarget
	nativeDepth int
)

func targetAt(depth int) *native.JumpTarget {
	for len(targets) <= depth {
		targets = append(targets, native.NewJumpTarget(fmt.Sprintf("CallNative#%d", len(targets))))
	}
	return targets[depth]
}

func enterNative(rt native.Runtime) nativeFrame {
	frame := nativeFrame{
		rt:          rt,
		depth:       nativeDepth,
		target:      targetAt(nativeDepth),
		prevStack:   rt.ExceptionStack(),
		prevContext: rt.ErrorContextStack(),
		prevMemory:  rt.CurrentMemoryContext(),
	}
	rt.SetExceptionStack(frame.target)
	nativeDepth++
	return frame
}

// leave runs on every exit from CallNative.
func (f *nativeFrame) leave() {
	r := recover()
	if _, ok := r.(*FatalError); ok {
		// already aborting: restore without checking
		f.reset()
		panic(r)
	}
	defer f.restore()
	if r == nil {
		return
	}
	if jump, ok := r.(*native.Jump); ok && jump.Target == f.target {
		panic(&report.PropagatedNativeError{ReportWithLevel: f.trap()})
	}
	panic(r)
}

// trap copies the error the runtime jumped with into Go memory.
func (f *nativeFrame) trap() *report.ReportWithLevel {
	// the error path leaves the runtime's error context current; the copy
	// must be made in the caller's context
	f.rt.SetCurrentMemoryContext(f.prevMemory)
	data := f.rt.CopyErrorData()
	ereport := report.FromErrorData(data)
	f.rt.FreeErrorData(data)

	cfg.logger.Debug().
		Str("level", ereport.Level.String()).
		Str("code", ereport.Code.SQLState()).
		Str("message", ereport.Message).
		Msg("trapped native error")
	return ereport
}

func (f *nativeFrame) restore() {
	current := f.rt.ExceptionStack()
	f.reset()
	if current != f.target {
		fatal("exception stack restored out of order: expected %s, found %s", f.target, current)
	}
}

func (f *nativeFrame) reset() {
	nativeDepth = f.depth
	f.rt.SetExceptionStack(f.prevStack)
	f.rt.SetErrorContextStack(f.prevContext)
}
