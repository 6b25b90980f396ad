package guard

import (
	"runtime"
	"sync/atomic"
)

// activeThread holds the designated thread's id, or zero.
var activeThread atomic.Int64

func designateThread() {
	runtime.LockOSThread()
	activeThread.Store(currentThread())
}

func releaseThread() {
	activeThread.Store(0)
	runtime.UnlockOSThread()
}

// checkActiveThread aborts unless the caller runs on the designated thread.
// The first caller after a release designates itself.
func checkActiveThread() {
	current := currentThread()
	switch active := activeThread.Load(); active {
	case 0:
		runtime.LockOSThread()
		if !activeThread.CompareAndSwap(0, current) {
			runtime.UnlockOSThread()
			threadCheckFailed(current, activeThread.Load())
		}
	case current:
	default:
		threadCheckFailed(current, active)
	}
}

func threadCheckFailed(current, active int64) {
	fatal("native runtime may not be called from multiple threads (thread %d, owner %d)",
		current, active)
}
