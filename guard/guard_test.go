package guard_test

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/risor-io/ffiguard/errcodes"
	"github.com/risor-io/ffiguard/guard"
	"github.com/risor-io/ffiguard/native"
	"github.com/risor-io/ffiguard/sim"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type funcs map[string]native.Function

func (f funcs) Lookup(name string) (native.Function, bool) {
	fn, ok := f[name]
	return fn, ok
}

type aborts struct {
	messages []string
}

func (a *aborts) handle(msg string) {
	a.messages = append(a.messages, msg)
}

// setup binds the bridge to a fresh backend on the calling test goroutine.
func setup(t *testing.T, opts ...sim.Option) (*sim.Backend, *aborts) {
	t.Helper()
	b := sim.New(append([]sim.Option{sim.WithLogger(zerolog.Nop())}, opts...)...)
	a := &aborts{}
	guard.Setup(b, guard.WithLogger(zerolog.Nop()), guard.WithAbortHandler(a.handle))
	return b, a
}

func requirePgError(t *testing.T, err error, code errcodes.Code) *pgconn.PgError {
	t.Helper()
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, code.SQLState(), pgErr.Code)
	return pgErr
}

// recovered runs fn and returns whatever it panicked with.
func recovered(fn func()) (r any) {
	defer func() {
		r = recover()
	}()
	fn()
	return nil
}

func TestSetupBindsRuntime(t *testing.T) {
	b, _ := setup(t)
	require.Equal(t, native.Runtime(b), guard.Runtime())
}

func TestForeignThreadAborts(t *testing.T) {
	b, a := setup(t)
	before := b.Stats()

	done := make(chan any)
	go func() {
		done <- recovered(func() {
			guard.CallNative(func() int {
				t.Error("native call ran on a foreign thread")
				return 0
			})
		})
	}()
	r := <-done

	require.IsType(t, &guard.FatalError{}, r)
	require.Equal(t, before, b.Stats())
	require.Nil(t, b.ExceptionStack())
	require.Len(t, a.messages, 1)
	require.Contains(t, a.messages[0], "native runtime may not be called from multiple threads")
}

func TestForeignThreadAbortsInbound(t *testing.T) {
	b, a := setup(t)
	before := b.Stats()

	done := make(chan any)
	go func() {
		done <- recovered(func() {
			guard.CallFromNative(func() int {
				t.Error("callback ran on a foreign thread")
				return 0
			})
		})
	}()
	r := <-done

	require.IsType(t, &guard.FatalError{}, r)
	require.Equal(t, before, b.Stats())
	require.Len(t, a.messages, 1)
}

func TestShutdownReleasesThread(t *testing.T) {
	setup(t)
	guard.Shutdown()
	require.Nil(t, guard.Runtime())
}
