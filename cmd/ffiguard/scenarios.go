package main

import (
	"fmt"

	"github.com/risor-io/ffiguard/elog"
	"github.com/risor-io/ffiguard/errcodes"
	"github.com/risor-io/ffiguard/extension"
	"github.com/risor-io/ffiguard/guard"
	"github.com/risor-io/ffiguard/native"
	"github.com/risor-io/ffiguard/report"
	"github.com/risor-io/ffiguard/sim"
)

// env is one backend with the extension's entry points loaded.
type env struct {
	backend  *sim.Backend
	registry *extension.Registry
}

func newEnv(opts []sim.Option) (*env, error) {
	e := &env{registry: extension.NewRegistry()}
	e.register()
	if err := e.registry.Validate(); err != nil {
		return nil, err
	}
	opts = append(append([]sim.Option(nil), opts...),
		sim.WithFunctions(e.registry),
		sim.WithRelation("accounts", 16384),
		sim.WithRelation("ledger", 16390),
	)
	e.backend = sim.New(opts...)
	return e, nil
}

func (e *env) register() {
	e.registry.
		Register("safe_divide", func(args ...native.Datum) native.Datum {
			return guard.CallNative(func() int64 {
				return e.backend.Divide(args[0].(int64), args[1].(int64))
			})
		}).
		Register("divide_or_null", func(args ...native.Datum) native.Datum {
			v, err := guard.Try(func() int64 {
				return guard.CallNative(func() int64 {
					return e.backend.Divide(args[0].(int64), args[1].(int64))
				})
			}).UnwrapOrCatch(errcodes.DivisionByZero)
			if err != nil {
				return nil
			}
			return v
		}).
		Register("checked_lookup", func(args ...native.Datum) native.Datum {
			return guard.NewTry(func() int64 {
				return guard.CallNative(func() int64 {
					return e.backend.Lookup(args[0].(string))
				})
			}).
				CatchWhen(errcodes.UndefinedTable, func(report.CaughtError) int64 { return -1 }).
				Execute()
		}).
		Register("assert_positive", func(args ...native.Datum) native.Datum {
			n := args[0].(int64)
			if n <= 0 {
				guard.Errorf("value %d is not positive", n)
			}
			return n
		}).
		Register("crash", func(args ...native.Datum) native.Datum {
			var counts map[string]int
			counts["calls"]++
			return nil
		}).
		Register("warn", func(args ...native.Datum) native.Datum {
			guard.Warning("%s", args[0])
			return true
		}).
		Register("nested", func(args ...native.Datum) native.Datum {
			return guard.CallNative(func() native.Datum {
				return e.backend.CallFunction("safe_divide", args...)
			})
		}).
		Register("alloc", func(args ...native.Datum) native.Datum {
			return guard.CallNative(func() int {
				return len(e.backend.Palloc(args[0].(int)))
			})
		}).
		Register("transfer", func(args ...native.Datum) native.Datum {
			return guard.Try(func() int64 {
				return guard.CallNative(func() int64 {
					from := e.backend.Lookup(args[0].(string))
					to := e.backend.Lookup(args[1].(string))
					return to - from
				})
			}).FinallyOrRethrow(func() {
				guard.Notice("transfer of %s to %s finished", args[0], args[1])
			})
		}).
		Register("shutdown", func(args ...native.Datum) native.Datum {
			guard.Ereport(elog.FATAL, errcodes.AdminShutdown, "terminating connection due to administrator command")
			return nil
		})
}

type scenario struct {
	name        string
	description string
	function    string
	args        []native.Datum
}

func (s scenario) statement() string {
	call := s.function + "("
	for i, arg := range s.args {
		if i > 0 {
			call += ", "
		}
		if str, ok := arg.(string); ok {
			call += fmt.Sprintf("'%s'", str)
		} else {
			call += fmt.Sprint(arg)
		}
	}
	return "SELECT " + call + ")"
}

var scenarios = []scenario{
	{"divide", "native call returns normally", "safe_divide", []native.Datum{int64(10), int64(2)}},
	{"division-by-zero", "native error propagates back to the backend", "safe_divide", []native.Datum{int64(1), int64(0)}},
	{"caught-division", "native error caught by code and discarded", "divide_or_null", []native.Datum{int64(1), int64(0)}},
	{"relation", "lookup inside a try builder", "checked_lookup", []native.Datum{"accounts"}},
	{"missing-relation", "try builder handler replaces the error", "checked_lookup", []native.Datum{"orders"}},
	{"raise", "explicit report from Go code", "assert_positive", []native.Datum{int64(-5)}},
	{"panic", "unexpected Go panic reported with its location", "crash", nil},
	{"warning", "warning emitted, call returns", "warn", []native.Datum{"balance is low"}},
	{"nested", "error crosses two callback frames", "nested", []native.Datum{int64(1), int64(0)}},
	{"alloc-too-large", "native allocation failure", "alloc", []native.Datum{1 << 30}},
	{"finally", "cleanup runs before the error is rethrown", "transfer", []native.Datum{"accounts", "orders"}},
	{"unknown-function", "function manager cannot resolve the name", "no_such_function", nil},
	{"fatal", "FATAL terminates the backend", "shutdown", nil},
}

func findScenario(name string) (scenario, bool) {
	for _, s := range scenarios {
		if s.name == name {
			return s, true
		}
	}
	return scenario{}, false
}

// outcome is what a client observed for one scenario.
type outcome struct {
	value    native.Datum
	messages []sim.Message
	err      error
	leaks    error
}

// execute runs s on a fresh backend. The bridge is bound to the backend on
// the calling goroutine.
func execute(s scenario, backendOpts []sim.Option, guardOpts []guard.Option) (*outcome, error) {
	e, err := newEnv(backendOpts)
	if err != nil {
		return nil, err
	}
	guard.Setup(e.backend, guardOpts...)
	defer guard.Shutdown()

	out := &outcome{}
	out.err = e.backend.Exec(s.statement(), func() {
		out.value = e.backend.CallFunction(s.function, s.args...)
	})
	out.messages = e.backend.Messages()
	if e.backend.Terminated() == nil {
		out.leaks = e.backend.Close()
	}
	return out, nil
}
