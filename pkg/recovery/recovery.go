// Package recovery guards the FUSE dispatch boundary against a panic in
// any one operation taking the whole mount down.
package recovery

import (
	"fmt"
	"runtime/debug"
)

// Logger is the minimal logging surface recovery needs; satisfied by
// internal/observability.Logger.
type Logger interface {
	Errorf(format string, args ...interface{})
}

// Guard recovers from a panic in fn and converts it into a plain error
// describing the panic, instead of letting it propagate and crash the
// daemon. component/operation name the call site for the log message; the
// FUSE boundary maps any error it doesn't recognize as a *errors.Error to
// EIO, which is the right outcome for a recovered panic.
//
// Guard is meant to wrap a single FUSE dispatch call:
//
//	err := recovery.Guard(logger, "facade", "read", func() error {
//	    return doRead(...)
//	})
func Guard(logger Logger, component, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			if logger != nil {
				logger.Errorf("panic in %s.%s: %v\n%s", component, operation, r, stack)
			}
			err = fmt.Errorf("recovered panic in %s.%s: %v", component, operation, r)
		}
	}()
	return fn()
}
