// Package recovery provides panic recovery utilities shared by every kernel
// subsystem, so a panic inside one process's handler, agent callback, or
// goroutine never takes down the whole daemon (spec 3.8).
//
// Grounded on coreengine/kernel/recovery.go, kept nearly verbatim with the
// teacher's local Logger swapped for this module's klog.Logger.
package recovery

import (
	"fmt"
	"runtime/debug"

	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
)

// Result describes a recovered panic.
type Result struct {
	Recovered  bool
	PanicValue any
	StackTrace string
}

// SafeExecute runs fn with panic recovery. A panic is logged under operation
// and converted into an error instead of propagating.
func SafeExecute(log klog.Logger, operation string, fn func() error) error {
	var panicErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if log != nil {
					log.Error("panic_recovered", "operation", operation, "panic", r, "stack", stack)
				}
				panicErr = fmt.Errorf("panic in %s: %v", operation, r)
			}
		}()
		panicErr = fn()
	}()

	return panicErr
}

// SafeExecuteWithResult is SafeExecute for functions that also return a value.
func SafeExecuteWithResult[T any](log klog.Logger, operation string, fn func() (T, error)) (T, error) {
	var result T
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if log != nil {
					log.Error("panic_recovered", "operation", operation, "panic", r, "stack", stack)
				}
				err = fmt.Errorf("panic in %s: %v", operation, r)
			}
		}()
		result, err = fn()
	}()

	return result, err
}

// SafeGo runs fn in a new goroutine with panic recovery. onPanic, if
// non-nil, is invoked with the recovered value after the panic is logged.
func SafeGo(log klog.Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if log != nil {
					log.Error("goroutine_panic_recovered", "operation", operation, "panic", r, "stack", stack)
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
