// Package concurrency provides panic-recovering goroutine helpers, adapted
// from the teacher's internal/common/goroutine.go, for the scheduler's
// worker goroutines (C7) where a panicking callable must not take down the
// whole run.
package concurrency

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ternarybob/arbor"
)

// SafeGo runs fn in a goroutine, recovering any panic and reporting it
// through recovered instead of crashing the process. name identifies the
// goroutine in logs (typically the job id).
func SafeGo(logger arbor.ILogger, name string, fn func(), recovered func(name string, r any, stack string)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				stack := string(buf[:n])

				if logger != nil {
					logger.Error().
						Str("goroutine", name).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", stack).
						Msg("recovered from panic in goroutine")
				} else {
					fmt.Fprintf(os.Stderr, "panic in goroutine %s: %v\n%s\n", name, r, stack)
				}

				if recovered != nil {
					recovered(name, r, stack)
				}
			}
		}()

		fn()
	}()
}
