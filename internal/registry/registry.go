// Package registry is the process-wide table mapping a callable's fully
// qualified name to the function value itself. Go cannot re-resolve a
// function by name after a process restart the way Python's import-by-path
// can, so every callable a job may reference must call Register at package
// init time; Define (internal/engine) then checks that the name it derives
// from the function value via runtime.FuncForPC round-trips through this
// registry before ever persisting a Job record (spec section 4.3, section 9
// design notes — "serialisable callable references").
package registry

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/compmake/engine/internal/jobctx"
)

// Callable is the uniform shape every registered function must have. jctx is
// non-nil only when the job was defined as dynamic (NeedsContext); static
// jobs receive nil.
type Callable func(ctx context.Context, jctx jobctx.Context, args []any, kwargs map[string]any) (any, error)

var (
	mu    sync.RWMutex
	byRef = map[string]Callable{}
)

// Register binds name to fn. Re-registering the same name with a different
// function is almost always a test-isolation bug, so it panics at init time
// rather than silently shadowing.
func Register(name string, fn Callable) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := byRef[name]; exists {
		panic(fmt.Sprintf("registry: %q already registered", name))
	}
	byRef[name] = fn
}

// Lookup returns the callable bound to name, if any.
func Lookup(name string) (Callable, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := byRef[name]
	return fn, ok
}

// NameOf derives the fully qualified name of a Go function value the same
// way the standard library's runtime/pprof symbolizer does, so the name
// Define stores is stable across a rebuild as long as the function keeps its
// package path and identifier.
func NameOf(fn any) (string, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return "", fmt.Errorf("registry: %T is not a function", fn)
	}
	ptr := v.Pointer()
	rf := runtime.FuncForPC(ptr)
	if rf == nil {
		return "", fmt.Errorf("registry: could not resolve function pointer")
	}
	return rf.Name(), nil
}

// IsClosureOrLambda reports whether name looks like a locally nested
// function or anonymous function literal: Go names these
// "pkg.Outer.func1", "pkg.Outer.func1.1", etc. A plain package-level
// function's name has no ".funcN" suffix. This is the idiomatic Go
// substitute for Python's "reject lambdas and locally nested defs" check in
// spec section 4.3 — Go has no runtime closure-object identity check beyond
// the symbol name shape.
func IsClosureOrLambda(name string) bool {
	parts := strings.Split(name, ".")
	for _, p := range parts[1:] {
		if len(p) > len("func") && strings.HasPrefix(p, "func") && p[4] >= '0' && p[4] <= '9' {
			return true
		}
	}
	return false
}
