package engine

import (
	"fmt"

	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/registry"
)

// resolveCallable derives the fully-qualified name of fn and validates it
// per spec section 4.3: it must be a package-level function (never a lambda
// or locally nested def — Go's closure-shaped symbol names,
// "pkg.Outer.func1", are the tell), and it must already be registered so it
// can be re-resolved after a process restart.
func resolveCallable(fn any) (string, error) {
	name, err := registry.NameOf(fn)
	if err != nil {
		return "", errs.Wrap(errs.KindUser, "callable is not a function value", err)
	}
	if err := validateCallableRef(name); err != nil {
		return "", err
	}
	return name, nil
}

// validateCallableRef applies the same closure/registration checks as
// resolveCallable to an already-known name, for callers (internal/dynamic)
// that never had the original func value to begin with.
func validateCallableRef(name string) error {
	if registry.IsClosureOrLambda(name) {
		return errs.New(errs.KindUser, fmt.Sprintf("callable %q is a lambda or locally nested function and cannot be re-resolved across restarts", name))
	}
	if _, ok := registry.Lookup(name); !ok {
		return errs.New(errs.KindUser, fmt.Sprintf("callable %q is not registered; call registry.Register at package init", name))
	}
	return nil
}

// checkReservedKwarg rejects a kwargs map that smuggles a "job_id" entry —
// the engine treats job_id as a reserved name for the id it manages on the
// caller's behalf.
func checkReservedKwarg(kwargs map[string]any) error {
	if _, ok := kwargs["job_id"]; ok {
		return errs.New(errs.KindUser, `"job_id" is a reserved keyword argument name`)
	}
	return nil
}
