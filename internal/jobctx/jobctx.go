// Package jobctx declares the minimal interface a dynamic job's callable
// receives as its recording sub-context, broken out into its own package so
// internal/registry (which every callable package imports to register
// itself) and internal/engine never need to import internal/dynamic
// directly — only internal/dynamic and internal/scheduler know about each
// other's concrete types.
package jobctx

import "context"

// Context is passed as the first argument to a dynamic job's callable. Comp
// and CompDynamic register children under the parent's id namespace, per
// spec section 4.7.
type Context interface {
	// Comp registers a static child job and returns the child's full job
	// id. id is the unqualified child name; the implementation prefixes it
	// with the parent's id and the nesting separator.
	Comp(ctx context.Context, id, callableRef string, args []any, kwargs map[string]any) (jobID string, err error)

	// CompDynamic registers a dynamic child job (needs_context = true).
	CompDynamic(ctx context.Context, id, callableRef string, args []any, kwargs map[string]any) (jobID string, err error)

	// ParentJobID is the id of the dynamic job this context was created for.
	ParentJobID() string
}
