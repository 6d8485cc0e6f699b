// Package dynamic implements the Dynamic Expansion component (C8): the
// recording context a running dynamic job's callable uses to register
// children, and the reconciliation of a dynamic job's defined set across
// reruns (spec section 4.7).
package dynamic

import (
	"context"
	"fmt"
	"sync"

	"github.com/compmake/engine/internal/engine"
	"github.com/compmake/engine/internal/jobctx"
)

// Context is the jobctx.Context a dynamic job's callable is given while it
// runs. Every Comp/CompDynamic call defines a child job id-namespaced under
// the parent, in the order invoked.
type Context struct {
	mu        sync.Mutex
	parentID  string
	definedBy []string
	eng       *engine.Engine

	counts  map[string]int
	defined []string // child ids registered this run, in call order
}

var _ jobctx.Context = (*Context)(nil)

// New returns a recording Context for the dynamic job parentID, whose own
// DefinedBy stack is parentDefinedBy.
func New(parentID string, parentDefinedBy []string, eng *engine.Engine) *Context {
	return &Context{
		parentID:  parentID,
		definedBy: append(append([]string(nil), parentDefinedBy...), parentID),
		eng:       eng,
		counts:    map[string]int{},
	}
}

// ParentJobID implements jobctx.Context.
func (c *Context) ParentJobID() string { return c.parentID }

// Defined returns every child id registered so far, in call order — the
// "New" set a reconciliation pass compares against "Old" (spec section 4.7).
func (c *Context) Defined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.defined...)
}

// Comp implements jobctx.Context: registers a static child.
func (c *Context) Comp(ctx context.Context, id, callableRef string, args []any, kwargs map[string]any) (string, error) {
	return c.comp(ctx, id, callableRef, args, kwargs, false)
}

// CompDynamic implements jobctx.Context: registers a dynamic child.
func (c *Context) CompDynamic(ctx context.Context, id, callableRef string, args []any, kwargs map[string]any) (string, error) {
	return c.comp(ctx, id, callableRef, args, kwargs, true)
}

func (c *Context) comp(ctx context.Context, id, callableRef string, args []any, kwargs map[string]any, needsContext bool) (string, error) {
	jobID := c.allocateID(id)

	_, err := c.eng.DefineRef(ctx, engine.DefineRefInput{
		JobID:        jobID,
		CallableRef:  callableRef,
		Args:         args,
		Kwargs:       kwargs,
		DefinedBy:    c.definedBy,
		NeedsContext: needsContext,
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.defined = append(c.defined, jobID)
	c.mu.Unlock()

	return jobID, nil
}

// allocateID builds the namespaced child id "parent-id", appending numeric
// suffixes -0, -1, ... on collision with an id this same context already
// allocated (spec section 4.7).
func (c *Context) allocateID(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := c.parentID + "-" + id
	n, collided := c.counts[base]
	c.counts[base] = n + 1
	if !collided {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n-1)
}
