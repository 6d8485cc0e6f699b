package graph

import (
	"context"
	"fmt"

	"github.com/compmake/engine/internal/store"
)

// CheckInvariants re-verifies the universal invariants from spec section 3
// that are expressible purely in terms of the Job graph (invariants 1, 2 and
// 6; invariants 3-5 and 7 additionally involve Cache and are checked by
// internal/oracle and internal/engine at the point they'd be violated).
// internal/shell runs it once at the end of each make when the
// DebugCheckInvariants configuration option is set, and on every
// check-consistency command; it is not run after individual commits.
func (g *Graph) CheckInvariants(ctx context.Context, st store.Store) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, j := range g.jobs {
		// Invariant 1 & 2: parents(C) = { J : C in J.children }, both
		// directions consistent.
		for child := range j.Children {
			cj, ok := g.jobs[child]
			if !ok {
				return fmt.Errorf("graph: invariant violated: %s references missing child %s", id, child)
			}
			if _, ok := cj.Parents[id]; !ok {
				return fmt.Errorf("graph: invariant violated: %s is a child of %s but %s is not in its parents", child, id, id)
			}
		}
		for parent := range j.Parents {
			pj, ok := g.jobs[parent]
			if !ok {
				return fmt.Errorf("graph: invariant violated: %s references missing parent %s", id, parent)
			}
			if _, ok := pj.Children[id]; !ok {
				return fmt.Errorf("graph: invariant violated: %s is a parent of %s but %s is not in its children", parent, id, id)
			}
		}

		// Invariant 6: defined_by ends with the direct definer, which must
		// itself claim this job in its Defines set (except the root job,
		// whose stack is exactly ["root"]).
		if len(j.DefinedBy) > 0 {
			direct := j.DefinedBy[len(j.DefinedBy)-1]
			if direct != "root" {
				dj, ok := g.jobs[direct]
				if !ok {
					return fmt.Errorf("graph: invariant violated: %s's direct definer %s does not exist", id, direct)
				}
				if _, ok := dj.Defines[id]; !ok {
					return fmt.Errorf("graph: invariant violated: %s not present in definer %s's defines set", id, direct)
				}
			}
		}
	}
	return nil
}
