// Package graph is the in-memory Graph Index (C2): parent/child,
// definer/defined and dynamic-child relations, mirrored from — and kept in
// lockstep with — the persistent Job records in internal/store. All
// operations are O(|affected edges|); nothing here ever does a full store
// scan except the one-time Load on session open.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/compmake/engine/internal/model"
	"github.com/compmake/engine/internal/store"
)

// Graph is the caller-confined in-memory index; the store is the owner of
// all records, this is purely a derived view (spec section 9 design notes).
type Graph struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// New returns an empty graph, e.g. for a brand-new store.
func New() *Graph {
	return &Graph{jobs: map[string]*model.Job{}}
}

// Load rebuilds the graph from every job record in st.
func Load(ctx context.Context, st store.Store) (*Graph, error) {
	keys, err := st.Keys(ctx, string(model.NamespaceJob)+":*")
	if err != nil {
		return nil, fmt.Errorf("graph: list job keys: %w", err)
	}
	g := New()
	for _, key := range keys {
		raw, err := st.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("graph: load %s: %w", key, err)
		}
		var j model.Job
		if err := json.Unmarshal(raw, &j); err != nil {
			return nil, fmt.Errorf("graph: decode %s: %w", key, err)
		}
		g.jobs[j.ID] = &j
	}
	return g, nil
}

// Get returns the job with id, if known.
func (g *Graph) Get(id string) (*model.Job, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	j, ok := g.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// Has reports whether id is a known job.
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.jobs[id]
	return ok
}

// All returns a snapshot of every job id currently in the graph.
func (g *Graph) All() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.jobs))
	for id := range g.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Children returns the static child ids of id.
func (g *Graph) Children(id string) []string {
	j, ok := g.Get(id)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(j.Children))
	for c := range j.Children {
		out = append(out, c)
	}
	return out
}

// Parents returns the static parent ids of id (spec invariant 2).
func (g *Graph) Parents(id string) []string {
	j, ok := g.Get(id)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(j.Parents))
	for p := range j.Parents {
		out = append(out, p)
	}
	return out
}

// DynamicChildSets returns every set of ids currently attributed to a
// dynamic parent id (spec section 4.4 rule 6: "every dynamic-child-set
// currently attributed to J").
func (g *Graph) DynamicChildSets(id string) [][]string {
	j, ok := g.Get(id)
	if !ok {
		return nil
	}
	var sets [][]string
	for _, kids := range j.DynamicChildren {
		set := make([]string, 0, len(kids))
		for k := range kids {
			set = append(set, k)
		}
		sets = append(sets, set)
	}
	return sets
}

// DefinitionClosure returns every job transitively defined by any id in ids
// (spec section 4.2), walking the Defines edges breadth-first.
func (g *Graph) DefinitionClosure(ids ...string) map[string]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	closure := map[string]struct{}{}
	queue := append([]string(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		j, ok := g.jobs[id]
		if !ok {
			continue
		}
		for d := range j.Defines {
			if _, seen := closure[d]; seen {
				continue
			}
			closure[d] = struct{}{}
			queue = append(queue, d)
		}
	}
	return closure
}

// Apply installs jobs into the in-memory index after their corresponding
// store writes have already committed; callers must not call Apply before
// the store.Batch that produced these records has returned nil (otherwise
// the in-memory view could race ahead of a rolled-back transaction).
func (g *Graph) Apply(jobs ...*model.Job) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, j := range jobs {
		g.jobs[j.ID] = j.Clone()
	}
}

// Remove deletes ids from the in-memory index, mirroring a committed
// housekeeping.Clean.
func (g *Graph) Remove(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		delete(g.jobs, id)
	}
}

// Marshal serialises j for storage under model.Key(model.NamespaceJob, j.ID).
func Marshal(j *model.Job) ([]byte, error) {
	return json.Marshal(j)
}
