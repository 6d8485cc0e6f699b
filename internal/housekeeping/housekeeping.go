// Package housekeeping implements Clean / Invalidate (C9): removing jobs and
// their downstream definitions, resetting cache state, and pruning stale
// top-level jobs at the start of a fresh session (spec section 4.8).
package housekeeping

import (
	"context"
	"encoding/json"

	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/graph"
	"github.com/compmake/engine/internal/model"
	"github.com/compmake/engine/internal/store"
)

// Clean deletes every job in ids, its Cache, UserObject and progress record,
// and recursively every job in their definition closure; it then repairs
// every parent's children set and every definer's defines set. All writes
// land in one store.Batch.
func Clean(ctx context.Context, st store.Store, g *graph.Graph, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	closure := g.DefinitionClosure(ids...)
	doomed := map[string]struct{}{}
	for _, id := range ids {
		doomed[id] = struct{}{}
	}
	for id := range closure {
		doomed[id] = struct{}{}
	}

	affectedParents := map[string]*model.Job{}
	for id := range doomed {
		j, ok := g.Get(id)
		if !ok {
			continue
		}
		for child := range j.Children {
			if _, gone := doomed[child]; gone {
				continue
			}
			if _, loaded := affectedParents[child]; !loaded {
				if cj, ok := g.Get(child); ok {
					affectedParents[child] = cj
				}
			}
		}
		for parent := range j.Parents {
			if _, gone := doomed[parent]; gone {
				continue
			}
			if _, loaded := affectedParents[parent]; !loaded {
				if pj, ok := g.Get(parent); ok {
					affectedParents[parent] = pj
				}
			}
		}
	}
	for id := range doomed {
		j, ok := g.Get(id)
		if !ok {
			continue
		}
		definer := ""
		if len(j.DefinedBy) > 0 {
			definer = j.DefinedBy[len(j.DefinedBy)-1]
		}
		if definer == "" || definer == "root" {
			continue
		}
		if _, gone := doomed[definer]; gone {
			continue
		}
		if _, loaded := affectedParents[definer]; !loaded {
			if dj, ok := g.Get(definer); ok {
				affectedParents[definer] = dj
			}
		}
	}

	for id := range doomed {
		for _, pj := range affectedParents {
			delete(pj.Children, id)
			delete(pj.Parents, id)
			delete(pj.Defines, id)
		}
	}

	err := st.Batch(ctx, func(b store.Batch) error {
		for id := range doomed {
			if err := b.Delete(model.Key(model.NamespaceJob, id)); err != nil {
				return err
			}
			if err := b.Delete(model.Key(model.NamespaceCache, id)); err != nil {
				return err
			}
			if err := b.Delete(model.Key(model.NamespaceUserObject, id)); err != nil {
				return err
			}
			if err := b.Delete(model.Key(model.NamespaceProgress, id)); err != nil {
				return err
			}
		}
		for _, pj := range affectedParents {
			blob, err := graph.Marshal(pj)
			if err != nil {
				return err
			}
			if err := b.Set(model.Key(model.NamespaceJob, pj.ID), blob); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.KindDB, "clean", err)
	}

	doomedIDs := make([]string, 0, len(doomed))
	for id := range doomed {
		doomedIDs = append(doomedIDs, id)
	}
	g.Remove(doomedIDs...)

	parents := make([]*model.Job, 0, len(affectedParents))
	for _, pj := range affectedParents {
		parents = append(parents, pj)
	}
	g.Apply(parents...)

	return nil
}

// Invalidate resets Cache.State to NOT_STARTED for every id in ids, leaving
// job records, definitions and the definition closure untouched; staleness
// then propagates upward the next time internal/oracle evaluates a parent
// (rule 4 in spec section 4.4 already recurses into every static child).
func Invalidate(ctx context.Context, st store.Store, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := st.Batch(ctx, func(b store.Batch) error {
		for _, id := range ids {
			cache := model.NewCache(id)
			blob, err := json.Marshal(cache)
			if err != nil {
				return err
			}
			if err := b.Set(model.Key(model.NamespaceCache, id), blob); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.KindDB, "invalidate", err)
	}
	return nil
}

// CleanOtherJobs is run at the start of a fresh session: it removes every
// job whose DefinedBy is exactly ["root"] that the current top-level user
// code has not re-registered yet this session (spec section 4.8).
func CleanOtherJobs(ctx context.Context, st store.Store, g *graph.Graph, reregistered []string) error {
	keep := map[string]struct{}{}
	for _, id := range reregistered {
		keep[id] = struct{}{}
	}

	var stale []string
	for _, id := range g.All() {
		j, ok := g.Get(id)
		if !ok {
			continue
		}
		if len(j.DefinedBy) != 1 || j.DefinedBy[0] != "root" {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		stale = append(stale, id)
	}
	return Clean(ctx, st, g, stale)
}
