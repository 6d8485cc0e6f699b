package dynamic

import (
	"context"

	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/graph"
	"github.com/compmake/engine/internal/model"
	"github.com/compmake/engine/internal/store"
)

// Reconciliation is the outcome of comparing a dynamic job's previous defined
// set against the set it just produced (spec section 4.7).
type Reconciliation struct {
	Added     []string // New \ Old
	Preserved []string // Old ∩ New (Reconcile leaves their caches as they are; a changed definition was already reset by engine.DefineRef)
	Orphans   []string // Old \ New, plus their transitive Defines closure
}

// Reconcile commits parentID's new dynamic-child set against g/st and
// returns the ids orphaned by the rerun. The caller (internal/scheduler) is
// responsible for actually deleting orphans via internal/housekeeping —
// Reconcile only records the new DynamicChildren set, adds the matching
// Children edges (dropping the orphans' edges) and computes the orphan list,
// since housekeeping's Clean is what owns the Cache/UserObject cascade for a
// removed id.
func Reconcile(ctx context.Context, st store.Store, g *graph.Graph, parentID string, newIDs []string) (*Reconciliation, error) {
	parent, ok := g.Get(parentID)
	if !ok {
		return nil, errs.New(errs.KindBug, "reconcile: unknown parent "+parentID)
	}

	old := parent.DynamicChildren[parentID]
	newSet := make(map[string]struct{}, len(newIDs))
	for _, id := range newIDs {
		newSet[id] = struct{}{}
	}

	rec := &Reconciliation{}
	for id := range newSet {
		if _, wasOld := old[id]; wasOld {
			rec.Preserved = append(rec.Preserved, id)
		} else {
			rec.Added = append(rec.Added, id)
		}
	}

	var orphanRoots []string
	for id := range old {
		if _, stillThere := newSet[id]; !stillThere {
			orphanRoots = append(orphanRoots, id)
		}
	}
	if len(orphanRoots) > 0 {
		closure := g.DefinitionClosure(orphanRoots...)
		seen := map[string]struct{}{}
		for _, id := range orphanRoots {
			seen[id] = struct{}{}
		}
		for id := range closure {
			seen[id] = struct{}{}
		}
		for id := range seen {
			rec.Orphans = append(rec.Orphans, id)
		}
	}

	updated := parent.Clone()
	updated.DynamicChildren[parentID] = newSet
	for id := range newSet {
		updated.Children[id] = struct{}{}
	}
	for _, id := range rec.Orphans {
		delete(updated.Children, id)
	}

	blob, err := graph.Marshal(updated)
	if err != nil {
		return nil, errs.Wrap(errs.KindDB, "marshal reconciled parent", err)
	}
	if err := st.Batch(ctx, func(b store.Batch) error {
		return b.Set(model.Key(model.NamespaceJob, parentID), blob)
	}); err != nil {
		return nil, errs.Wrap(errs.KindDB, "commit reconciliation", err)
	}
	g.Apply(updated)

	return rec, nil
}

// DiscardFailedRun implements the failure semantics of spec section 4.7: if
// the dynamic job's callable returned an error, every child it registered
// during that run that is not in the previous successful Old set (together
// with its definition closure) is discarded; children that were already in
// Old are kept. The engine.Define calls that ran before the failure already
// persisted those job records; this removes the new ones so the store never
// retains partial new children from a failed dynamic run.
func DiscardFailedRun(ctx context.Context, st store.Store, g *graph.Graph, parentID string, attempted []string) error {
	if len(attempted) == 0 {
		return nil
	}
	parent, ok := g.Get(parentID)
	if !ok {
		return errs.New(errs.KindBug, "discard: unknown parent "+parentID)
	}
	old := parent.DynamicChildren[parentID]

	var toDelete []string
	for _, id := range attempted {
		if _, wasOld := old[id]; !wasOld {
			toDelete = append(toDelete, id)
		}
	}
	if len(toDelete) == 0 {
		return nil
	}

	closure := g.DefinitionClosure(toDelete...)
	all := map[string]struct{}{}
	for _, id := range toDelete {
		all[id] = struct{}{}
	}
	for id := range closure {
		all[id] = struct{}{}
	}

	if err := st.Batch(ctx, func(b store.Batch) error {
		for id := range all {
			if err := b.Delete(model.Key(model.NamespaceJob, id)); err != nil {
				return err
			}
			if err := b.Delete(model.Key(model.NamespaceCache, id)); err != nil {
				return err
			}
			if err := b.Delete(model.Key(model.NamespaceUserObject, id)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return errs.Wrap(errs.KindDB, "discard failed dynamic run", err)
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	g.Remove(ids...)
	return nil
}
