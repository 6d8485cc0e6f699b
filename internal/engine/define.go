// Package engine implements the Definition API (C4 in spec section 4.3):
// registering a new job or redefining an existing one.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/graph"
	"github.com/compmake/engine/internal/model"
	"github.com/compmake/engine/internal/store"
)

// Engine owns the Define operation against one store+graph pair.
type Engine struct {
	st          store.Store
	g           *graph.Graph
	checkParams bool
}

// Options configures an Engine.
type Options struct {
	CheckParams bool
}

// New returns an Engine bound to st/g.
func New(st store.Store, g *graph.Graph, opts Options) *Engine {
	return &Engine{st: st, g: g, checkParams: opts.CheckParams}
}

// DefineInput is the parameter set for Define, mirroring
// define(job_id, callable_ref, args, kwargs, *, defined_by, needs_context)
// from spec section 4.3.
type DefineInput struct {
	JobID        string
	Callable     any // a func value resolved via registry.NameOf
	Args         []any
	Kwargs       map[string]any
	DefinedBy    []string // defaults to ["root"] if nil/empty
	NeedsContext bool
}

// Result reports what Define did.
type Result struct {
	Job     *model.Job
	Created bool // true if this was a brand new job
	Changed bool // true if an existing job's definition changed
}

// Define registers job or, if it already exists, redefines it per the rules
// in spec section 4.3.
func (e *Engine) Define(ctx context.Context, in DefineInput) (*Result, error) {
	callableRef, err := resolveCallable(in.Callable)
	if err != nil {
		return nil, err
	}
	return e.defineResolved(ctx, in.JobID, callableRef, in.Args, in.Kwargs, in.DefinedBy, in.NeedsContext)
}

// DefineRefInput is like DefineInput but names the callable by its already
// registered name rather than a func value. A running dynamic job's
// jobctx.Context only ever holds the string form (it was itself resolved once
// by the top-level Define call that registered the dynamic job), so
// internal/dynamic drives registration through this entry point instead
// (spec section 4.7).
type DefineRefInput struct {
	JobID        string
	CallableRef  string
	Args         []any
	Kwargs       map[string]any
	DefinedBy    []string
	NeedsContext bool
}

// DefineRef is the C4 entry point used by internal/dynamic when a running
// job's context registers a child.
func (e *Engine) DefineRef(ctx context.Context, in DefineRefInput) (*Result, error) {
	if err := validateCallableRef(in.CallableRef); err != nil {
		return nil, err
	}
	return e.defineResolved(ctx, in.JobID, in.CallableRef, in.Args, in.Kwargs, in.DefinedBy, in.NeedsContext)
}

func (e *Engine) defineResolved(ctx context.Context, jobID, callableRef string, args []any, kwargs map[string]any, definedByIn []string, needsContext bool) (*Result, error) {
	if !model.ValidJobID(jobID) {
		return nil, errs.New(errs.KindUser, fmt.Sprintf("invalid job id %q: only letters, digits, '_' and '-' are allowed", jobID))
	}
	if kwargs != nil {
		if err := checkReservedKwarg(kwargs); err != nil {
			return nil, err
		}
	}

	children := collectChildren(anySlice(args), kwargs)
	for child := range children {
		if !e.g.Has(child) {
			return nil, errs.New(errs.KindUser, fmt.Sprintf("job %q references unknown job %q", jobID, child))
		}
	}
	if err := e.checkAcyclic(jobID, children); err != nil {
		return nil, err
	}

	argsBlob, err := json.Marshal(args)
	if err != nil {
		return nil, errs.Wrap(errs.KindUser, "failed to serialise args", err)
	}
	kwargsBlob, err := json.Marshal(kwargs)
	if err != nil {
		return nil, errs.Wrap(errs.KindUser, "failed to serialise kwargs", err)
	}

	definedBy := definedByIn
	if len(definedBy) == 0 {
		definedBy = []string{"root"}
	}

	candidate := model.NewJob(jobID)
	candidate.CallableRef = callableRef
	candidate.Args = argsBlob
	candidate.Kwargs = kwargsBlob
	candidate.Children = children
	candidate.DefinedBy = definedBy
	candidate.NeedsContext = needsContext
	candidate.IsDynamic = needsContext

	existing, exists := e.g.Get(jobID)
	if !exists {
		return e.commitNew(ctx, candidate)
	}

	if err := checkDefinerProvenance(existing, candidate); err != nil {
		return nil, err
	}

	if existing.SameDefinition(candidate) {
		// Idempotent: Cache is left byte-identical (spec invariant: "define
		// is idempotent when (callable_ref, args) is unchanged").
		return &Result{Job: existing, Created: false, Changed: false}, nil
	}

	if e.checkParams {
		return nil, errs.New(errs.KindUser, fmt.Sprintf("job %q already defined with a different (callable_ref, args, kwargs) and check_params is enabled", jobID))
	}

	return e.commitRedefinition(ctx, existing, candidate)
}

// checkDefinerProvenance rejects a redefinition that would hand jobID's
// identity to a different dynamic parent than the one that currently owns it
// (an unexercised edge case; spec section 6 recommends treating a sibling
// dynamic job's id collision as UserError since provenance becomes
// ambiguous). Redefinitions from the same definer, or from root, are
// unaffected.
func checkDefinerProvenance(existing, candidate *model.Job) error {
	oldDefiner := existing.DefinedBy[len(existing.DefinedBy)-1]
	newDefiner := candidate.DefinedBy[len(candidate.DefinedBy)-1]
	if oldDefiner == "root" || newDefiner == "root" || oldDefiner == newDefiner {
		return nil
	}
	return errs.New(errs.KindUser, fmt.Sprintf(
		"job %q was already defined by %q; %q cannot redefine it (sibling dynamic id collision)",
		existing.ID, oldDefiner, newDefiner))
}

func (e *Engine) checkAcyclic(jobID string, children map[string]struct{}) error {
	visited := map[string]struct{}{}
	var stack []string
	for c := range children {
		stack = append(stack, c)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == jobID {
			return errs.New(errs.KindUser, fmt.Sprintf("defining %q would introduce a cycle", jobID))
		}
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		for _, gc := range e.g.Children(id) {
			stack = append(stack, gc)
		}
	}
	return nil
}

// commitNew writes a brand new job, its initial NOT_STARTED cache, and the
// inverse edges on every referenced child / direct definer, all in one
// store.Batch (spec section 4.3's commit step).
func (e *Engine) commitNew(ctx context.Context, j *model.Job) (*Result, error) {
	touched := map[string]*model.Job{j.ID: j}

	for child := range j.Children {
		cj, _ := e.g.Get(child)
		cj.Parents[j.ID] = struct{}{}
		touched[child] = cj
	}

	directDefiner := j.DefinedBy[len(j.DefinedBy)-1]
	if directDefiner != "root" {
		dj, ok := e.g.Get(directDefiner)
		if !ok {
			return nil, errs.New(errs.KindDB, fmt.Sprintf("definer %q of job %q does not exist", directDefiner, j.ID))
		}
		dj.Defines[j.ID] = struct{}{}
		touched[directDefiner] = dj
	}

	cache := model.NewCache(j.ID)

	err := e.st.Batch(ctx, func(b store.Batch) error {
		for _, tj := range touched {
			blob, err := graph.Marshal(tj)
			if err != nil {
				return err
			}
			if err := b.Set(model.Key(model.NamespaceJob, tj.ID), blob); err != nil {
				return err
			}
		}
		cacheBlob, err := json.Marshal(cache)
		if err != nil {
			return err
		}
		return b.Set(model.Key(model.NamespaceCache, j.ID), cacheBlob)
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDB, "commit new job", err)
	}

	jobs := make([]*model.Job, 0, len(touched))
	for _, tj := range touched {
		jobs = append(jobs, tj)
	}
	e.g.Apply(jobs...)

	return &Result{Job: j, Created: true}, nil
}

// commitRedefinition applies a changed (callable_ref, args, kwargs) to an
// existing job: children edges are diffed and updated, the Cache is reset to
// NOT_STARTED, and the definition timestamp is bumped for display. Every
// transitive parent becomes stale because the up-to-date oracle recurses
// into children and sees the reset Cache (spec section 4.3).
func (e *Engine) commitRedefinition(ctx context.Context, existing, candidate *model.Job) (*Result, error) {
	updated := existing.Clone()
	updated.CallableRef = candidate.CallableRef
	updated.Args = candidate.Args
	updated.Kwargs = candidate.Kwargs
	updated.NeedsContext = candidate.NeedsContext
	updated.IsDynamic = candidate.IsDynamic
	updated.DefinitionTimestamp = time.Now().UnixNano()
	updated.Children = candidate.Children

	touched := map[string]*model.Job{updated.ID: updated}

	for child := range existing.Children {
		if _, still := candidate.Children[child]; still {
			continue
		}
		cj, ok := e.g.Get(child)
		if ok {
			delete(cj.Parents, updated.ID)
			touched[child] = cj
		}
	}
	for child := range candidate.Children {
		if _, already := existing.Children[child]; already {
			continue
		}
		cj, ok := e.g.Get(child)
		if !ok {
			return nil, errs.New(errs.KindDB, fmt.Sprintf("job %q references unknown job %q", updated.ID, child))
		}
		cj.Parents[updated.ID] = struct{}{}
		touched[child] = cj
	}

	cache := model.NewCache(updated.ID)

	err := e.st.Batch(ctx, func(b store.Batch) error {
		for _, tj := range touched {
			blob, err := graph.Marshal(tj)
			if err != nil {
				return err
			}
			if err := b.Set(model.Key(model.NamespaceJob, tj.ID), blob); err != nil {
				return err
			}
		}
		cacheBlob, err := json.Marshal(cache)
		if err != nil {
			return err
		}
		return b.Set(model.Key(model.NamespaceCache, updated.ID), cacheBlob)
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDB, "commit redefinition", err)
	}

	jobs := make([]*model.Job, 0, len(touched))
	for _, tj := range touched {
		jobs = append(jobs, tj)
	}
	e.g.Apply(jobs...)

	return &Result{Job: updated, Created: false, Changed: true}, nil
}

func anySlice(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}
