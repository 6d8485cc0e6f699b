// Package oracle implements the Up-to-date Oracle (C5): the pure,
// session-memoised staleness check described in spec section 4.4.
package oracle

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

// Verdict is the (fresh, reason, timestamp) triple spec section 4.4 returns.
// Reason is human-readable text with no stability contract; internal/shell's
// Ls and Details report only Fresh, not Reason.
type Verdict struct {
	Fresh     bool
	Reason    string
	Timestamp time.Time
}

// Session memoises UpToDate results for the lifetime of one query — a single
// `make`/`details`/`ls` invocation — so a diamond-shaped dependency graph
// never re-walks a shared ancestor more than once (spec section 4.4: "Pure
// function ... with memoisation inside a single query session").
type Session struct {
	st store.Store
	g  *graph.Graph

	cache    map[string]*Cache // per-job Cache loaded this session
	verdicts map[string]*Verdict
	visiting map[string]bool // cycle guard; the graph itself is acyclic by
	// construction (internal/engine rejects cycles at Define time) but a
	// corrupted store should fail loudly rather than stack-overflow.
}

// Cache mirrors model.Cache; kept as a separate alias so callers reading this
// package's doc don't need to chase into internal/model for the type used by
// UpToDate's rules.
type Cache = model.Cache

// NewSession opens a memoised oracle session against st/g.
func NewSession(st store.Store, g *graph.Graph) *Session {
	return &Session{
		st:       st,
		g:        g,
		cache:    map[string]*Cache{},
		verdicts: map[string]*Verdict{},
		visiting: map[string]bool{},
	}
}

// UpToDate evaluates the seven rules of spec section 4.4 for jobID, in
// order, short-circuiting on the first rule that applies.
func (s *Session) UpToDate(ctx context.Context, jobID string) (*Verdict, error) {
	if v, ok := s.verdicts[jobID]; ok {
		return v, nil
	}
	if s.visiting[jobID] {
		return nil, errs.New(errs.KindBug, fmt.Sprintf("up_to_date: cycle detected through %q", jobID))
	}
	s.visiting[jobID] = true
	defer delete(s.visiting, jobID)

	v, err := s.evaluate(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.verdicts[jobID] = v
	return v, nil
}

func (s *Session) evaluate(ctx context.Context, jobID string) (*Verdict, error) {
	// Rule 1: unknown job.
	job, ok := s.g.Get(jobID)
	if !ok {
		return nil, errs.New(errs.KindDB, fmt.Sprintf("up_to_date: unknown job %q", jobID))
	}

	cache, err := s.loadCache(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// Rule 2: FAILED or BLOCKED.
	if cache.State == model.Failed || cache.State == model.Blocked {
		return &Verdict{Fresh: false, Reason: "failed"}, nil
	}

	// Rule 3: never run.
	if cache.State == model.NotStarted {
		return &Verdict{Fresh: false, Reason: "never run"}, nil
	}

	// Rule 4: every static child must be fresh.
	for child := range job.Children {
		cv, err := s.UpToDate(ctx, child)
		if err != nil {
			return nil, err
		}
		if !cv.Fresh {
			return &Verdict{Fresh: false, Reason: fmt.Sprintf("child %s stale", child)}, nil
		}
	}

	// Rule 5: a child's frozen timestamp must match its current one.
	for child, frozen := range cache.HashesOfChildren {
		childCache, err := s.loadCache(ctx, child)
		if err != nil {
			return nil, err
		}
		if !childCache.Timestamp.Equal(frozen) {
			return &Verdict{Fresh: false, Reason: fmt.Sprintf("child %s updated after this job", child)}, nil
		}
	}

	// Rule 6: every dynamic-child-set currently attributed to J.
	for _, set := range s.g.DynamicChildSets(jobID) {
		for _, child := range set {
			cv, err := s.UpToDate(ctx, child)
			if err != nil {
				return nil, err
			}
			if !cv.Fresh {
				return &Verdict{Fresh: false, Reason: fmt.Sprintf("child %s stale", child)}, nil
			}
		}
	}

	// Rule 7.
	return &Verdict{Fresh: true, Reason: "ok", Timestamp: cache.Timestamp}, nil
}

func (s *Session) loadCache(ctx context.Context, jobID string) (*Cache, error) {
	if c, ok := s.cache[jobID]; ok {
		return c, nil
	}
	raw, err := s.st.Get(ctx, model.Key(model.NamespaceCache, jobID))
	if err != nil {
		return nil, errs.Wrap(errs.KindDB, fmt.Sprintf("load cache for %q", jobID), err)
	}
	var c Cache
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errs.Wrap(errs.KindDB, fmt.Sprintf("decode cache for %q", jobID), err)
	}
	s.cache[jobID] = &c
	return &c, nil
}
