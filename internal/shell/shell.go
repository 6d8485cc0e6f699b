// Package shell implements the external command surface of spec section 6:
// make, clean, invalidate, ls, details, dump, check_consistency. Each
// command resolves its job-set expression through internal/selector against
// the current internal/oracle states, then delegates to the underlying
// component (internal/scheduler, internal/housekeeping) the way the
// teacher's HTTP handlers thin-wrap internal/services calls.
package shell

import (
	"context"
	"fmt"
	"sort"

	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/model"
	"github.com/compmake/engine/internal/oracle"
	"github.com/compmake/engine/internal/scheduler"
	"github.com/compmake/engine/internal/selector"
	"github.com/compmake/engine/internal/session"
	"github.com/compmake/engine/internal/userobject"
)

// Shell dispatches the command surface against one session.
type Shell struct {
	sess *session.Session
}

// New returns a Shell bound to sess.
func New(sess *session.Session) *Shell {
	return &Shell{sess: sess}
}

// resolve parses expr against the current universe and cache states,
// returning the matching job ids in selector order (spec section 4.5).
func (s *Shell) resolve(ctx context.Context, expr string) ([]string, error) {
	universe := s.sess.Graph.All()
	states, err := s.loadStates(ctx, universe)
	if err != nil {
		return nil, err
	}
	seq, err := selector.Parse(expr, universe, states)
	if err != nil {
		return nil, err
	}
	var out []string
	for id := range seq {
		out = append(out, id)
	}
	return out, nil
}

func (s *Shell) loadStates(ctx context.Context, ids []string) (map[string]model.CacheState, error) {
	states := make(map[string]model.CacheState, len(ids))
	for _, id := range ids {
		raw, err := s.sess.Store.Get(ctx, model.Key(model.NamespaceCache, id))
		if err != nil {
			return nil, errs.Wrap(errs.KindDB, fmt.Sprintf("load cache for %q", id), err)
		}
		var c model.Cache
		if err := decodeCache(raw, &c); err != nil {
			return nil, err
		}
		states[id] = c.State
	}
	return states, nil
}

// MakeOptions mirrors the make command's named options (spec section 6).
type MakeOptions struct {
	Targets     string // job-set expression; "all" if empty
	Recurse     bool
	NewProcess  bool
	Concurrency int
}

// Make resolves Targets to its up-to-date closure and runs the scheduler
// over exactly the stale jobs (spec section 4.4's oracle decides staleness;
// make only ever (re-)runs jobs the oracle says are not up to date).
func (s *Shell) Make(ctx context.Context, opts MakeOptions) (*scheduler.Report, error) {
	expr := opts.Targets
	if expr == "" {
		expr = "all"
	}
	ids, err := s.resolve(ctx, expr)
	if err != nil {
		return nil, err
	}

	stale, err := s.staleClosure(ctx, ids)
	if err != nil {
		return nil, err
	}

	mode := scheduler.ModeSequential
	if opts.NewProcess {
		mode = scheduler.ModeNewProcess
	} else if opts.Concurrency > 1 {
		mode = scheduler.ModeParallel
	}

	report, err := s.sess.Scheduler.Run(ctx, stale, scheduler.Options{
		Mode:            mode,
		Workers:         opts.Concurrency,
		Recurse:         opts.Recurse,
		CompressResults: s.sess.Config.Store.Compress,
		WorkerCommand:   newProcessCommand(),
	})
	if s.sess.Config.DebugCheckInvariants {
		if cerr := s.CheckConsistency(ctx); cerr != nil {
			if err == nil {
				return report, cerr
			}
		}
	}
	return report, err
}

// staleClosure runs internal/oracle over ids and, below every stale job, over
// its static children, returning every job in that closure that is not up to
// date — so the scheduler is handed each stale dependency a target waits on.
func (s *Shell) staleClosure(ctx context.Context, ids []string) ([]string, error) {
	uds := s.sess.UpToDateSession()
	var stale []string
	seen := map[string]struct{}{}
	queue := append([]string(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		v, err := uds.UpToDate(ctx, id)
		if err != nil {
			return nil, err
		}
		if !v.Fresh {
			stale = append(stale, id)
			queue = append(queue, s.sess.Graph.Children(id)...)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

// Clean resolves expr and deletes the matching jobs and their definition
// closures (spec section 4.8).
func (s *Shell) Clean(ctx context.Context, expr string) ([]string, error) {
	ids, err := s.resolve(ctx, expr)
	if err != nil {
		return nil, err
	}
	if err := s.sess.Clean(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Invalidate resolves expr and resets the matching jobs' Cache to
// NOT_STARTED.
func (s *Shell) Invalidate(ctx context.Context, expr string) ([]string, error) {
	ids, err := s.resolve(ctx, expr)
	if err != nil {
		return nil, err
	}
	if err := s.sess.Invalidate(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// JobSummary is one row of `ls`'s output.
type JobSummary struct {
	ID    string
	State model.CacheState
	Fresh bool
}

// Ls resolves expr and reports each matching job's current state and
// up-to-date verdict.
func (s *Shell) Ls(ctx context.Context, expr string) ([]JobSummary, error) {
	ids, err := s.resolve(ctx, expr)
	if err != nil {
		return nil, err
	}
	states, err := s.loadStates(ctx, ids)
	if err != nil {
		return nil, err
	}
	uds := s.sess.UpToDateSession()
	out := make([]JobSummary, 0, len(ids))
	for _, id := range ids {
		v, err := uds.UpToDate(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, JobSummary{ID: id, State: states[id], Fresh: v.Fresh})
	}
	return out, nil
}

// JobDetail is one `details` report for a single job.
type JobDetail struct {
	Job   *model.Job
	Cache *model.Cache
}

// Details resolves expr and returns full Job+Cache records for each match.
func (s *Shell) Details(ctx context.Context, expr string) ([]JobDetail, error) {
	ids, err := s.resolve(ctx, expr)
	if err != nil {
		return nil, err
	}
	out := make([]JobDetail, 0, len(ids))
	for _, id := range ids {
		job, ok := s.sess.Graph.Get(id)
		if !ok {
			return nil, errs.New(errs.KindDB, fmt.Sprintf("shell: unknown job %q", id))
		}
		raw, err := s.sess.Store.Get(ctx, model.Key(model.NamespaceCache, id))
		if err != nil {
			return nil, errs.Wrap(errs.KindDB, fmt.Sprintf("load cache for %q", id), err)
		}
		var cache model.Cache
		if err := decodeCache(raw, &cache); err != nil {
			return nil, err
		}
		out = append(out, JobDetail{Job: job, Cache: &cache})
	}
	return out, nil
}

// Dump resolves expr and decodes each matching job's stored UserObject,
// returning the decoded values keyed by job id; writing them to a directory
// is left to cmd/compute's dump verb.
func (s *Shell) Dump(ctx context.Context, expr string) (map[string]any, error) {
	ids, err := s.resolve(ctx, expr)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(ids))
	for _, id := range ids {
		raw, err := s.sess.Store.Get(ctx, model.Key(model.NamespaceUserObject, id))
		if err != nil {
			return nil, errs.Wrap(errs.KindDB, fmt.Sprintf("load user object for %q", id), err)
		}
		var uo model.UserObject
		if err := decodeUserObject(raw, &uo); err != nil {
			return nil, err
		}
		v, err := userobject.Decode(&uo)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// CheckConsistency re-verifies the universal invariants of spec section 8
// against the live store, following the teacher's explicit
// "check_consistency" administrative command shape.
func (s *Shell) CheckConsistency(ctx context.Context) error {
	return s.sess.Graph.CheckInvariants(ctx, s.sess.Store)
}
