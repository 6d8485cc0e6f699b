// Package scheduler implements the Scheduler/Executor (C7): the ready
// frontier, priority dispatch, and single-job execution contract of spec
// section 4.6, plus the blocked-propagation fixpoint and termination report.
package scheduler

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/compmake/engine/internal/concurrency"
	"github.com/compmake/engine/internal/dynamic"
	"github.com/compmake/engine/internal/engine"
	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/graph"
	"github.com/compmake/engine/internal/housekeeping"
	"github.com/compmake/engine/internal/jobctx"
	"github.com/compmake/engine/internal/model"
	"github.com/compmake/engine/internal/store"
	"github.com/compmake/engine/internal/userobject"
)

// Mode selects the dispatch strategy (spec section 4.6).
type Mode int

const (
	ModeSequential Mode = iota
	ModeParallel
	ModeNewProcess
)

// Options configures one Run.
type Options struct {
	Mode    Mode
	Workers int // pool size for ModeParallel/ModeNewProcess; <=1 behaves sequentially

	// WorkerCommand is the argv used to spawn each job in ModeNewProcess,
	// typically [os.Args[0], "--internal-run-job"].
	WorkerCommand []string

	CompressResults bool // passed through to userobject.Encode

	// Recurse mirrors the make command's recurse=1 option (spec section 6):
	// when a dynamic job's reconciliation adds brand new children, fold them
	// into this same run's target set instead of requiring a second `make`.
	Recurse bool
}

// Report is the structured outcome of a run (spec section 4.6: "succeeds iff
// no job in T ended FAILED or BLOCKED; otherwise it fails with {failed,
// blocked}").
type Report struct {
	Done    []string
	Failed  []string
	Blocked []string
}

// Scheduler runs target sets to completion against one store+graph+engine.
type Scheduler struct {
	st     store.Store
	g      *graph.Graph
	eng    *engine.Engine
	logger arbor.ILogger
}

// New returns a Scheduler bound to st/g/eng.
func New(st store.Store, g *graph.Graph, eng *engine.Engine, logger arbor.ILogger) *Scheduler {
	return &Scheduler{st: st, g: g, eng: eng, logger: logger}
}

// Run drives target (the stale closure the caller already computed via
// internal/oracle + internal/selector) to completion and returns a Report.
// When the run finishes with any job FAILED or BLOCKED, the error is an
// *errs.MakeFailure built from the returned Report — callers that only need
// exit codes can type-assert on it directly. Any other error (interruption,
// a store failure, a scheduler bug) is returned with a nil Report.
func (s *Scheduler) Run(ctx context.Context, target []string, opts Options) (*Report, error) {
	runID := uuid.New().String()
	s.logger.Info().Str("run_id", runID).Int("targets", len(target)).Msg("run started")
	defer func() { s.logger.Info().Str("run_id", runID).Msg("run finished") }()

	slots := 1
	var rn runner = inProcessRunner{}
	switch opts.Mode {
	case ModeParallel:
		if opts.Workers > 1 {
			slots = opts.Workers
		}
	case ModeNewProcess:
		if opts.Workers > 1 {
			slots = opts.Workers
		}
		rn = newProcessRunner{WorkerCommand: opts.WorkerCommand}
	}

	remaining := map[string]struct{}{}
	for _, id := range target {
		remaining[id] = struct{}{}
	}

	caches, err := s.loadCaches(ctx, remaining)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var pendingOrphans []string

	if err := s.propagateBlocked(ctx, remaining, caches, report); err != nil {
		return nil, err
	}

	pq, err := s.buildQueue(ctx, remaining, caches)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		jobID string
		res   runResult
	}
	resultCh := make(chan outcome, slots)
	inflight := 0
	retried := map[string]bool{} // HostFailed gets one retry before FAILED (spec section 7)

	launch := func(jobID string) {
		job, _ := s.g.Get(jobID)
		inflight++
		concurrency.SafeGo(s.logger, jobID, func() {
			if job.NeedsContext && opts.Mode == ModeNewProcess {
				resultCh <- outcome{jobID, runResult{err: errs.New(errs.KindUser, fmt.Sprintf("dynamic job %q cannot run in new-process mode", jobID))}}
				return
			}
			args, kwargs, err := materializeArgs(ctx, s.st, job.Args, job.Kwargs)
			if err != nil {
				resultCh <- outcome{jobID, runResult{err: err}}
				return
			}
			var jctx jobctx.Context
			if job.NeedsContext {
				jctx = dynamic.New(job.ID, job.DefinedBy, s.eng)
			}
			start := time.Now()
			res := rn.run(ctx, job.CallableRef, args, kwargs, jctx)
			res.walltime = time.Since(start)
			res.dynCtx = jctx
			resultCh <- outcome{jobID, res}
		}, func(name string, r any, stack string) {
			resultCh <- outcome{name, runResult{err: errs.New(errs.KindBug, fmt.Sprintf("job %q's dispatch goroutine panicked: %v", name, r))}}
		})
	}

	for len(remaining) > 0 || inflight > 0 {
		for inflight < slots && pq.Len() > 0 {
			item := heap.Pop(pq).(readyItem)
			if err := s.transitionInProgress(ctx, item.jobID, caches); err != nil {
				return nil, err
			}
			launch(item.jobID)
		}
		if inflight == 0 {
			// No ready job and nothing in flight, but jobs remain: a bug in
			// readiness computation, since blocked propagation should have
			// accounted for every job that can never become ready.
			return nil, errs.New(errs.KindBug, fmt.Sprintf("scheduler: deadlock, %d jobs neither ready nor blocked", len(remaining)))
		}

		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindInterrupted, "run cancelled", ctx.Err())
		case out := <-resultCh:
			inflight--

			if kind, ok := errs.Of(out.res.err); ok && kind == errs.KindHostFailed && !retried[out.jobID] {
				retried[out.jobID] = true
				if err := s.requeueNotStarted(ctx, out.jobID, caches); err != nil {
					return nil, err
				}
				if err := s.refillQueue(ctx, pq, remaining, caches); err != nil {
					return nil, err
				}
				continue
			}

			orphans, added, err := s.applyResult(ctx, out.jobID, out.res, remaining, caches, report, opts.CompressResults)
			if err != nil {
				return nil, err
			}
			pendingOrphans = append(pendingOrphans, orphans...)

			if opts.Recurse {
				for _, id := range added {
					if _, already := remaining[id]; already {
						continue
					}
					if _, err := s.loadCacheFull(ctx, id, caches); err != nil {
						return nil, err
					}
					remaining[id] = struct{}{}
				}
			}

			if err := s.propagateBlocked(ctx, remaining, caches, report); err != nil {
				return nil, err
			}
			if err := s.refillQueue(ctx, pq, remaining, caches); err != nil {
				return nil, err
			}
		}
	}

	if len(pendingOrphans) > 0 {
		if err := housekeeping.Clean(ctx, s.st, s.g, pendingOrphans); err != nil {
			return nil, err
		}
	}

	sort.Strings(report.Done)
	sort.Strings(report.Failed)
	sort.Strings(report.Blocked)

	if len(report.Failed) > 0 || len(report.Blocked) > 0 {
		return report, &errs.MakeFailure{Failed: report.Failed, Blocked: report.Blocked}
	}
	return report, nil
}

func (s *Scheduler) loadCaches(ctx context.Context, ids map[string]struct{}) (map[string]*model.Cache, error) {
	caches := map[string]*model.Cache{}
	for id := range ids {
		raw, err := s.st.Get(ctx, model.Key(model.NamespaceCache, id))
		if err != nil {
			return nil, errs.Wrap(errs.KindDB, fmt.Sprintf("load cache for %q", id), err)
		}
		var c model.Cache
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, errs.Wrap(errs.KindDB, fmt.Sprintf("decode cache for %q", id), err)
		}
		caches[id] = &c
	}
	return caches, nil
}

// loadCacheFull returns id's Cache, fetching and memoising it into caches on
// first access. Jobs outside the original target set (static children the
// run never schedules) are fetched lazily this way instead of up front.
func (s *Scheduler) loadCacheFull(ctx context.Context, id string, caches map[string]*model.Cache) (*model.Cache, error) {
	if c, ok := caches[id]; ok {
		return c, nil
	}
	raw, err := s.st.Get(ctx, model.Key(model.NamespaceCache, id))
	if err != nil {
		return nil, errs.Wrap(errs.KindDB, fmt.Sprintf("load cache for %q", id), err)
	}
	var c model.Cache
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errs.Wrap(errs.KindDB, fmt.Sprintf("decode cache for %q", id), err)
	}
	caches[id] = &c
	return &c, nil
}

func (s *Scheduler) cacheState(ctx context.Context, id string, caches map[string]*model.Cache) (model.CacheState, error) {
	c, err := s.loadCacheFull(ctx, id, caches)
	if err != nil {
		return "", err
	}
	return c.State, nil
}

// propagateBlocked iterates the fixpoint from spec section 4.6: any job in
// remaining with a FAILED/BLOCKED static child is removed from T and marked
// BLOCKED, without executing it, until no more such jobs exist.
func (s *Scheduler) propagateBlocked(ctx context.Context, remaining map[string]struct{}, caches map[string]*model.Cache, report *Report) error {
	for {
		var newlyBlocked []string
		for id := range remaining {
			job, ok := s.g.Get(id)
			if !ok {
				return errs.New(errs.KindDB, fmt.Sprintf("scheduler: unknown job %q in target set", id))
			}
			blocked := false
			for child := range job.Children {
				st, err := s.cacheState(ctx, child, caches)
				if err != nil {
					return err
				}
				if st == model.Failed || st == model.Blocked {
					blocked = true
					break
				}
			}
			if blocked {
				newlyBlocked = append(newlyBlocked, id)
			}
		}
		if len(newlyBlocked) == 0 {
			return nil
		}
		for _, id := range newlyBlocked {
			delete(remaining, id)
			cache := caches[id]
			cache.State = model.Blocked
			if err := s.commitCache(ctx, id, cache); err != nil {
				return err
			}
			report.Blocked = append(report.Blocked, id)
		}
	}
}

func (s *Scheduler) buildQueue(ctx context.Context, remaining map[string]struct{}, caches map[string]*model.Cache) (*readyQueue, error) {
	pq := &readyQueue{}
	heap.Init(pq)
	if err := s.refillQueue(ctx, pq, remaining, caches); err != nil {
		return nil, err
	}
	return pq, nil
}

// ready reports whether every static child of id is DONE. Children outside
// the target set (already DONE from an earlier run) are looked up directly
// in the store since they were never loaded into caches.
func (s *Scheduler) ready(ctx context.Context, id string, caches map[string]*model.Cache) (bool, error) {
	job, ok := s.g.Get(id)
	if !ok {
		return false, nil
	}
	for child := range job.Children {
		st, err := s.cacheState(ctx, child, caches)
		if err != nil {
			return false, err
		}
		if st != model.Done {
			return false, nil
		}
	}
	return true, nil
}

// descendantsInTarget counts how many jobs in remaining transitively depend
// on id via static Parents edges (spec section 4.6's scheduling priority).
func (s *Scheduler) descendantsInTarget(id string, remaining map[string]struct{}) int {
	seen := map[string]struct{}{}
	queue := []string{id}
	count := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range s.g.Parents(cur) {
			if _, already := seen[p]; already {
				continue
			}
			seen[p] = struct{}{}
			if _, inTarget := remaining[p]; inTarget {
				count++
			}
			queue = append(queue, p)
		}
	}
	return count
}

func (s *Scheduler) refillQueue(ctx context.Context, pq *readyQueue, remaining map[string]struct{}, caches map[string]*model.Cache) error {
	queued := map[string]struct{}{}
	for _, item := range *pq {
		queued[item.jobID] = struct{}{}
	}
	for id := range remaining {
		if _, already := queued[id]; already {
			continue
		}
		isReady, err := s.ready(ctx, id, caches)
		if err != nil {
			return err
		}
		if !isReady {
			continue
		}
		heap.Push(pq, readyItem{
			jobID:       id,
			descendants: s.descendantsInTarget(id, remaining),
			timestamp:   caches[id].Timestamp,
		})
		queued[id] = struct{}{}
	}
	return nil
}

func (s *Scheduler) transitionInProgress(ctx context.Context, id string, caches map[string]*model.Cache) error {
	job, ok := s.g.Get(id)
	if !ok {
		return errs.New(errs.KindDB, fmt.Sprintf("scheduler: unknown job %q", id))
	}
	cache := caches[id]
	cache.State = model.InProgress
	cache.HashesOfChildren = map[string]time.Time{}
	for child := range job.Children {
		cc, err := s.loadCacheFull(ctx, child, caches)
		if err != nil {
			return err
		}
		cache.HashesOfChildren[child] = cc.Timestamp
	}
	return s.commitCache(ctx, id, cache)
}

// requeueNotStarted resets id back to NOT_STARTED after a HostFailed worker
// death, so the next refillQueue pass schedules it again (spec section 7:
// "re-queues the in-flight job as NOT_STARTED and allows up to one retry").
func (s *Scheduler) requeueNotStarted(ctx context.Context, id string, caches map[string]*model.Cache) error {
	cache := caches[id]
	cache.State = model.NotStarted
	return s.commitCache(ctx, id, cache)
}

func (s *Scheduler) commitCache(ctx context.Context, id string, cache *model.Cache) error {
	blob, err := json.Marshal(cache)
	if err != nil {
		return errs.Wrap(errs.KindDB, "marshal cache", err)
	}
	if err := s.st.Batch(ctx, func(b store.Batch) error {
		return b.Set(model.Key(model.NamespaceCache, id), blob)
	}); err != nil {
		return errs.Wrap(errs.KindDB, fmt.Sprintf("commit cache for %q", id), err)
	}
	return nil
}

// applyResult implements steps 4-7 of the execution contract for one job. It
// returns any dynamic-child orphans to hand to housekeeping.Clean, and any
// brand-new dynamic children (Reconciliation.Added) for the caller to fold
// into this run's target set when Options.Recurse is set.
func (s *Scheduler) applyResult(ctx context.Context, id string, res runResult, remaining map[string]struct{}, caches map[string]*model.Cache, report *Report, compress bool) ([]string, []string, error) {
	cache := caches[id]
	var orphans, added []string

	if dc, ok := res.dynCtx.(*dynamic.Context); ok {
		if res.err != nil {
			if derr := dynamic.DiscardFailedRun(ctx, s.st, s.g, id, dc.Defined()); derr != nil {
				return nil, nil, derr
			}
		} else {
			rec, rerr := dynamic.Reconcile(ctx, s.st, s.g, id, dc.Defined())
			if rerr != nil {
				return nil, nil, rerr
			}
			orphans = rec.Orphans
			added = rec.Added
		}
	}

	if res.err != nil {
		cache.State = model.Failed
		cache.Exception = res.err.Error()
		cache.Walltime = res.walltime
		cache.CapturedStdout = res.stdout
		cache.CapturedStderr = res.stderr
		if err := s.commitCache(ctx, id, cache); err != nil {
			return nil, nil, err
		}
		delete(remaining, id)
		report.Failed = append(report.Failed, id)
		return orphans, added, nil
	}

	uo, err := userobject.Encode(id, res.value, userobject.Options{Compress: compress})
	if err != nil {
		cache.State = model.Failed
		cache.Exception = err.Error()
		if cerr := s.commitCache(ctx, id, cache); cerr != nil {
			return nil, nil, cerr
		}
		delete(remaining, id)
		report.Failed = append(report.Failed, id)
		return orphans, added, nil
	}

	cache.State = model.Done
	cache.Timestamp = time.Now()
	cache.Walltime = res.walltime
	cache.CapturedStdout = res.stdout
	cache.CapturedStderr = res.stderr
	cache.Exception = ""
	cache.Backtrace = ""

	uoBlob, err := json.Marshal(uo)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindDB, "marshal user object", err)
	}
	cacheBlob, err := json.Marshal(cache)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindDB, "marshal cache", err)
	}
	if err := s.st.Batch(ctx, func(b store.Batch) error {
		if err := b.Set(model.Key(model.NamespaceUserObject, id), uoBlob); err != nil {
			return err
		}
		return b.Set(model.Key(model.NamespaceCache, id), cacheBlob)
	}); err != nil {
		return nil, nil, errs.Wrap(errs.KindDB, fmt.Sprintf("commit result for %q", id), err)
	}

	delete(remaining, id)
	report.Done = append(report.Done, id)
	return orphans, added, nil
}
