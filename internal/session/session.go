// Package session threads configuration, a logger, and an open store/graph
// together as one explicit value, replacing the global module-level state
// Python's compmake keeps (its "current context" singleton) with a value the
// caller constructs once and passes down — spec section 9's design note.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/compmake/engine/internal/config"
	"github.com/compmake/engine/internal/engine"
	"github.com/compmake/engine/internal/graph"
	"github.com/compmake/engine/internal/housekeeping"
	"github.com/compmake/engine/internal/model"
	"github.com/compmake/engine/internal/oracle"
	"github.com/compmake/engine/internal/scheduler"
	"github.com/compmake/engine/internal/store"
	"github.com/compmake/engine/internal/store/badgerstore"
	"github.com/compmake/engine/internal/store/sqlitestore"
	"github.com/compmake/engine/internal/telemetry"
)

// Session bundles one open store with the in-memory graph loaded from it and
// the engine/scheduler/housekeeping components built on top, so command
// handlers (internal/shell, cmd/compute) receive a single argument instead
// of threading four separately.
type Session struct {
	Config    *config.Config
	Logger    arbor.ILogger
	Store     store.Store
	Graph     *graph.Graph
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
}

// Open opens the configured store backend, loads the graph from it, and
// wires the engine and scheduler on top. Callers must Close the returned
// Session when done.
func Open(ctx context.Context, cfg *config.Config) (*Session, error) {
	logger := telemetry.Init(cfg)

	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	g, err := graph.Load(ctx, st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load graph: %w", err)
	}

	if err := resetInProgress(ctx, st, g); err != nil {
		st.Close()
		return nil, fmt.Errorf("reset in-progress jobs: %w", err)
	}

	eng := engine.New(st, g, engine.Options{CheckParams: cfg.CheckParams})
	sched := scheduler.New(st, g, eng, logger)

	return &Session{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Graph:     g,
		Engine:    eng,
		Scheduler: sched,
	}, nil
}

// resetInProgress resets every job still IN_PROGRESS back to NOT_STARTED
// (spec section 4.7 / section 9: a worker that dies mid-job leaves its Cache
// stuck IN_PROGRESS, which no prior session ever observes and clears). This
// runs once per Open, before anything else reads a Cache, so the up-to-date
// oracle never sees a leftover IN_PROGRESS for a job that crashed mid-run —
// rule 3 ("never run") then reports it stale on its own.
func resetInProgress(ctx context.Context, st store.Store, g *graph.Graph) error {
	var stale []string
	for _, id := range g.All() {
		raw, err := st.Get(ctx, model.Key(model.NamespaceCache, id))
		if err != nil {
			return fmt.Errorf("load cache for %q: %w", id, err)
		}
		var c model.Cache
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("decode cache for %q: %w", id, err)
		}
		if c.State == model.InProgress {
			stale = append(stale, id)
		}
	}
	return housekeeping.Invalidate(ctx, st, stale)
}

func openStore(cfg *config.Config, logger arbor.ILogger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "", "badger":
		return badgerstore.Open(badgerstore.Options{Path: cfg.Store.Path, Logger: logger})
	case "sqlite":
		return sqlitestore.Open(sqlitestore.Options{Path: cfg.Store.Path, Logger: logger})
	default:
		return nil, fmt.Errorf("session: unknown store backend %q", cfg.Store.Backend)
	}
}

// UpToDateSession starts a fresh internal/oracle query session over this
// session's store and graph (spec section 4.4's oracle is a pure,
// per-query-session cache, never long-lived across store mutations).
func (s *Session) UpToDateSession() *oracle.Session {
	return oracle.NewSession(s.Store, s.Graph)
}

// Clean removes jobs per internal/housekeeping.Clean against this session's
// store and graph.
func (s *Session) Clean(ctx context.Context, ids []string) error {
	return housekeeping.Clean(ctx, s.Store, s.Graph, ids)
}

// Invalidate resets jobs per internal/housekeeping.Invalidate against this
// session's store.
func (s *Session) Invalidate(ctx context.Context, ids []string) error {
	return housekeeping.Invalidate(ctx, s.Store, ids)
}

// CleanOtherJobs prunes top-level jobs not re-registered this session, per
// internal/housekeeping.CleanOtherJobs.
func (s *Session) CleanOtherJobs(ctx context.Context, reregistered []string) error {
	return housekeeping.CleanOtherJobs(ctx, s.Store, s.Graph, reregistered)
}

// Close releases the underlying store and flushes the logger.
func (s *Session) Close() error {
	telemetry.Stop()
	return s.Store.Close()
}
