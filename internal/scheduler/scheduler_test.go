package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/compmake/engine/internal/engine"
	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/graph"
	"github.com/compmake/engine/internal/jobctx"
	"github.com/compmake/engine/internal/model"
	"github.com/compmake/engine/internal/registry"
	"github.com/compmake/engine/internal/store/sqlitestore"
)

var (
	orderMu sync.Mutex
	order   []string
)

func recordOrder(label string) {
	orderMu.Lock()
	defer orderMu.Unlock()
	order = append(order, label)
}

func resetOrder() {
	orderMu.Lock()
	defer orderMu.Unlock()
	order = nil
}

func snapshotOrder() []string {
	orderMu.Lock()
	defer orderMu.Unlock()
	return append([]string(nil), order...)
}

func schedulerTestSucceed(_ context.Context, _ jobctx.Context, _ []any, kwargs map[string]any) (any, error) {
	if label, ok := kwargs["order_label"].(string); ok {
		recordOrder(label)
	}
	return "ok", nil
}

func schedulerTestFail(_ context.Context, _ jobctx.Context, _ []any, _ map[string]any) (any, error) {
	return nil, errs.New(errs.KindJobFailed, "boom")
}

func init() {
	mustRegister(schedulerTestSucceed)
	mustRegister(schedulerTestFail)
}

// mustRegister registers fn under the name registry.NameOf would derive for
// it, so that engine.Define's round-trip check (resolveCallable ->
// validateCallableRef -> registry.Lookup) finds it.
func mustRegister(fn registry.Callable) {
	name, err := registry.NameOf(fn)
	if err != nil {
		panic(err)
	}
	registry.Register(name, fn)
}

func newTestScheduler(t *testing.T) (*Scheduler, *engine.Engine) {
	t.Helper()
	st, err := sqlitestore.Open(sqlitestore.Options{Path: ":memory:", Logger: arbor.NewLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	g := graph.New()
	eng := engine.New(st, g, engine.Options{})
	sch := New(st, g, eng, arbor.NewLogger())
	return sch, eng
}

// TestScheduler_BlockedPropagation reproduces spec section 8 scenario 1: A
// succeeds, B depends on A and fails, C depends on B — make must report C as
// blocked without ever executing it.
func TestScheduler_BlockedPropagation(t *testing.T) {
	sch, eng := newTestScheduler(t)
	ctx := context.Background()

	_, err := eng.Define(ctx, engine.DefineInput{JobID: "a", Callable: schedulerTestSucceed})
	require.NoError(t, err)
	_, err = eng.Define(ctx, engine.DefineInput{JobID: "b", Callable: schedulerTestFail, Args: []any{model.Promise{JobID: "a"}}})
	require.NoError(t, err)
	_, err = eng.Define(ctx, engine.DefineInput{JobID: "c", Callable: schedulerTestSucceed, Args: []any{model.Promise{JobID: "b"}}})
	require.NoError(t, err)

	report, err := sch.Run(ctx, []string{"a", "b", "c"}, Options{})
	require.Error(t, err)

	var mf *errs.MakeFailure
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, []string{"b"}, mf.Failed)
	assert.Equal(t, []string{"c"}, mf.Blocked)

	assert.Equal(t, []string{"a"}, report.Done)
	assert.Equal(t, []string{"b"}, report.Failed)
	assert.Equal(t, []string{"c"}, report.Blocked)
}

// TestScheduler_PriorityOrdersFewerDescendantsFirst reproduces spec section 8
// scenario 6: among two siblings ready at once, the one with no parent left
// in the target set (bottom2) outranks the one whose parent (top) is still
// pending, so it dispatches first under sequential (single-slot) dispatch.
func TestScheduler_PriorityOrdersFewerDescendantsFirst(t *testing.T) {
	resetOrder()
	sch, eng := newTestScheduler(t)
	ctx := context.Background()

	_, err := eng.Define(ctx, engine.DefineInput{JobID: "bottom2", Callable: schedulerTestSucceed, Kwargs: map[string]any{"order_label": "bottom2"}})
	require.NoError(t, err)
	_, err = eng.Define(ctx, engine.DefineInput{JobID: "bottom", Callable: schedulerTestSucceed, Kwargs: map[string]any{"order_label": "bottom"}})
	require.NoError(t, err)
	_, err = eng.Define(ctx, engine.DefineInput{
		JobID:    "top",
		Callable: schedulerTestSucceed,
		Args:     []any{model.Promise{JobID: "bottom"}},
		Kwargs:   map[string]any{"order_label": "top"},
	})
	require.NoError(t, err)

	report, err := sch.Run(ctx, []string{"bottom2", "bottom", "top"}, Options{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bottom2", "bottom", "top"}, report.Done)

	// bottom2 has zero descendants in the target set; bottom has one (top).
	// Sequential dispatch (one slot) must therefore run bottom2 before bottom.
	got := snapshotOrder()
	require.Len(t, got, 3)
	assert.Equal(t, "bottom2", got[0])
	assert.Equal(t, []string{"bottom", "top"}, got[1:])
}
