package engine_test

import (
	"context"
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

func validPackageLevelCallable(_ context.Context, _ jobctx.Context, _ []any, _ map[string]any) (any, error) {
	return "ok", nil
}

func init() {
	name, err := registry.NameOf(validPackageLevelCallable)
	if err != nil {
		panic(err)
	}
	registry.Register(name, validPackageLevelCallable)
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	st, err := sqlitestore.Open(sqlitestore.Options{Path: ":memory:", Logger: arbor.NewLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return engine.New(st, graph.New(), engine.Options{})
}

func TestDefine_PackageLevelCallableSucceeds(t *testing.T) {
	eng := newTestEngine(t)
	res, err := eng.Define(context.Background(), engine.DefineInput{JobID: "j1", Callable: validPackageLevelCallable})
	require.NoError(t, err)
	assert.True(t, res.Created)
}

// TestDefine_LocallyNestedFunctionIsUserError reproduces spec section 8
// scenario 4: a locally nested function's symbol name carries Go's
// ".funcN" closure suffix, the idiomatic substitute for Python's "reject
// lambdas and locally nested defs" check — Define must reject it with
// UserError before any scheduling takes place.
func TestDefine_LocallyNestedFunctionIsUserError(t *testing.T) {
	nested := func(_ context.Context, _ jobctx.Context, _ []any, _ map[string]any) (any, error) {
		return "ok", nil
	}

	eng := newTestEngine(t)
	_, err := eng.Define(context.Background(), engine.DefineInput{JobID: "j1", Callable: nested})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUser))
}

// TestDefine_LambdaIsUserError covers the anonymous-function-literal form of
// the same check; in Go, a lambda passed directly at the call site has the
// identical closure-shaped symbol name as a locally nested function.
func TestDefine_LambdaIsUserError(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Define(context.Background(), engine.DefineInput{
		JobID: "j1",
		Callable: func(_ context.Context, _ jobctx.Context, _ []any, _ map[string]any) (any, error) {
			return "ok", nil
		},
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUser))
}

// TestDefine_UnregisteredPackageLevelFunctionIsUserError: a valid
// package-level function that was never passed to registry.Register still
// cannot be defined, since it could never be re-resolved after a restart.
func TestDefine_UnregisteredPackageLevelFunctionIsUserError(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Define(context.Background(), engine.DefineInput{JobID: "j1", Callable: unregisteredCallable})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUser))
}

func unregisteredCallable(_ context.Context, _ jobctx.Context, _ []any, _ map[string]any) (any, error) {
	return "ok", nil
}

// TestDefine_CyclicReferenceIsUserError exercises the sibling invariant from
// spec section 9: a job referencing itself transitively through its args
// must fail with UserError rather than being committed.
func TestDefine_CyclicReferenceIsUserError(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Define(ctx, engine.DefineInput{JobID: "a", Callable: validPackageLevelCallable})
	require.NoError(t, err)

	_, err = eng.Define(ctx, engine.DefineInput{JobID: "b", Callable: validPackageLevelCallable, Args: []any{model.Promise{JobID: "a"}}})
	require.NoError(t, err)

	// Redefine "a" to depend on "b", closing the cycle a -> b -> a.
	_, err = eng.DefineRef(ctx, engine.DefineRefInput{
		JobID:       "a",
		CallableRef: mustName(t, validPackageLevelCallable),
		Args:        []any{model.Promise{JobID: "b"}},
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUser))
}

func mustName(t *testing.T, fn registry.Callable) string {
	t.Helper()
	name, err := registry.NameOf(fn)
	require.NoError(t, err)
	return name
}
