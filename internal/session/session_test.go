package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compmake/engine/internal/config"
	"github.com/compmake/engine/internal/engine"
	"github.com/compmake/engine/internal/jobctx"
	"github.com/compmake/engine/internal/model"
	"github.com/compmake/engine/internal/registry"
)

func TestOpen_UnknownBackendErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = t.TempDir()
	cfg.Store.Backend = "postgres"

	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestOpen_SqliteBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = t.TempDir() + "/compute.db"
	cfg.Logging.Output = nil // keep the test quiet; console writer still attaches by default

	sess, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer sess.Close()

	assert.NotNil(t, sess.Engine)
	assert.NotNil(t, sess.Scheduler)
	assert.Empty(t, sess.Graph.All())
}

func sessionTestCallable(_ context.Context, _ jobctx.Context, _ []any, _ map[string]any) (any, error) {
	return "ok", nil
}

func init() {
	name, err := registry.NameOf(sessionTestCallable)
	if err != nil {
		panic(err)
	}
	registry.Register(name, sessionTestCallable)
}

// TestOpen_ResetsInProgressJobs reproduces spec section 4.7/4.4's rule that a
// job still IN_PROGRESS when its worker died is reset to NOT_STARTED the
// next time the store is opened, so a crash mid-run doesn't leave the
// up-to-date oracle permanently reporting it fresh.
func TestOpen_ResetsInProgressJobs(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = t.TempDir() + "/compute.db"
	cfg.Logging.Output = nil

	sess, err := Open(context.Background(), cfg)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = sess.Engine.Define(ctx, engine.DefineInput{JobID: "crashed", Callable: sessionTestCallable})
	require.NoError(t, err)

	cache := model.NewCache("crashed")
	cache.State = model.InProgress
	blob, err := json.Marshal(cache)
	require.NoError(t, err)
	require.NoError(t, sess.Store.Set(ctx, model.Key(model.NamespaceCache, "crashed"), blob))
	require.NoError(t, sess.Close())

	sess2, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer sess2.Close()

	raw, err := sess2.Store.Get(ctx, model.Key(model.NamespaceCache, "crashed"))
	require.NoError(t, err)
	var reloaded model.Cache
	require.NoError(t, json.Unmarshal(raw, &reloaded))
	assert.Equal(t, model.NotStarted, reloaded.State)
}
