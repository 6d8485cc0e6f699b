package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/model"
	"github.com/compmake/engine/internal/store"
	"github.com/compmake/engine/internal/userobject"
)

// materializeArgs implements step 2 of the execution contract (spec section
// 4.6): decode a job's stored args/kwargs and replace every
// {"$promise": "<job_id>"} placeholder with that job's materialised
// UserObject. A missing or not-yet-DONE dependency is a scheduling bug, not
// a user error — the ready frontier is supposed to guarantee every static
// child is already DONE before a job is dispatched.
func materializeArgs(ctx context.Context, st store.Store, argsBlob, kwargsBlob []byte) ([]any, map[string]any, error) {
	var rawArgs []any
	if len(argsBlob) > 0 {
		if err := json.Unmarshal(argsBlob, &rawArgs); err != nil {
			return nil, nil, errs.Wrap(errs.KindBug, "decode stored args", err)
		}
	}
	var rawKwargs map[string]any
	if len(kwargsBlob) > 0 {
		if err := json.Unmarshal(kwargsBlob, &rawKwargs); err != nil {
			return nil, nil, errs.Wrap(errs.KindBug, "decode stored kwargs", err)
		}
	}

	args := make([]any, len(rawArgs))
	for i, v := range rawArgs {
		mv, err := materializeValue(ctx, st, v)
		if err != nil {
			return nil, nil, err
		}
		args[i] = mv
	}

	kwargs := make(map[string]any, len(rawKwargs))
	for k, v := range rawKwargs {
		mv, err := materializeValue(ctx, st, v)
		if err != nil {
			return nil, nil, err
		}
		kwargs[k] = mv
	}

	return args, kwargs, nil
}

func materializeValue(ctx context.Context, st store.Store, v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if jobID, ok := promiseJobID(t); ok {
			return fetchUserObject(ctx, st, jobID)
		}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			mv, err := materializeValue(ctx, st, vv)
			if err != nil {
				return nil, err
			}
			out[k] = mv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			mv, err := materializeValue(ctx, st, vv)
			if err != nil {
				return nil, err
			}
			out[i] = mv
		}
		return out, nil
	default:
		return v, nil
	}
}

func promiseJobID(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	raw, ok := m["$promise"]
	if !ok {
		return "", false
	}
	id, ok := raw.(string)
	return id, ok
}

func fetchUserObject(ctx context.Context, st store.Store, jobID string) (any, error) {
	raw, err := st.Get(ctx, model.Key(model.NamespaceUserObject, jobID))
	if err != nil {
		return nil, errs.Wrap(errs.KindBug, fmt.Sprintf("materialise args: dependency %q has no recorded result", jobID), err)
	}
	var uo model.UserObject
	if err := json.Unmarshal(raw, &uo); err != nil {
		return nil, errs.Wrap(errs.KindBug, fmt.Sprintf("decode user object for %q", jobID), err)
	}
	return userobject.Decode(&uo)
}
