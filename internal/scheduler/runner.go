package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/jobctx"
	"github.com/compmake/engine/internal/registry"
)

// runResult is what one job execution produces, before the dispatcher turns
// it into a Cache transition (spec section 4.6, steps 4-6).
type runResult struct {
	value          any
	stdout, stderr string
	err            error
	walltime       time.Duration
	// dynCtx is the jobctx.Context passed to the callable, for jobs defined
	// with needs_context — nil (the zero value of the interface) for a
	// static job. The dispatcher type-asserts this to *dynamic.Context to
	// drive reconciliation (spec section 4.7).
	dynCtx jobctx.Context
}

// runner executes one job's callable against already-materialised
// arguments. inProcessRunner and newProcessRunner implement the "parallel"
// and "new-process" dispatch modes from spec section 4.6; sequential mode
// reuses inProcessRunner with a dispatch concurrency of one.
type runner interface {
	run(ctx context.Context, callableRef string, args []any, kwargs map[string]any, jctx jobctx.Context) runResult
}

type inProcessRunner struct{}

func (inProcessRunner) run(ctx context.Context, callableRef string, args []any, kwargs map[string]any, jctx jobctx.Context) runResult {
	fn, ok := registry.Lookup(callableRef)
	if !ok {
		return runResult{err: errs.New(errs.KindBug, fmt.Sprintf("scheduler: callable %q vanished from the registry mid-run", callableRef))}
	}

	var out runResult
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	runCtx := withCapture(ctx, stdout, stderr)

	value, err := func() (v any, e error) {
		defer func() {
			if r := recover(); r != nil {
				e = errs.New(errs.KindBug, fmt.Sprintf("callable %q panicked: %v", callableRef, r))
			}
		}()
		return fn(runCtx, jctx, args, kwargs)
	}()

	out.value = value
	out.err = err
	out.stdout = stdout.String()
	out.stderr = stderr.String()
	return out
}

// newProcessRunner spawns a fresh subprocess per job, exchanging the
// invocation and its result as JSON over stdin/stdout (spec section 4.6:
// "the dispatcher and worker exchange arguments and results by serialised
// blobs"). It shells out to WorkerCommand, which has no default here:
// internal/shell sets it to re-invoke the current binary with the hidden
// internal-run-job verb WorkerMain handles, and an empty one fails the job.
type newProcessRunner struct {
	WorkerCommand []string // argv0 + leading args; the job request is written to its stdin as JSON
}

// workerRequest/workerResponse are the wire shapes a spawned worker process
// reads from stdin and writes to stdout; WorkerMain implements the other
// side of this contract for cmd/compute's hidden internal-run-job verb.
type workerRequest struct {
	CallableRef string         `json:"callable_ref"`
	Args        []any          `json:"args"`
	Kwargs      map[string]any `json:"kwargs"`
}

type workerResponse struct {
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

func (r newProcessRunner) run(ctx context.Context, callableRef string, args []any, kwargs map[string]any, _ jobctx.Context) runResult {
	req := workerRequest{CallableRef: callableRef, Args: args, Kwargs: kwargs}
	reqBlob, err := json.Marshal(req)
	if err != nil {
		return runResult{err: errs.Wrap(errs.KindBug, "encode worker request", err)}
	}

	if len(r.WorkerCommand) == 0 {
		return runResult{err: errs.New(errs.KindBug, "scheduler: new-process mode requires a WorkerCommand")}
	}

	cmd := exec.CommandContext(ctx, r.WorkerCommand[0], r.WorkerCommand[1:]...)
	cmd.Stdin = bytes.NewReader(reqBlob)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return runResult{err: errs.Wrap(errs.KindHostFailed, "spawn worker process", runErr)}
		}
	}

	var resp workerResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return runResult{err: errs.Wrap(errs.KindHostFailed, fmt.Sprintf("worker process produced no parseable response: %s", stderr.String()), err)}
	}

	out := runResult{value: resp.Value, stdout: resp.Stdout, stderr: resp.Stderr}
	if resp.Error != "" {
		out.err = errs.New(errs.KindJobFailed, resp.Error)
	}
	return out
}
