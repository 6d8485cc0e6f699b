package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/compmake/engine/internal/registry"
)

// WorkerMain is the subprocess side of newProcessRunner's protocol: it reads
// one workerRequest as JSON from in, looks up and runs the callable with a
// nil jobctx.Context (new-process mode is only used for static jobs — a
// dynamic job's recording context cannot cross a process boundary), and
// writes one workerResponse as JSON to out. cmd/compute's hidden
// internal-run-job verb calls this directly.
func WorkerMain(in io.Reader, out io.Writer) error {
	var req workerRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return json.NewEncoder(out).Encode(workerResponse{Error: "decode request: " + err.Error()})
	}

	fn, ok := registry.Lookup(req.CallableRef)
	if !ok {
		return json.NewEncoder(out).Encode(workerResponse{Error: "callable not registered: " + req.CallableRef})
	}

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	runCtx := withCapture(context.Background(), stdout, stderr)

	value, err := fn(runCtx, nil, req.Args, req.Kwargs)

	resp := workerResponse{Value: value, Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		resp.Error = err.Error()
	}
	return json.NewEncoder(out).Encode(resp)
}
