package scheduler

import (
	"context"
	"io"
)

type captureKey struct{}

type captureWriters struct {
	stdout, stderr io.Writer
}

func withCapture(ctx context.Context, stdout, stderr io.Writer) context.Context {
	return context.WithValue(ctx, captureKey{}, captureWriters{stdout, stderr})
}

// Stdout returns the writer a running job's callable should use for
// user-visible output that the dispatcher captures into Cache.CapturedStdout
// (spec section 4.6, step 4). Outside a scheduled run it returns io.Discard.
func Stdout(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(captureKey{}).(captureWriters); ok {
		return w.stdout
	}
	return io.Discard
}

// Stderr is Stdout's counterpart for captured stderr.
func Stderr(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(captureKey{}).(captureWriters); ok {
		return w.stderr
	}
	return io.Discard
}
