package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner lets adapters stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

// ExecRunner returns a Runner backed by os/exec.
func ExecRunner() Runner { return execRunner{} }

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		slog.Debug("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncateSample(errb.String()),
		)
	} else {
		slog.Debug("exec ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

// runError translates a subprocess failure into the shared taxonomy:
// deadline expiry becomes KindTimeout, everything else KindEngine with the
// stderr tail attached (bounded).
func runError(ctx context.Context, name string, stderr []byte, err error) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(KindTimeout, "%s: deadline exceeded", name)
	}
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		msg = err.Error()
	}
	return NewError(KindEngine, "%s: %s", name, truncateSample(msg))
}
