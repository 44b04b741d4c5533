//go:build !darwin

package engine

import (
	"context"
	"runtime"
)

func hostPlatform(_ context.Context, _ Runner) (string, string) {
	return runtime.GOOS, ""
}

// visionSupported: the Vision framework only exists on macOS.
func visionSupported() bool { return false }
