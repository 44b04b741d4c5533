//go:build darwin

package engine

import (
	"context"
	"strings"
)

// hostPlatform reports the host OS name and version. On macOS the version
// comes from sw_vers, queried once per probe cycle.
func hostPlatform(ctx context.Context, r Runner) (string, string) {
	out, _, err := r.Run(ctx, "sw_vers", "-productVersion")
	if err != nil {
		return "macOS", ""
	}
	return "macOS", strings.TrimSpace(string(out))
}

// visionSupported reports whether the Vision framework can exist on this
// host at all.
func visionSupported() bool { return true }
