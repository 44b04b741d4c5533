package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// minLiveTextMajor is the lowest macOS major version whose Vision stack
// exposes the LiveText framework selector.
const minLiveTextMajor = 14

// Capability describes one engine's availability on the current host.
type Capability struct {
	Engine    Name   `json:"engine"`
	Available bool   `json:"available"`
	Platform  string `json:"platform"`
	// MinOSVersion is the platform requirement for this engine, when one
	// exists (e.g. "macOS >= 14.0" for livetext).
	MinOSVersion string `json:"min_os_version,omitempty"`
	// FrameworkSelector reports whether the installed helper accepts the
	// extended framework parameter. Probed once, cached.
	FrameworkSelector bool `json:"framework_selector"`
	// Detail carries the human-readable reason when Available is false.
	Detail string `json:"detail,omitempty"`
}

// RegistryConfig names the external binaries the registry probes.
type RegistryConfig struct {
	TesseractBin string
	VisionBin    string
	EasyOCRBin   string
	TessdataDir  string
}

// Registry discovers which engines work on this host, caches the result,
// and hands out adapters. Probing runs once (or again after Refresh); the
// per-admission Check is a cache lookup and must stay cheap.
type Registry struct {
	cfg    RegistryConfig
	runner Runner

	// test seams; default to the platform-specific detectors.
	platformFn func(context.Context, Runner) (string, string)
	visionFn   func() bool

	mu          sync.Mutex
	probed      bool
	hostOS      string
	hostVersion string
	caps        map[Name]Capability
	adapters    map[Name]Adapter
}

// NewRegistry builds a Registry. Probing is deferred until the first
// Capabilities or Check call.
func NewRegistry(cfg RegistryConfig, r Runner) *Registry {
	if r == nil {
		r = ExecRunner()
	}
	return &Registry{cfg: cfg, runner: r, platformFn: hostPlatform, visionFn: visionSupported}
}

// Capabilities returns the capability map, probing the host on first use.
func (reg *Registry) Capabilities(ctx context.Context) map[Name]Capability {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.probeLocked(ctx)

	out := make(map[Name]Capability, len(reg.caps))
	for k, v := range reg.caps {
		out[k] = v
	}
	return out
}

// Refresh drops the cached probe results; the next call recomputes them.
func (reg *Registry) Refresh() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.probed = false
	reg.caps = nil
	reg.adapters = nil
}

// Check verifies that engine/parameter combination is runnable on this
// host. Returns nil, a KindPlatform error, or a KindLibraryVersion error.
// Runs on every job admission, so everything it needs is cached.
func (reg *Registry) Check(ctx context.Context, name Name, p Params) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.probeLocked(ctx)

	c, ok := reg.caps[name]
	if !ok {
		return NewError(KindValidation, "unknown engine %q", name)
	}
	if !c.Available {
		return NewError(KindPlatform, "engine %s unavailable: %s", name, c.Detail)
	}

	liveText := name == LiveText || p.RecognitionLevel == LevelLiveText
	if liveText {
		if osMajorVersion(reg.hostVersion) < minLiveTextMajor {
			return NewError(KindPlatform,
				"livetext recognition requires macOS >= %d.0, host is %s %s",
				minLiveTextMajor, reg.hostOS, reg.hostVersion)
		}
		if !c.FrameworkSelector {
			return NewError(KindLibraryVersion,
				"installed %s helper does not accept the framework selector", name)
		}
	}
	return nil
}

// Adapter returns the adapter for name. Check must have passed first.
func (reg *Registry) Adapter(ctx context.Context, name Name) (Adapter, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.probeLocked(ctx)

	a, ok := reg.adapters[name]
	if !ok {
		return nil, NewError(KindValidation, "unknown engine %q", name)
	}
	return a, nil
}

func (reg *Registry) probeLocked(ctx context.Context) {
	if reg.probed {
		return
	}

	osName, osVersion := reg.platformFn(ctx, reg.runner)
	reg.hostOS, reg.hostVersion = osName, osVersion
	platform := strings.TrimSpace(osName + " " + osVersion)

	caps := make(map[Name]Capability, 4)
	adapters := make(map[Name]Adapter, 4)

	// Tesseract: available wherever the binary answers --version.
	tessBin := reg.cfg.TesseractBin
	tess := Capability{Engine: Tesseract, Platform: platform}
	if _, _, err := reg.runner.Run(ctx, binOr(tessBin, "tesseract"), "--version"); err != nil {
		tess.Detail = "tesseract binary not found or not runnable"
	} else {
		tess.Available = true
	}
	caps[Tesseract] = tess
	adapters[Tesseract] = NewTesseractAdapter(tessBin, reg.cfg.TessdataDir, reg.runner)

	// Vision / LiveText: darwin-only, via the ocrd-vision helper. The
	// probe runs once per refresh; admission reads the cached outcome.
	visionBin := binOr(reg.cfg.VisionBin, "ocrd-vision")
	vision := Capability{Engine: Vision, Platform: platform}
	live := Capability{Engine: LiveText, Platform: platform,
		MinOSVersion: fmt.Sprintf("macOS >= %d.0", minLiveTextMajor)}
	if !reg.visionFn() {
		vision.Detail = "Vision framework requires macOS"
		live.Detail = vision.Detail
	} else if _, _, err := reg.runner.Run(ctx, visionBin, "probe"); err != nil {
		vision.Detail = "ocrd-vision helper not found or not runnable"
		live.Detail = vision.Detail
	} else {
		vision.Available = true
		if _, _, err := reg.runner.Run(ctx, visionBin, "probe", "--framework", "livetext"); err == nil {
			vision.FrameworkSelector = true
			live.FrameworkSelector = true
		}
		live.Available = osMajorVersion(osVersion) >= minLiveTextMajor && live.FrameworkSelector
		if !live.Available {
			live.Detail = "host macOS or helper too old for livetext"
		}
	}
	caps[Vision] = vision
	caps[LiveText] = live
	adapters[Vision] = NewVisionAdapter(reg.cfg.VisionBin, reg.runner)
	adapters[LiveText] = NewLiveTextAdapter(reg.cfg.VisionBin, reg.runner)

	// EasyOCR: available wherever the python bridge answers --probe.
	easyBin := binOr(reg.cfg.EasyOCRBin, "ocrd-easyocr")
	easy := Capability{Engine: EasyOCR, Platform: platform}
	if _, _, err := reg.runner.Run(ctx, easyBin, "--probe"); err != nil {
		easy.Detail = "ocrd-easyocr bridge not found or not runnable"
	} else {
		easy.Available = true
	}
	caps[EasyOCR] = easy
	adapters[EasyOCR] = NewEasyOCRAdapter(reg.cfg.EasyOCRBin, reg.runner)

	reg.caps = caps
	reg.adapters = adapters
	reg.probed = true
}

func binOr(bin, fallback string) string {
	if bin == "" {
		return fallback
	}
	return bin
}

// osMajorVersion extracts the leading integer of a dotted version string.
// Returns 0 when the version is unknown or unparseable.
func osMajorVersion(version string) int {
	head, _, _ := strings.Cut(version, ".")
	major, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0
	}
	return major
}
