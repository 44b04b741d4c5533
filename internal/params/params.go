// Package params validates and normalizes per-engine OCR configuration
// before a job is admitted. Validation is a strict whitelist: shape checks
// (regex, ranges, list sizes) run before any lookup against engine state,
// and nothing malformed proceeds to partial processing.
package params

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ocrbridge/ocrd/internal/engine"
)

// Raw carries the unvalidated parameter strings exactly as the transport
// layer received them.
type Raw struct {
	Languages        string `json:"languages"`         // "eng+deu" or "en-US,de-DE"
	PSM              string `json:"psm"`               // tesseract only
	OEM              string `json:"oem"`               // tesseract only
	DPI              string `json:"dpi"`               // tesseract only
	RecognitionLevel string `json:"recognition_level"` // vision/livetext only
}

const maxLanguages = 5

// Defaults applied when a field is absent. Stored into the job record so a
// re-run reproduces the exact configuration.
const (
	defaultTesseractLang = "eng"
	defaultVisionLang    = "en-US"
	defaultEasyOCRLang   = "en"
	defaultPSM           = 3
	defaultOEM           = 3
	defaultDPI           = 300
)

var (
	// Installed tessdata names: "eng", "chi_sim". Plain codes only;
	// "script/Latin" is not accepted.
	tessLangRE = regexp.MustCompile(`^[a-z]{3}(_[a-z]{2,8})?$`)
	// IETF BCP-47 tags for the Vision stack: "en", "en-US", "zh-Hans".
	bcp47RE = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z0-9]{2,8})*$`)
	// EasyOCR model names: "en", "ch_sim", "ja".
	easyLangRE = regexp.MustCompile(`^[a-z]{2,3}(_[a-z]{2,8})?$`)
)

// LangLister reports the language data installed for Tesseract.
type LangLister func(ctx context.Context) ([]string, error)

// Validator checks raw parameters against per-engine schemas. The installed
// Tesseract language set is looked up once and memoized, keeping validation
// fast on the admission path.
type Validator struct {
	listLangs LangLister

	mu        sync.Mutex
	installed map[string]bool
	langNames []string
}

// NewValidator builds a Validator that discovers installed Tesseract
// languages via `tesseract --list-langs` using the given runner.
func NewValidator(tesseractBin string, r engine.Runner) *Validator {
	if tesseractBin == "" {
		tesseractBin = "tesseract"
	}
	if r == nil {
		r = engine.ExecRunner()
	}
	return &Validator{listLangs: func(ctx context.Context) ([]string, error) {
		return queryInstalledLangs(ctx, r, tesseractBin)
	}}
}

// NewValidatorWithLister builds a Validator with a custom language source.
func NewValidatorWithLister(l LangLister) *Validator {
	return &Validator{listLangs: l}
}

// Validate checks raw against the schema for name and returns the
// normalized parameters, or a KindValidation error. It never creates or
// mutates job state.
func (v *Validator) Validate(ctx context.Context, name engine.Name, raw Raw) (engine.Params, error) {
	if !name.Valid() {
		return engine.Params{}, engine.NewError(engine.KindValidation, "unknown engine %q", name)
	}

	switch name {
	case engine.Tesseract:
		return v.validateTesseract(ctx, raw)
	case engine.Vision, engine.LiveText:
		return v.validateVision(name, raw)
	default:
		return v.validateEasyOCR(raw)
	}
}

func (v *Validator) validateTesseract(ctx context.Context, raw Raw) (engine.Params, error) {
	langs, err := splitLangs(raw.Languages, "+", defaultTesseractLang, tessLangRE)
	if err != nil {
		return engine.Params{}, err
	}

	psm, err := intField("psm", raw.PSM, defaultPSM, 0, 13)
	if err != nil {
		return engine.Params{}, err
	}
	oem, err := intField("oem", raw.OEM, defaultOEM, 0, 3)
	if err != nil {
		return engine.Params{}, err
	}
	dpi, err := intField("dpi", raw.DPI, defaultDPI, 70, 2400)
	if err != nil {
		return engine.Params{}, err
	}
	if raw.RecognitionLevel != "" {
		return engine.Params{}, engine.NewError(engine.KindValidation,
			"recognition_level is not a tesseract parameter")
	}

	// Business rule after shape checks: every code must have installed
	// language data.
	installed, names, err := v.installedLangs(ctx)
	if err != nil {
		return engine.Params{}, fmt.Errorf("listing installed languages: %w", err)
	}
	for _, l := range langs {
		if !installed[l] {
			return engine.Params{}, engine.NewError(engine.KindValidation,
				"language %q has no installed data; installed: %s", l, strings.Join(names, ", "))
		}
	}

	return engine.Params{Languages: langs, PSM: psm, OEM: oem, DPI: dpi}, nil
}

func (v *Validator) validateVision(name engine.Name, raw Raw) (engine.Params, error) {
	langs, err := splitLangs(raw.Languages, ",", defaultVisionLang, bcp47RE)
	if err != nil {
		return engine.Params{}, err
	}
	if raw.PSM != "" || raw.OEM != "" || raw.DPI != "" {
		return engine.Params{}, engine.NewError(engine.KindValidation,
			"psm/oem/dpi are not %s parameters", name)
	}

	level := engine.Level(raw.RecognitionLevel)
	if raw.RecognitionLevel == "" {
		level = engine.LevelAccurate
		if name == engine.LiveText {
			level = engine.LevelLiveText
		}
	}
	if !level.Valid() {
		return engine.Params{}, engine.NewError(engine.KindValidation,
			"recognition_level %q not one of fast|balanced|accurate|livetext", raw.RecognitionLevel)
	}
	if name == engine.LiveText && level != engine.LevelLiveText {
		return engine.Params{}, engine.NewError(engine.KindValidation,
			"engine livetext only supports recognition_level=livetext, got %q", level)
	}

	return engine.Params{Languages: langs, RecognitionLevel: level}, nil
}

func (v *Validator) validateEasyOCR(raw Raw) (engine.Params, error) {
	langs, err := splitLangs(raw.Languages, ",", defaultEasyOCRLang, easyLangRE)
	if err != nil {
		return engine.Params{}, err
	}
	if raw.PSM != "" || raw.OEM != "" || raw.DPI != "" || raw.RecognitionLevel != "" {
		return engine.Params{}, engine.NewError(engine.KindValidation,
			"psm/oem/dpi/recognition_level are not easyocr parameters")
	}
	return engine.Params{Languages: langs}, nil
}

// splitLangs parses and whitelists a separator-joined language list.
func splitLangs(raw, sep, def string, re *regexp.Regexp) ([]string, error) {
	if raw == "" {
		raw = def
	}
	parts := strings.Split(raw, sep)
	if len(parts) > maxLanguages {
		return nil, engine.NewError(engine.KindValidation,
			"at most %d languages allowed, got %d", maxLanguages, len(parts))
	}
	langs := make([]string, 0, len(parts))
	for _, p := range parts {
		if !re.MatchString(p) {
			return nil, engine.NewError(engine.KindValidation, "malformed language code %q", p)
		}
		langs = append(langs, p)
	}
	return langs, nil
}

func intField(name, raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, engine.NewError(engine.KindValidation, "%s must be an integer, got %q", name, raw)
	}
	if n < lo || n > hi {
		return 0, engine.NewError(engine.KindValidation, "%s %d outside [%d,%d]", name, n, lo, hi)
	}
	return n, nil
}

// installedLangs returns the memoized installed-language set. The
// subprocess query runs at most once per process (InvalidateLangs resets).
func (v *Validator) installedLangs(ctx context.Context) (map[string]bool, []string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.installed != nil {
		return v.installed, v.langNames, nil
	}

	names, err := v.listLangs(ctx)
	if err != nil {
		return nil, nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	v.installed = set
	v.langNames = names
	return set, names, nil
}

// InvalidateLangs drops the memoized language set, forcing a re-query on
// the next tesseract validation.
func (v *Validator) InvalidateLangs() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.installed = nil
	v.langNames = nil
}

// queryInstalledLangs parses `tesseract --list-langs`, whose first line is
// a banner followed by one language per line.
func queryInstalledLangs(ctx context.Context, r engine.Runner, bin string) ([]string, error) {
	out, stderr, err := r.Run(ctx, bin, "--list-langs")
	if err != nil {
		return nil, fmt.Errorf("tesseract --list-langs: %v: %s", err, stderr)
	}
	var langs []string
	for i, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if i == 0 || line == "" { // banner line
			continue
		}
		langs = append(langs, line)
	}
	return langs, nil
}
