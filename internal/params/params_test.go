package params

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ocrbridge/ocrd/internal/engine"
)

func staticLister(langs ...string) LangLister {
	return func(context.Context) ([]string, error) { return langs, nil }
}

func newTestValidator() *Validator {
	return NewValidatorWithLister(staticLister("eng", "deu", "fra", "chi_sim"))
}

func mustFail(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if engine.KindOf(err) != engine.KindValidation {
		t.Fatalf("kind = %s, want %s", engine.KindOf(err), engine.KindValidation)
	}
}

func TestTesseractDefaults(t *testing.T) {
	v := newTestValidator()

	p, err := v.Validate(context.Background(), engine.Tesseract, Raw{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(p.Languages) != 1 || p.Languages[0] != "eng" {
		t.Errorf("languages = %v, want [eng]", p.Languages)
	}
	if p.PSM != 3 || p.OEM != 3 || p.DPI != 300 {
		t.Errorf("defaults = psm %d oem %d dpi %d", p.PSM, p.OEM, p.DPI)
	}
}

func TestTesseractMultiLanguage(t *testing.T) {
	v := newTestValidator()

	p, err := v.Validate(context.Background(), engine.Tesseract, Raw{Languages: "eng+deu+chi_sim", PSM: "6"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if strings.Join(p.Languages, "+") != "eng+deu+chi_sim" {
		t.Errorf("languages = %v", p.Languages)
	}
	if p.PSM != 6 {
		t.Errorf("psm = %d, want 6", p.PSM)
	}
}

func TestTesseractUninstalledLanguageListsInstalled(t *testing.T) {
	v := newTestValidator()

	_, err := v.Validate(context.Background(), engine.Tesseract, Raw{Languages: "eng+xyz"})
	mustFail(t, err)
	if !strings.Contains(err.Error(), "eng, deu, fra, chi_sim") {
		t.Errorf("error %q does not list installed languages", err)
	}
}

func TestTesseractRanges(t *testing.T) {
	v := newTestValidator()
	ctx := context.Background()

	cases := []Raw{
		{PSM: "14"},
		{PSM: "-1"},
		{OEM: "4"},
		{DPI: "69"},
		{DPI: "2401"},
		{PSM: "abc"},
		{DPI: "3 OR 1=1"},
		{Languages: "eng+deu+fra+eng+deu+fra"},        // too many
		{Languages: "eng;rm -rf /"},                   // injection shape
		{Languages: "ENG"},                            // case whitelist
		{RecognitionLevel: "fast"},                    // wrong engine
		{Languages: strings.Repeat("e", 4000)},        // oversized
	}
	for _, raw := range cases {
		_, err := v.Validate(ctx, engine.Tesseract, raw)
		mustFail(t, err)
	}
}

func TestVisionLevels(t *testing.T) {
	v := newTestValidator()
	ctx := context.Background()

	p, err := v.Validate(ctx, engine.Vision, Raw{Languages: "en-US,de-DE", RecognitionLevel: "fast"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.RecognitionLevel != engine.LevelFast {
		t.Errorf("level = %s, want fast", p.RecognitionLevel)
	}

	if _, err := v.Validate(ctx, engine.Vision, Raw{RecognitionLevel: "turbo"}); err == nil {
		t.Error("unknown level accepted")
	}
	if _, err := v.Validate(ctx, engine.Vision, Raw{PSM: "6"}); err == nil {
		t.Error("tesseract knob accepted for vision")
	}

	// livetext engine defaults to and only accepts the livetext level.
	p, err = v.Validate(ctx, engine.LiveText, Raw{})
	if err != nil {
		t.Fatalf("Validate livetext: %v", err)
	}
	if p.RecognitionLevel != engine.LevelLiveText {
		t.Errorf("livetext default level = %s", p.RecognitionLevel)
	}
	_, err = v.Validate(ctx, engine.LiveText, Raw{RecognitionLevel: "fast"})
	mustFail(t, err)
}

func TestEasyOCR(t *testing.T) {
	v := newTestValidator()

	p, err := v.Validate(context.Background(), engine.EasyOCR, Raw{Languages: "en,ch_sim"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(p.Languages) != 2 {
		t.Errorf("languages = %v", p.Languages)
	}

	_, err = v.Validate(context.Background(), engine.EasyOCR, Raw{DPI: "300"})
	mustFail(t, err)
}

func TestUnknownEngine(t *testing.T) {
	v := newTestValidator()
	_, err := v.Validate(context.Background(), engine.Name("abbyy"), Raw{})
	mustFail(t, err)
}

func TestLangListMemoized(t *testing.T) {
	var calls atomic.Int32
	v := NewValidatorWithLister(func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"eng"}, nil
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := v.Validate(ctx, engine.Tesseract, Raw{}); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("lister called %d times, want 1", calls.Load())
	}

	v.InvalidateLangs()
	if _, err := v.Validate(ctx, engine.Tesseract, Raw{}); err != nil {
		t.Fatalf("Validate after invalidate: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("lister called %d times after invalidate, want 2", calls.Load())
	}
}

func TestLangListFailure(t *testing.T) {
	v := NewValidatorWithLister(func(context.Context) ([]string, error) {
		return nil, errors.New("no tesseract")
	})
	_, err := v.Validate(context.Background(), engine.Tesseract, Raw{})
	if err == nil {
		t.Fatal("expected error when language listing fails")
	}
}

// Fuzz-style sweep over the parameter grammar: no malformed language string
// may slip through the tesseract whitelist.
func TestTesseractLanguageWhitelistFuzz(t *testing.T) {
	v := newTestValidator()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	alphabet := []rune("abcXYZ019 _-+;/$%.\\'\"`|&<>\n\t")
	for i := 0; i < 2000; i++ {
		n := rng.Intn(12) + 1
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		cand := string(runes)

		_, err := v.Validate(ctx, engine.Tesseract, Raw{Languages: cand})
		if err == nil && !validTessList(cand) {
			t.Fatalf("whitelist accepted malformed languages %q", cand)
		}
	}
}

// validTessList is an independent oracle for the fuzz sweep: a valid value
// is 1-5 "+"-joined installed codes.
func validTessList(s string) bool {
	parts := strings.Split(s, "+")
	if len(parts) == 0 || len(parts) > 5 {
		return false
	}
	installed := map[string]bool{"eng": true, "deu": true, "fra": true, "chi_sim": true}
	for _, p := range parts {
		if !installed[p] {
			return false
		}
	}
	return true
}
