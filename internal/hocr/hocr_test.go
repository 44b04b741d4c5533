package hocr

import (
	"strings"
	"testing"

	"github.com/ocrbridge/ocrd/internal/engine"
)

func tesseractPage() Page {
	return Page{
		Width:  640,
		Height: 480,
		Coords: engine.CoordTopLeftAbsolute,
		Annotations: []engine.Annotation{
			{Text: "Hello", Confidence: 0.965, Box: engine.BoundingBox{X: 10, Y: 12, Width: 60, Height: 20}, Line: 0},
			{Text: "world", Confidence: 0.91, Box: engine.BoundingBox{X: 80, Y: 12, Width: 60, Height: 20}, Line: 0},
			{Text: "second", Confidence: 0.88, Box: engine.BoundingBox{X: 10, Y: 40, Width: 90, Height: 20}, Line: 1},
		},
	}
}

func TestConvertStructure(t *testing.T) {
	doc := Convert([]Page{tesseractPage()}, Metadata{System: "ocrd/tesseract", Title: "in.png"})

	for _, want := range []string{
		`<meta name="ocr-system" content="ocrd/tesseract"/>`,
		`class="ocr_page" id="page_1"`,
		`bbox 0 0 640 480`,
		`class="ocr_line" id="line_1_1"`,
		`class="ocrx_word" id="word_1_1_1"`,
		`bbox 10 12 70 32; x_wconf 97`,
		`>Hello</span>`,
		`id="line_1_2"`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q", want)
		}
	}
}

func TestConvertDeterministic(t *testing.T) {
	pages := []Page{tesseractPage()}
	meta := Metadata{System: "ocrd/tesseract", Title: "in.png"}
	if Convert(pages, meta) != Convert(pages, meta) {
		t.Error("identical input produced differing documents")
	}
}

// Vision reports bottom-left-origin relative boxes; the converter must land
// them in top-left pixel space.
func TestConvertNormalizesBottomLeftRelative(t *testing.T) {
	p := Page{
		Width:  1000,
		Height: 500,
		Coords: engine.CoordBottomLeftRelative,
		Annotations: []engine.Annotation{
			// Bottom edge at 80% height, box 10% tall: top-left y is
			// (1 - 0.8 - 0.1) * 500 = 50.
			{Text: "Top", Confidence: 1.0, Box: engine.BoundingBox{X: 0.1, Y: 0.8, Width: 0.3, Height: 0.1}, Line: 0},
		},
	}

	doc := Convert([]Page{p}, Metadata{System: "ocrd/vision", Title: "in.png"})
	if !strings.Contains(doc, "bbox 100 50 400 100; x_wconf 100") {
		t.Errorf("normalized bbox not found in:\n%s", doc)
	}
}

func TestConvertQuantizedConfidencePassthrough(t *testing.T) {
	p := Page{
		Width:  100,
		Height: 100,
		Coords: engine.CoordTopLeftAbsolute,
		Annotations: []engine.Annotation{
			{Text: "a", Confidence: 0, Box: engine.BoundingBox{Width: 1, Height: 1}, Line: 0},
			{Text: "b", Confidence: 0.5, Box: engine.BoundingBox{X: 2, Width: 1, Height: 1}, Line: 0},
			{Text: "c", Confidence: 1, Box: engine.BoundingBox{X: 4, Width: 1, Height: 1}, Line: 0},
		},
	}

	doc := Convert([]Page{p}, Metadata{System: "ocrd/livetext", Title: "in.png"})
	for _, want := range []string{"x_wconf 0", "x_wconf 50", "x_wconf 100"} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q", want)
		}
	}
}

func TestConvertEscapesText(t *testing.T) {
	p := Page{
		Width:  100,
		Height: 100,
		Coords: engine.CoordTopLeftAbsolute,
		Annotations: []engine.Annotation{
			{Text: `<b>&"'`, Confidence: 0.9, Box: engine.BoundingBox{Width: 1, Height: 1}, Line: 0},
		},
	}

	doc := Convert([]Page{p}, Metadata{System: "ocrd/tesseract", Title: `a<b>.png`})
	if strings.Contains(doc, "<b>") {
		t.Error("markup in recognized text not escaped")
	}
	if !strings.Contains(doc, "&lt;b&gt;") {
		t.Error("escaped text not present")
	}
}

func TestConvertMultiPage(t *testing.T) {
	doc := Convert([]Page{tesseractPage(), tesseractPage()}, Metadata{System: "ocrd/tesseract", Title: "in.pdf"})
	if !strings.Contains(doc, `id="page_2"`) {
		t.Error("second page missing")
	}
	if !strings.Contains(doc, "ppageno 1") {
		t.Error("second page ppageno missing")
	}
}
