package engine

import (
	"context"
	"encoding/json"
	"strings"
)

// EasyOCRAdapter bridges to the EasyOCR python package through the
// ocrd-easyocr helper script, which prints one JSON array of detections per
// image. EasyOCR reports quantized confidences; they are passed through
// unmodified.
type EasyOCRAdapter struct {
	Bin    string // helper script; "" means "ocrd-easyocr"
	runner Runner
}

// NewEasyOCRAdapter builds a subprocess-backed EasyOCR adapter.
func NewEasyOCRAdapter(bin string, r Runner) *EasyOCRAdapter {
	if bin == "" {
		bin = "ocrd-easyocr"
	}
	if r == nil {
		r = ExecRunner()
	}
	return &EasyOCRAdapter{Bin: bin, runner: r}
}

func (a *EasyOCRAdapter) Name() Name { return EasyOCR }

// easyDetection mirrors one element of the helper's JSON output. The box is
// top-left-origin pixel coordinates.
type easyDetection struct {
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"` // x, y, width, height
}

func (a *EasyOCRAdapter) Process(ctx context.Context, path string, p Params, pageIndex int) (PageResult, error) {
	args := []string{"--languages", strings.Join(p.Languages, ","), path}

	out, stderr, err := a.runner.Run(ctx, a.Bin, args...)
	if err != nil {
		return PageResult{}, runError(ctx, "easyocr", stderr, err)
	}

	var dets []easyDetection
	if err := json.Unmarshal(out, &dets); err != nil {
		return PageResult{}, NewUnexpectedOutput(string(out), "easyocr: output is not JSON: %v", err)
	}

	anns := make([]Annotation, 0, len(dets))
	for line, d := range dets {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		anns = append(anns, Annotation{
			Text:       text,
			Confidence: d.Confidence,
			Box:        BoundingBox{X: d.Box[0], Y: d.Box[1], Width: d.Box[2], Height: d.Box[3]},
			Line:       line,
		})
	}

	res := PageResult{Annotations: anns, Coords: CoordTopLeftAbsolute}
	if err := res.Validate(); err != nil {
		return PageResult{}, err
	}
	return res, nil
}
