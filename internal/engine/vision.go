package engine

import (
	"context"
	"encoding/json"
	"strings"
)

// VisionAdapter drives the macOS Vision / LiveText frameworks through the
// ocrd-vision helper binary (a small Swift CLI shipped alongside the
// service). The helper emits one JSON document per invocation with
// line-level observations in Vision's native coordinate space:
// bottom-left origin, [0,1]-normalized.
//
// Vision is documented as weakly non-deterministic: identical inputs can
// produce observation orderings that differ at equal-confidence ties. This
// is inherent to the framework, not to this adapter.
type VisionAdapter struct {
	Bin      string // helper binary; "" means "ocrd-vision"
	LiveText bool   // route through the LiveText framework selector
	runner   Runner
}

// NewVisionAdapter builds an adapter for the classic Vision framework.
func NewVisionAdapter(bin string, r Runner) *VisionAdapter {
	return newVisionAdapter(bin, false, r)
}

// NewLiveTextAdapter builds an adapter that selects the LiveText framework.
// LiveText reports a constant confidence of 1.0 per word; the value is
// passed through verbatim rather than reinterpreted.
func NewLiveTextAdapter(bin string, r Runner) *VisionAdapter {
	return newVisionAdapter(bin, true, r)
}

func newVisionAdapter(bin string, liveText bool, r Runner) *VisionAdapter {
	if bin == "" {
		bin = "ocrd-vision"
	}
	if r == nil {
		r = ExecRunner()
	}
	return &VisionAdapter{Bin: bin, LiveText: liveText, runner: r}
}

func (a *VisionAdapter) Name() Name {
	if a.LiveText {
		return LiveText
	}
	return Vision
}

// visionObservation mirrors one entry of the helper's JSON output.
type visionObservation struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

type visionOutput struct {
	Observations []visionObservation `json:"observations"`
}

func (a *VisionAdapter) Process(ctx context.Context, path string, p Params, pageIndex int) (PageResult, error) {
	args := []string{"recognize", "--level", string(p.RecognitionLevel)}
	if len(p.Languages) > 0 {
		args = append(args, "--languages", strings.Join(p.Languages, ","))
	}
	if a.LiveText {
		args = append(args, "--framework", "livetext")
	}
	args = append(args, path)

	out, stderr, err := a.runner.Run(ctx, a.Bin, args...)
	if err != nil {
		return PageResult{}, runError(ctx, "vision", stderr, err)
	}

	var vo visionOutput
	if err := json.Unmarshal(out, &vo); err != nil {
		return PageResult{}, NewUnexpectedOutput(string(out), "vision: output is not JSON: %v", err)
	}

	anns := splitObservations(vo.Observations)
	res := PageResult{Annotations: anns, Coords: CoordBottomLeftRelative}
	if err := res.Validate(); err != nil {
		return PageResult{}, err
	}
	return res, nil
}

// splitObservations fans line-level observations out into word annotations.
// Vision reports one box per line; word boxes are estimated by dividing the
// line box horizontally in proportion to word length. The split is a pure
// function of the input, so identical observations always yield identical
// annotations.
func splitObservations(obs []visionObservation) []Annotation {
	var anns []Annotation
	for line, o := range obs {
		words := strings.Fields(o.Text)
		if len(words) == 0 {
			continue
		}
		total := 0
		for _, w := range words {
			total += len(w)
		}
		// Character-count weighting; inter-word gaps share the remainder.
		gaps := len(words) - 1
		unit := o.Width / float64(total+gaps)
		x := o.X
		for _, w := range words {
			width := unit * float64(len(w))
			anns = append(anns, Annotation{
				Text:       w,
				Confidence: o.Confidence,
				Box:        BoundingBox{X: x, Y: o.Y, Width: width, Height: o.Height},
				Line:       line,
			})
			x += width + unit
		}
	}
	return anns
}
