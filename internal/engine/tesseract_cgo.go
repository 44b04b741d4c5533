//go:build ocr

package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractAdapter drives libtesseract in-process through gosseract. Built
// with `-tags ocr`; the default build shells out to the tesseract binary
// instead so the service compiles without cgo.
type TesseractAdapter struct {
	Bin         string // unused in the cgo build, kept for construction parity
	TessdataDir string
	runner      Runner

	clientFactory func() *gosseract.Client
}

// NewTesseractAdapter builds a gosseract-backed Tesseract adapter.
func NewTesseractAdapter(bin, tessdataDir string, r Runner) *TesseractAdapter {
	return &TesseractAdapter{
		Bin:           bin,
		TessdataDir:   tessdataDir,
		runner:        r,
		clientFactory: gosseract.NewClient,
	}
}

func (a *TesseractAdapter) Name() Name { return Tesseract }

func (a *TesseractAdapter) Process(ctx context.Context, path string, p Params, pageIndex int) (PageResult, error) {
	// libtesseract calls are blocking and cannot be interrupted; honor an
	// already-expired deadline before starting.
	if err := ctx.Err(); err != nil {
		return PageResult{}, NewError(KindTimeout, "tesseract: %v", err)
	}

	c := a.clientFactory()
	defer c.Close()

	if a.TessdataDir != "" {
		if err := c.SetTessdataPrefix(a.TessdataDir); err != nil {
			return PageResult{}, NewError(KindEngine, "tesseract: set tessdata dir: %v", err)
		}
	}
	if err := c.SetImage(path); err != nil {
		return PageResult{}, NewError(KindEngine, "tesseract: set image: %v", err)
	}
	if err := c.SetLanguage(p.Languages...); err != nil {
		return PageResult{}, NewError(KindEngine, "tesseract: set languages: %v", err)
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(p.PSM)); err != nil {
		return PageResult{}, NewError(KindEngine, "tesseract: set psm: %v", err)
	}
	vars := map[string]string{
		"user_defined_dpi":         strconv.Itoa(p.DPI),
		"tessedit_ocr_engine_mode": strconv.Itoa(p.OEM),
	}
	for k, v := range vars {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return PageResult{}, NewError(KindEngine, "tesseract: set %s: %v", k, err)
		}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return PageResult{}, NewError(KindEngine, "tesseract: bounding boxes: %v", err)
	}

	res := PageResult{Annotations: wordsFromBoxes(boxes), Coords: CoordTopLeftAbsolute}
	if err := res.Validate(); err != nil {
		return PageResult{}, err
	}
	return res, nil
}

// wordsFromBoxes converts gosseract word boxes into annotations, assigning
// line indices by vertical-band clustering: a word starts a new line when
// its vertical center falls outside the current line's band.
func wordsFromBoxes(boxes []gosseract.BoundingBox) []Annotation {
	var anns []Annotation
	lineIdx := -1
	var bandTop, bandBottom float64
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		top := float64(b.Box.Min.Y)
		bottom := float64(b.Box.Max.Y)
		center := (top + bottom) / 2
		if lineIdx < 0 || center < bandTop || center > bandBottom {
			lineIdx++
			bandTop, bandBottom = top, bottom
		}
		conf := b.Confidence / 100.0
		if conf > 1 {
			conf = 1
		}
		if conf < 0 {
			conf = 0
		}
		anns = append(anns, Annotation{
			Text:       text,
			Confidence: conf,
			Box: BoundingBox{
				X:      float64(b.Box.Min.X),
				Y:      top,
				Width:  float64(b.Box.Dx()),
				Height: float64(b.Box.Dy()),
			},
			Line: lineIdx,
		})
	}
	return anns
}
