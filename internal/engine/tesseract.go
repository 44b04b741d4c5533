//go:build !ocr

package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// TesseractAdapter runs the tesseract binary and parses its TSV output,
// which carries word-level confidence and bounding boxes. This is the
// default build; `-tags ocr` swaps in the cgo gosseract variant.
type TesseractAdapter struct {
	Bin         string // binary name or absolute path; "" means "tesseract"
	TessdataDir string // optional --tessdata-dir
	runner      Runner
}

// NewTesseractAdapter builds a subprocess-backed Tesseract adapter.
func NewTesseractAdapter(bin, tessdataDir string, r Runner) *TesseractAdapter {
	if bin == "" {
		bin = "tesseract"
	}
	if r == nil {
		r = ExecRunner()
	}
	return &TesseractAdapter{Bin: bin, TessdataDir: tessdataDir, runner: r}
}

func (a *TesseractAdapter) Name() Name { return Tesseract }

func (a *TesseractAdapter) Process(ctx context.Context, path string, p Params, pageIndex int) (PageResult, error) {
	args := []string{path, "stdout",
		"-l", strings.Join(p.Languages, "+"),
		"--psm", strconv.Itoa(p.PSM),
		"--oem", strconv.Itoa(p.OEM),
		"--dpi", strconv.Itoa(p.DPI),
	}
	if a.TessdataDir != "" {
		args = append(args, "--tessdata-dir", a.TessdataDir)
	}
	args = append(args, "tsv")

	out, stderr, err := a.runner.Run(ctx, a.Bin, args...)
	if err != nil {
		return PageResult{}, runError(ctx, "tesseract", stderr, err)
	}

	anns, err := parseTSV(string(out))
	if err != nil {
		return PageResult{}, err
	}

	res := PageResult{Annotations: anns, Coords: CoordTopLeftAbsolute}
	if err := res.Validate(); err != nil {
		return PageResult{}, err
	}
	return res, nil
}

// tsvColumns is the fixed column count of tesseract's TSV output:
// level, page, block, par, line, word, left, top, width, height, conf, text.
const tsvColumns = 12

// parseTSV converts tesseract TSV into word annotations. Structural rows
// (page/block/par/line, conf == -1) are skipped; line grouping is rebuilt
// from the block/par/line triple.
func parseTSV(out string) ([]Annotation, error) {
	lines := strings.Split(out, "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "level\t") {
		return nil, NewUnexpectedOutput(out, "tesseract: output is not TSV")
	}

	var anns []Annotation
	lineIdx := -1
	lastKey := ""
	for _, row := range lines[1:] {
		if strings.TrimSpace(row) == "" {
			continue
		}
		cols := strings.Split(row, "\t")
		if len(cols) != tsvColumns {
			return nil, NewUnexpectedOutput(row, "tesseract: TSV row has %d columns, want %d", len(cols), tsvColumns)
		}
		level, err := strconv.Atoi(cols[0])
		if err != nil {
			return nil, NewUnexpectedOutput(row, "tesseract: bad level %q", cols[0])
		}
		if level != 5 { // word rows only
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil {
			return nil, NewUnexpectedOutput(row, "tesseract: bad confidence %q", cols[10])
		}
		if conf < 0 {
			continue
		}
		text := cols[11]
		if strings.TrimSpace(text) == "" {
			continue
		}

		box, err := tsvBox(cols)
		if err != nil {
			return nil, err
		}

		key := fmt.Sprintf("%s/%s/%s", cols[2], cols[3], cols[4])
		if key != lastKey {
			lineIdx++
			lastKey = key
		}

		anns = append(anns, Annotation{
			Text:       text,
			Confidence: conf / 100.0,
			Box:        box,
			Line:       lineIdx,
		})
	}
	return anns, nil
}

func tsvBox(cols []string) (BoundingBox, error) {
	vals := make([]float64, 4)
	for i, c := range cols[6:10] {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return BoundingBox{}, NewUnexpectedOutput(strings.Join(cols, "\t"), "tesseract: bad geometry %q", c)
		}
		vals[i] = v
	}
	return BoundingBox{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}
