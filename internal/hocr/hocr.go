// Package hocr renders normalized OCR annotations as hOCR, the HTML-based
// standard for positioned OCR output. The hierarchy emitted is
// ocr_page → ocr_line → ocrx_word with bbox and x_wconf properties; IDs are
// sequential and stable, so identical input always renders byte-identical
// output regardless of which engine produced the annotations.
package hocr

import (
	"fmt"
	"html"
	"math"
	"sort"
	"strings"

	"github.com/ocrbridge/ocrd/internal/engine"
)

// Page couples one page's annotations with the pixel dimensions of the
// image they were recognized on.
type Page struct {
	Annotations []engine.Annotation
	Coords      engine.CoordSpace
	Width       int
	Height      int
}

// Metadata identifies the producer of a document. System becomes the
// ocr-system meta tag so consumers can tell engines apart without
// heuristics on confidence values.
type Metadata struct {
	System string
	Title  string
}

// Convert renders pages as a complete hOCR document.
func Convert(pages []Page, meta Metadata) string {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(" <head>\n")
	fmt.Fprintf(&b, "  <title>%s</title>\n", html.EscapeString(meta.Title))
	b.WriteString("  <meta http-equiv=\"Content-Type\" content=\"text/html;charset=utf-8\"/>\n")
	fmt.Fprintf(&b, "  <meta name=\"ocr-system\" content=\"%s\"/>\n", html.EscapeString(meta.System))
	b.WriteString("  <meta name=\"ocr-capabilities\" content=\"ocr_page ocr_line ocrx_word\"/>\n")
	b.WriteString(" </head>\n <body>\n")

	for i, p := range pages {
		writePage(&b, i, p)
	}

	b.WriteString(" </body>\n</html>\n")
	return b.String()
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
`

// box is a pixel-space rectangle after normalization.
type box struct {
	x1, y1, x2, y2 int
}

func (bb box) union(o box) box {
	return box{
		x1: min(bb.x1, o.x1),
		y1: min(bb.y1, o.y1),
		x2: max(bb.x2, o.x2),
		y2: max(bb.y2, o.y2),
	}
}

func (bb box) bbox() string {
	return fmt.Sprintf("bbox %d %d %d %d", bb.x1, bb.y1, bb.x2, bb.y2)
}

type word struct {
	text string
	conf int
	box  box
}

type line struct {
	words []word
	box   box
}

func writePage(b *strings.Builder, idx int, p Page) {
	pageID := idx + 1
	fmt.Fprintf(b, "  <div class=\"ocr_page\" id=\"page_%d\" title=\"image &quot;page_%d&quot;; bbox 0 0 %d %d; ppageno %d\">\n",
		pageID, pageID, p.Width, p.Height, idx)

	for li, ln := range buildLines(p) {
		fmt.Fprintf(b, "   <span class=\"ocr_line\" id=\"line_%d_%d\" title=\"%s\">\n",
			pageID, li+1, ln.box.bbox())
		for wi, w := range ln.words {
			fmt.Fprintf(b, "    <span class=\"ocrx_word\" id=\"word_%d_%d_%d\" title=\"%s; x_wconf %d\">%s</span>\n",
				pageID, li+1, wi+1, w.box.bbox(), w.conf, html.EscapeString(w.text))
		}
		b.WriteString("   </span>\n")
	}

	b.WriteString("  </div>\n")
}

// buildLines normalizes coordinates into top-left pixel space and groups
// words by their line index, preserving annotation order within a line.
func buildLines(p Page) []line {
	grouped := make(map[int][]word)
	var order []int
	for _, a := range p.Annotations {
		w := word{
			text: a.Text,
			conf: confTo100(a.Confidence),
			box:  normalizeBox(a.Box, p.Coords, p.Width, p.Height),
		}
		if _, seen := grouped[a.Line]; !seen {
			order = append(order, a.Line)
		}
		grouped[a.Line] = append(grouped[a.Line], w)
	}
	sort.Ints(order)

	lines := make([]line, 0, len(order))
	for _, key := range order {
		ws := grouped[key]
		lb := ws[0].box
		for _, w := range ws[1:] {
			lb = lb.union(w.box)
		}
		lines = append(lines, line{words: ws, box: lb})
	}
	return lines
}

// normalizeBox converts an engine bounding box into absolute
// top-left-origin pixel coordinates. The conversion is the same for every
// engine; only the declared coordinate space matters.
func normalizeBox(bb engine.BoundingBox, space engine.CoordSpace, width, height int) box {
	switch space {
	case engine.CoordBottomLeftRelative:
		w := float64(width)
		h := float64(height)
		x1 := bb.X * w
		y1 := (1 - bb.Y - bb.Height) * h
		return box{
			x1: roundPx(x1),
			y1: roundPx(y1),
			x2: roundPx(x1 + bb.Width*w),
			y2: roundPx(y1 + bb.Height*h),
		}
	default:
		return box{
			x1: roundPx(bb.X),
			y1: roundPx(bb.Y),
			x2: roundPx(bb.X + bb.Width),
			y2: roundPx(bb.Y + bb.Height),
		}
	}
}

// confTo100 maps [0,1] confidence onto hOCR's 0-100 integer scale. Engines
// that only report quantized buckets (or a constant 1.0) map through
// unchanged; the value is a faithful passthrough, not a recalibration.
func confTo100(c float64) int {
	v := int(math.Round(c * 100))
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func roundPx(v float64) int { return int(math.Round(v)) }
