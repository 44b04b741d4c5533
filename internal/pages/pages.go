// Package pages turns an accepted upload into the ordered list of raster
// pages the engines process. Images pass through as a single page; PDFs are
// rasterized page by page with pdftoppm so every adapter sees the same input
// shape regardless of upload format.
package pages

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	_ "image/jpeg"
	_ "image/png"

	"github.com/ledongthuc/pdf"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/ocrbridge/ocrd/internal/engine"
	"github.com/ocrbridge/ocrd/internal/files"
)

// Page is one raster page of an upload, ready for an engine adapter.
type Page struct {
	// Path is the image file for this page. For single-image uploads it is
	// the upload itself; for PDFs it is a rendered page owned by the split.
	Path  string
	Index int
	// Width and Height are pixel dimensions, used for coordinate
	// normalization and page bounding boxes.
	Width  int
	Height int
}

// maxPDFPages bounds how many pages a single job may fan out to.
const maxPDFPages = 500

// Splitter renders uploads into pages. Safe for concurrent use; each Split
// call works in its own directory.
type Splitter struct {
	pdftoppmBin string
	dpi         int
	runner      engine.Runner
}

// NewSplitter returns a Splitter that rasterizes PDFs with the pdftoppm
// binary at bin, at the given render DPI.
func NewSplitter(bin string, dpi int, r engine.Runner) *Splitter {
	if bin == "" {
		bin = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 300
	}
	if r == nil {
		r = engine.ExecRunner()
	}
	return &Splitter{pdftoppmBin: bin, dpi: dpi, runner: r}
}

// Split expands the upload at path into its pages. PDF pages are rendered
// into a fresh directory under workDir; the returned cleanup removes them
// and is safe to call regardless of error. Image uploads are returned
// in place with a no-op cleanup.
func (s *Splitter) Split(ctx context.Context, path string, format files.Format, workDir string) ([]Page, func(), error) {
	noop := func() {}
	if format != files.PDF {
		p, err := imagePage(path)
		if err != nil {
			return nil, noop, err
		}
		return []Page{p}, noop, nil
	}

	count, err := pdfPageCount(path)
	if err != nil {
		return nil, noop, err
	}

	dir, err := os.MkdirTemp(workDir, "pages-")
	if err != nil {
		return nil, noop, fmt.Errorf("creating page directory: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	out := make([]Page, 0, count)
	for i := 0; i < count; i++ {
		p, err := s.renderPage(ctx, path, dir, i)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		out = append(out, p)
	}
	return out, cleanup, nil
}

// renderPage rasterizes a single zero-based PDF page to PNG.
func (s *Splitter) renderPage(ctx context.Context, path, dir string, index int) (Page, error) {
	prefix := filepath.Join(dir, fmt.Sprintf("page-%04d", index))
	pageArg := fmt.Sprintf("%d", index+1) // pdftoppm pages are one-based
	args := []string{
		"-png", "-singlefile",
		"-r", fmt.Sprintf("%d", s.dpi),
		"-f", pageArg, "-l", pageArg,
		path, prefix,
	}
	_, stderr, err := s.runner.Run(ctx, s.pdftoppmBin, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Page{}, engine.NewError(engine.KindTimeout, "rendering page %d timed out", index)
		}
		return Page{}, engine.NewError(engine.KindEngine, "rendering page %d: %v: %s", index, err, stderr)
	}

	rendered := prefix + ".png"
	w, h, err := imageSize(rendered)
	if err != nil {
		return Page{}, engine.NewError(engine.KindEngine, "page %d render produced no readable image: %v", index, err)
	}
	return Page{Path: rendered, Index: index, Width: w, Height: h}, nil
}

func imagePage(path string) (Page, error) {
	w, h, err := imageSize(path)
	if err != nil {
		return Page{}, engine.NewError(engine.KindValidation, "unreadable image: %v", err)
	}
	return Page{Path: path, Index: 0, Width: w, Height: h}, nil
}

// imageSize decodes only the image header. bmp and tiff support comes from
// the decoder registrations above.
func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// pdfPageCount reads the page tree without rendering anything. A PDF that
// cannot be parsed is rejected as a bad upload, not an engine failure.
func pdfPageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, engine.NewError(engine.KindValidation, "unreadable pdf: %v", err)
	}
	defer f.Close()

	n := r.NumPage()
	if n < 1 {
		return 0, engine.NewError(engine.KindValidation, "pdf has no pages")
	}
	if n > maxPDFPages {
		return 0, engine.NewError(engine.KindValidation, "pdf has %d pages, limit is %d", n, maxPDFPages)
	}
	return n, nil
}
