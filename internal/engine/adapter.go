package engine

import "context"

// Adapter is the uniform contract every OCR engine implementation satisfies:
// one page image in, one normalized PageResult out. Adapters invoke their
// underlying engine, map its native output into Annotations, and translate
// engine-specific failures into *Error, and nothing else.
type Adapter interface {
	Name() Name

	// Process runs OCR on the image at path with validated parameters.
	// pageIndex is the zero-based page the image came from; adapters only
	// use it for diagnostics. The context carries the per-page deadline.
	Process(ctx context.Context, path string, p Params, pageIndex int) (PageResult, error)
}
