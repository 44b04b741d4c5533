package engine

// Name identifies an OCR engine implementation.
type Name string

const (
	Tesseract Name = "tesseract"
	Vision    Name = "vision"
	LiveText  Name = "livetext"
	EasyOCR   Name = "easyocr"
)

// Names lists every engine the service knows about, in registry order.
func Names() []Name {
	return []Name{Tesseract, Vision, LiveText, EasyOCR}
}

// Valid reports whether n is one of the known engine names.
func (n Name) Valid() bool {
	switch n {
	case Tesseract, Vision, LiveText, EasyOCR:
		return true
	}
	return false
}

// Level is the recognition quality tier for the Vision/LiveText engines.
type Level string

const (
	LevelFast     Level = "fast"
	LevelBalanced Level = "balanced"
	LevelAccurate Level = "accurate"
	LevelLiveText Level = "livetext"
)

// Valid reports whether l is a known recognition level.
func (l Level) Valid() bool {
	switch l {
	case LevelFast, LevelBalanced, LevelAccurate, LevelLiveText:
		return true
	}
	return false
}

// Params is the validated, engine-specific configuration for one job.
// Only the fields relevant to the selected engine are populated; the
// validator guarantees ranges before a Params ever reaches an adapter.
type Params struct {
	// Languages holds 3-letter ISO codes for Tesseract/EasyOCR or BCP-47
	// tags for Vision/LiveText. At most 5 entries.
	Languages []string `json:"languages"`

	// Tesseract knobs.
	PSM int `json:"psm,omitempty"` // page segmentation mode, 0-13
	OEM int `json:"oem,omitempty"` // OCR engine mode, 0-3
	DPI int `json:"dpi,omitempty"` // 70-2400

	// RecognitionLevel applies to Vision/LiveText.
	RecognitionLevel Level `json:"recognition_level,omitempty"`
}

// BoundingBox is a rectangle. Interpretation (origin, units) depends on the
// CoordSpace of the PageResult that carries it.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Annotation is the engine-agnostic unit of OCR output: one recognized word
// with its confidence and position. Line groups words that share a baseline
// so the hOCR converter can rebuild line structure without re-clustering.
type Annotation struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"` // always in [0,1]
	Box        BoundingBox `json:"box"`
	Line       int         `json:"line"`
}

// CoordSpace declares how an adapter's bounding boxes are expressed.
type CoordSpace int

const (
	// CoordTopLeftAbsolute: pixel coordinates, origin in the upper-left
	// corner (Tesseract, EasyOCR).
	CoordTopLeftAbsolute CoordSpace = iota
	// CoordBottomLeftRelative: [0,1]-normalized coordinates, origin in the
	// lower-left corner (Apple Vision framework).
	CoordBottomLeftRelative
)

// PageResult is the normalized output of one adapter invocation for one page.
type PageResult struct {
	Annotations []Annotation
	Coords      CoordSpace
}

// Validate checks the shape invariants every adapter must uphold before its
// output reaches the converter: confidence within [0,1] and non-negative box
// dimensions.
func (r PageResult) Validate() error {
	for i, a := range r.Annotations {
		if a.Confidence < 0 || a.Confidence > 1 {
			return NewUnexpectedOutput(
				sampleOf(a),
				"annotation %d: confidence %v outside [0,1]", i, a.Confidence)
		}
		if a.Box.Width < 0 || a.Box.Height < 0 {
			return NewUnexpectedOutput(
				sampleOf(a),
				"annotation %d: negative box dimensions %vx%v", i, a.Box.Width, a.Box.Height)
		}
	}
	return nil
}
