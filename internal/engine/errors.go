package engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an OCR failure. Kinds are part of the wire format: job
// status responses carry them so clients can tell a bad request from a bad
// image from a bad host.
type Kind string

const (
	// KindValidation: malformed or out-of-range parameters. Surfaced at
	// admission; a job with this kind is never created.
	KindValidation Kind = "validation_error"
	// KindPlatform: the requested engine or recognition mode is not
	// supported on this host (wrong OS, OS too old).
	KindPlatform Kind = "platform_incompatibility"
	// KindLibraryVersion: the installed engine library lacks a capability
	// this service needs (e.g. no framework selector).
	KindLibraryVersion Kind = "library_version"
	// KindUnexpectedOutput: the engine returned data that does not match
	// the normalized annotation shape.
	KindUnexpectedOutput Kind = "unexpected_output_format"
	// KindTimeout: a page-level engine invocation exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindEngine: any other engine-native failure (corrupt image,
	// unsupported codec, crashed subprocess).
	KindEngine Kind = "engine_processing"
)

// maxSampleLen bounds the raw-output sample attached to unexpected-output
// errors so logs never carry unbounded engine output.
const maxSampleLen = 500

// Error is the typed error every adapter and the registry return. A raw
// library or subprocess error never crosses the adapter boundary unwrapped.
type Error struct {
	Kind    Kind
	Message string
	// Sample holds a truncated excerpt of the raw engine output, only set
	// for KindUnexpectedOutput.
	Sample string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a typed Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewUnexpectedOutput builds a KindUnexpectedOutput error carrying a bounded
// sample of the offending raw output.
func NewUnexpectedOutput(sample string, format string, args ...any) *Error {
	return &Error{
		Kind:    KindUnexpectedOutput,
		Message: fmt.Sprintf(format, args...),
		Sample:  truncateSample(sample),
	}
}

// KindOf extracts the Kind from err, walking wrapped errors. Unclassified
// errors map to KindEngine.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindEngine
}

// truncateSample caps s at maxSampleLen bytes.
func truncateSample(s string) string {
	if len(s) <= maxSampleLen {
		return s
	}
	return s[:maxSampleLen]
}

// sampleOf renders v as JSON for use as an error sample. Falls back to
// fmt formatting when marshalling fails.
func sampleOf(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return truncateSample(fmt.Sprintf("%+v", v))
	}
	return truncateSample(string(b))
}
