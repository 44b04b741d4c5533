// Package files owns the on-disk layout for job artifacts: one upload
// directory and one result directory, each file named by job ID, with
// restrictive permissions. Uploads are validated by content signature, not
// by client-supplied names or headers.
package files

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ocrbridge/ocrd/internal/engine"
)

// Format is the detected upload content type.
type Format string

const (
	PDF  Format = "pdf"
	PNG  Format = "png"
	JPEG Format = "jpeg"
	TIFF Format = "tiff"
	BMP  Format = "bmp"
)

// signatures maps magic-byte prefixes to formats. TIFF has two byte orders.
var signatures = []struct {
	prefix []byte
	format Format
}{
	{[]byte("%PDF-"), PDF},
	{[]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, PNG},
	{[]byte{0xFF, 0xD8, 0xFF}, JPEG},
	{[]byte("II*\x00"), TIFF},
	{[]byte("MM\x00*"), TIFF},
	{[]byte("BM"), BMP},
}

// Handler persists uploads and results under a data directory:
// <dir>/uploads/<job_id> and <dir>/results/<job_id>.hocr.
type Handler struct {
	uploadDir string
	resultDir string
	maxBytes  int64
}

// NewHandler creates the upload and result directories (mode 0700) under
// dataDir. maxBytes caps accepted upload sizes.
func NewHandler(dataDir string, maxBytes int64) (*Handler, error) {
	h := &Handler{
		uploadDir: filepath.Join(dataDir, "uploads"),
		resultDir: filepath.Join(dataDir, "results"),
		maxBytes:  maxBytes,
	}
	for _, dir := range []string{h.uploadDir, h.resultDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return h, nil
}

// SaveUpload streams r to the upload path for jobID after sniffing the
// content signature. Returns the stored path and detected format. Rejects
// unknown signatures and streams larger than the configured cap with a
// KindValidation error; nothing is left on disk when an error is returned.
func (h *Handler) SaveUpload(jobID string, r io.Reader) (string, Format, error) {
	head := make([]byte, 8)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", "", engine.NewError(engine.KindValidation, "reading upload: %v", err)
	}
	head = head[:n]

	format, ok := sniff(head)
	if !ok {
		return "", "", engine.NewError(engine.KindValidation,
			"unrecognized file signature; accepted: pdf, png, jpeg, tiff, bmp")
	}

	path := h.UploadPath(jobID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", "", fmt.Errorf("creating upload file: %w", err)
	}

	written, err := io.Copy(f, io.MultiReader(bytes.NewReader(head), io.LimitReader(r, h.maxBytes)))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("writing upload: %w", err)
	}
	if written > h.maxBytes {
		os.Remove(path)
		return "", "", engine.NewError(engine.KindValidation,
			"upload exceeds %d byte limit", h.maxBytes)
	}

	return path, format, nil
}

// Detect re-sniffs the content signature of a stored file. The signature was
// checked at admission, so a mismatch here means the file was tampered with
// or corrupted on disk.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", err
	}
	format, ok := sniff(head[:n])
	if !ok {
		return "", fmt.Errorf("unrecognized file signature in %s", filepath.Base(path))
	}
	return format, nil
}

// SaveResult writes the hOCR document for jobID and returns its path.
func (h *Handler) SaveResult(jobID string, doc string) (string, error) {
	path := h.ResultPath(jobID)
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		return "", fmt.Errorf("writing result: %w", err)
	}
	return path, nil
}

// ReadResult returns the stored hOCR document for jobID.
func (h *Handler) ReadResult(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UploadPath returns the upload location for jobID.
func (h *Handler) UploadPath(jobID string) string {
	return filepath.Join(h.uploadDir, jobID)
}

// ResultPath returns the result location for jobID.
func (h *Handler) ResultPath(jobID string) string {
	return filepath.Join(h.resultDir, jobID+".hocr")
}

// Remove deletes a job artifact. Removing an already-removed file is a
// no-op so cleanup paths and the reaper stay idempotent.
func (h *Handler) Remove(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func sniff(head []byte) (Format, bool) {
	for _, s := range signatures {
		if bytes.HasPrefix(head, s.prefix) {
			return s.format, true
		}
	}
	return "", false
}
