package files

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ocrbridge/ocrd/internal/engine"
)

func newTestHandler(t *testing.T, maxBytes int64) *Handler {
	t.Helper()
	h, err := NewHandler(t.TempDir(), maxBytes)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

func TestSaveUploadDetectsFormat(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{"pdf", []byte("%PDF-1.7 rest"), PDF},
		{"png", append(append([]byte{}, pngHeader...), 0x01, 0x02), PNG},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x10}, JPEG},
		{"tiff-le", []byte("II*\x00payload"), TIFF},
		{"tiff-be", []byte("MM\x00*payload"), TIFF},
		{"bmp", []byte("BMxxxx"), BMP},
	}
	for _, tc := range cases {
		path, format, err := h.SaveUpload("job-"+tc.name, bytes.NewReader(tc.data))
		if err != nil {
			t.Fatalf("%s: SaveUpload: %v", tc.name, err)
		}
		if format != tc.want {
			t.Errorf("%s: format = %s, want %s", tc.name, format, tc.want)
		}
		stored, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("%s: reading stored file: %v", tc.name, err)
		}
		if !bytes.Equal(stored, tc.data) {
			t.Errorf("%s: stored bytes differ from upload", tc.name)
		}
	}
}

func TestSaveUploadRejectsUnknownSignature(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	_, _, err := h.SaveUpload("job-x", strings.NewReader("GIF89a not supported"))
	if engine.KindOf(err) != engine.KindValidation {
		t.Fatalf("kind = %s, want %s", engine.KindOf(err), engine.KindValidation)
	}
	if _, statErr := os.Stat(h.UploadPath("job-x")); !os.IsNotExist(statErr) {
		t.Error("rejected upload left a file behind")
	}
}

func TestSaveUploadSizeCap(t *testing.T) {
	h := newTestHandler(t, 64)

	big := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0xAB}, 200)...)
	_, _, err := h.SaveUpload("job-big", bytes.NewReader(big))
	if engine.KindOf(err) != engine.KindValidation {
		t.Fatalf("kind = %s, want %s", engine.KindOf(err), engine.KindValidation)
	}
	if _, statErr := os.Stat(h.UploadPath("job-big")); !os.IsNotExist(statErr) {
		t.Error("oversized upload left a file behind")
	}
}

func TestSaveUploadPermissions(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	path, _, err := h.SaveUpload("job-p", bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("upload mode = %o, want 600", perm)
	}
}

func TestDetect(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	path, _, err := h.SaveUpload("job-d", strings.NewReader("%PDF-1.4 body"))
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	format, err := Detect(path)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if format != PDF {
		t.Errorf("format = %s, want %s", format, PDF)
	}

	other := filepath.Join(t.TempDir(), "odd")
	if err := os.WriteFile(other, []byte("ZZZZZZZZ"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Detect(other); err == nil {
		t.Error("Detect accepted an unknown signature")
	}
}

func TestSaveAndReadResult(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	path, err := h.SaveResult("job-r", "<html>doc</html>")
	if err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	got, err := h.ReadResult(path)
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}
	if got != "<html>doc</html>" {
		t.Errorf("result round-trip = %q", got)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	path, _, err := h.SaveUpload("job-rm", bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	if err := h.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := h.Remove(path); err != nil {
		t.Errorf("second Remove: %v", err)
	}
	if err := h.Remove(""); err != nil {
		t.Errorf("Remove of empty path: %v", err)
	}
}
