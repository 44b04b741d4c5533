// Package api exposes the OCR service over HTTP and MCP. The HTTP surface
// is deliberately small: submit a document, poll the job, fetch the hOCR.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ocrbridge/ocrd/internal/engine"
	"github.com/ocrbridge/ocrd/internal/files"
	"github.com/ocrbridge/ocrd/internal/params"
	"github.com/ocrbridge/ocrd/internal/storage"
)

// multipart framing on top of the raw upload cap
const maxMultipartOverhead = 1 << 20

// EngineRegistry abstracts engine availability for the API layer.
type EngineRegistry interface {
	Capabilities(ctx context.Context) map[engine.Name]engine.Capability
	Check(ctx context.Context, name engine.Name, p engine.Params) error
}

// ParamValidator abstracts request parameter validation.
type ParamValidator interface {
	Validate(ctx context.Context, name engine.Name, raw params.Raw) (engine.Params, error)
}

type AppDeps struct {
	Store     *storage.Store
	Registry  EngineRegistry
	Validator ParamValidator
	Files     UploadStore
	Token     string // empty disables authentication

	MaxUploadBytes int64
	PendingTTL     time.Duration
	SyncTimeout    time.Duration
	SyncPoll       time.Duration
}

// UploadStore is the slice of the file handler the API needs.
type UploadStore interface {
	SaveUpload(jobID string, r io.Reader) (string, files.Format, error)
	ReadResult(path string) (string, error)
	Remove(path string) error
}

func (d *AppDeps) defaults() {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 50 << 20
	}
	if d.PendingTTL <= 0 {
		d.PendingTTL = time.Hour
	}
	if d.SyncTimeout <= 0 {
		d.SyncTimeout = 30 * time.Second
	}
	if d.SyncPoll <= 0 {
		d.SyncPoll = 200 * time.Millisecond
	}
}

func NewAppHandler(deps AppDeps) http.Handler {
	deps.defaults()
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/v1/engines", handleEngines(deps))
		r.Post("/v1/ocr", handleSubmit(deps))
		r.Post("/v1/ocr/sync", handleSubmitSync(deps))
		r.Get("/v1/ocr/{id}", handleGetJob(deps))
		r.Get("/v1/ocr/{id}/result", handleGetResult(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleEngines(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caps := deps.Registry.Capabilities(r.Context())
		out := make([]engine.Capability, 0, len(caps))
		for _, name := range engine.Names() {
			if c, ok := caps[name]; ok {
				out = append(out, c)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"engines": out})
	}
}

func handleSubmit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := admit(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": job.ID,
			"status": string(storage.StatusPending),
		})
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse(job))
	}
}

func handleGetResult(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading job: %v", err)
			return
		}

		switch job.Status {
		case storage.StatusCompleted:
			writeResult(w, deps, job)
		case storage.StatusFailed:
			httpError(w, http.StatusConflict, "job_failed", "job failed (%s): %s", job.ErrorKind, job.ErrorMessage)
		default:
			httpError(w, http.StatusConflict, "not_ready", "job is %s", job.Status)
		}
	}
}

// handleSubmitSync admits a job like the async path, then blocks on its
// terminal state. On deadline the job keeps running and the response points
// the client at the polling endpoint.
func handleSubmitSync(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := admit(deps, w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), deps.SyncTimeout)
		defer cancel()

		ticker := time.NewTicker(deps.SyncPoll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				httpError(w, http.StatusGatewayTimeout, "timeout",
					"job %s did not finish within %s; poll /v1/ocr/%s", job.ID, deps.SyncTimeout, job.ID)
				return
			case <-ticker.C:
			}

			current, err := deps.Store.GetJob(job.ID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "loading job: %v", err)
				return
			}
			switch current.Status {
			case storage.StatusCompleted:
				writeResult(w, deps, current)
				return
			case storage.StatusFailed:
				kind := engine.Kind(current.ErrorKind)
				httpError(w, kindStatus(kind), current.ErrorKind, "%s", current.ErrorMessage)
				return
			}
		}
	}
}

// admit runs the shared admission pipeline: parameter validation, engine
// availability, upload persistence, job creation. Returns false when the
// response has already been written.
func admit(deps AppDeps, w http.ResponseWriter, r *http.Request) (storage.Job, bool) {
	none := storage.Job{}
	r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+maxMultipartOverhead)

	if err := r.ParseMultipartForm(4 << 20); err != nil {
		httpError(w, http.StatusBadRequest, string(engine.KindValidation), "parsing multipart form: %v", err)
		return none, false
	}

	name := engine.Name(r.FormValue("engine"))
	if name == "" {
		name = engine.Tesseract
	}
	if !name.Valid() {
		httpError(w, http.StatusBadRequest, string(engine.KindValidation),
			"unknown engine %q; known: tesseract, vision, livetext, easyocr", name)
		return none, false
	}

	raw := params.Raw{
		Languages:        r.FormValue("languages"),
		PSM:              r.FormValue("psm"),
		OEM:              r.FormValue("oem"),
		DPI:              r.FormValue("dpi"),
		RecognitionLevel: r.FormValue("recognition_level"),
	}
	p, err := deps.Validator.Validate(r.Context(), name, raw)
	if err != nil {
		writeEngineError(w, err)
		return none, false
	}

	if err := deps.Registry.Check(r.Context(), name, p); err != nil {
		writeEngineError(w, err)
		return none, false
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, string(engine.KindValidation), "file part is required")
		return none, false
	}
	defer file.Close()

	jobID := uuid.New().String()
	path, _, err := deps.Files.SaveUpload(jobID, file)
	if err != nil {
		writeEngineError(w, err)
		return none, false
	}

	paramsJSON, err := json.Marshal(p)
	if err != nil {
		deps.Files.Remove(path)
		httpError(w, http.StatusInternalServerError, "api_error", "encoding parameters: %v", err)
		return none, false
	}

	job := storage.Job{
		ID:         jobID,
		Engine:     string(name),
		ParamsJSON: string(paramsJSON),
		FilePath:   path,
	}
	if err := deps.Store.CreateJob(job, deps.PendingTTL); err != nil {
		deps.Files.Remove(path)
		httpError(w, http.StatusInternalServerError, "api_error", "creating job: %v", err)
		return none, false
	}
	return job, true
}

func writeResult(w http.ResponseWriter, deps AppDeps, job storage.Job) {
	doc, err := deps.Files.ReadResult(job.ResultPath)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "reading result: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/xhtml+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, doc)
}

// jobResponse is the wire shape for job status lookups.
func jobResponse(j storage.Job) map[string]any {
	resp := map[string]any{
		"job_id":     j.ID,
		"status":     string(j.Status),
		"engine":     j.Engine,
		"created_at": j.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !j.CompletedAt.IsZero() {
		resp["completed_at"] = j.CompletedAt.UTC().Format(time.RFC3339)
	}
	if j.Status == storage.StatusFailed {
		resp["error"] = map[string]string{
			"kind":    j.ErrorKind,
			"message": j.ErrorMessage,
		}
	}
	return resp
}

// kindStatus maps the failure taxonomy onto HTTP status codes.
func kindStatus(kind engine.Kind) int {
	switch kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindPlatform, engine.KindLibraryVersion:
		return http.StatusUnprocessableEntity
	case engine.KindTimeout:
		return http.StatusGatewayTimeout
	case engine.KindUnexpectedOutput:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	kind := engine.KindOf(err)
	httpError(w, kindStatus(kind), string(kind), "%v", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
