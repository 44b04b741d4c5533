package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ocrbridge/ocrd/internal/engine"
	"github.com/ocrbridge/ocrd/internal/params"
	"github.com/ocrbridge/ocrd/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. The MCP transport is
// stdio, so tools accept local file paths rather than uploads.
type MCPDeps struct {
	Store      *storage.Store
	Registry   EngineRegistry
	Validator  ParamValidator
	Files      UploadStore
	PendingTTL time.Duration
}

// NewMCPServer creates an MCP server exposing the OCR pipeline as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.PendingTTL <= 0 {
		deps.PendingTTL = time.Hour
	}

	s := server.NewMCPServer(
		"ocrd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ocrd is a local OCR service: submit images or PDFs, poll jobs, fetch hOCR results."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ocr_submit",
			mcp.WithDescription("Submit a local image or PDF for OCR. Returns the job ID to poll."),
			mcp.WithString("path", mcp.Description("Path to the image or PDF on this host"), mcp.Required()),
			mcp.WithString("engine", mcp.Description("Engine: tesseract, vision, livetext or easyocr (default tesseract)")),
			mcp.WithString("languages", mcp.Description("Language list, e.g. \"eng+deu\" or \"en-US,de-DE\"")),
			mcp.WithString("psm", mcp.Description("Tesseract page segmentation mode (0-13)")),
			mcp.WithString("oem", mcp.Description("Tesseract engine mode (0-3)")),
			mcp.WithString("dpi", mcp.Description("Tesseract DPI hint (70-2400)")),
			mcp.WithString("recognition_level", mcp.Description("Vision recognition level: fast, balanced or accurate")),
		),
		mcpSubmit(deps),
	)

	s.AddTool(
		mcp.NewTool("ocr_status",
			mcp.WithDescription("Get the current status of an OCR job."),
			mcp.WithString("job_id", mcp.Description("Job ID returned by ocr_submit"), mcp.Required()),
		),
		mcpStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("ocr_result",
			mcp.WithDescription("Fetch the hOCR document of a completed OCR job."),
			mcp.WithString("job_id", mcp.Description("Job ID returned by ocr_submit"), mcp.Required()),
		),
		mcpResult(deps),
	)

	s.AddTool(
		mcp.NewTool("list_engines",
			mcp.WithDescription("List OCR engines and their availability on this host."),
		),
		mcpListEngines(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"ocr://engines",
			"OCR Engines",
			mcp.WithResourceDescription("Engine capabilities on this host as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceEngines(deps),
	)

	return s
}

func mcpSubmit(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		name := engine.Name(req.GetString("engine", string(engine.Tesseract)))
		if !name.Valid() {
			return mcpError(fmt.Sprintf("unknown engine %q", name)), nil
		}

		raw := params.Raw{
			Languages:        req.GetString("languages", ""),
			PSM:              req.GetString("psm", ""),
			OEM:              req.GetString("oem", ""),
			DPI:              req.GetString("dpi", ""),
			RecognitionLevel: req.GetString("recognition_level", ""),
		}
		p, err := deps.Validator.Validate(ctx, name, raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := deps.Registry.Check(ctx, name, p); err != nil {
			return mcpError(err.Error()), nil
		}

		f, err := os.Open(path)
		if err != nil {
			return mcpError(fmt.Sprintf("opening %s: %v", path, err)), nil
		}
		defer f.Close()

		jobID := uuid.New().String()
		stored, _, err := deps.Files.SaveUpload(jobID, f)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		paramsJSON, err := json.Marshal(p)
		if err != nil {
			deps.Files.Remove(stored)
			return mcpError(fmt.Sprintf("encoding parameters: %v", err)), nil
		}

		job := storage.Job{
			ID:         jobID,
			Engine:     string(name),
			ParamsJSON: string(paramsJSON),
			FilePath:   stored,
		}
		if err := deps.Store.CreateJob(job, deps.PendingTTL); err != nil {
			deps.Files.Remove(stored)
			return mcpError(fmt.Sprintf("creating job: %v", err)), nil
		}

		b, _ := json.Marshal(map[string]string{"job_id": jobID, "status": string(storage.StatusPending)})
		return mcpText(string(b)), nil
	}
}

func mcpStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		job, err := deps.Store.GetJob(id)
		if err != nil {
			return mcpError(fmt.Sprintf("job %s: %v", id, err)), nil
		}

		b, err := json.Marshal(jobResponse(job))
		if err != nil {
			return mcpError(fmt.Sprintf("encoding status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResult(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		job, err := deps.Store.GetJob(id)
		if err != nil {
			return mcpError(fmt.Sprintf("job %s: %v", id, err)), nil
		}

		switch job.Status {
		case storage.StatusCompleted:
			doc, err := deps.Files.ReadResult(job.ResultPath)
			if err != nil {
				return mcpError(fmt.Sprintf("reading result: %v", err)), nil
			}
			return mcpText(doc), nil
		case storage.StatusFailed:
			return mcpError(fmt.Sprintf("job failed (%s): %s", job.ErrorKind, job.ErrorMessage)), nil
		default:
			return mcpError(fmt.Sprintf("job is %s; try again shortly", job.Status)), nil
		}
	}
}

func mcpListEngines(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := marshalCapabilities(ctx, deps.Registry)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceEngines(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := marshalCapabilities(ctx, deps.Registry)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func marshalCapabilities(ctx context.Context, reg EngineRegistry) ([]byte, error) {
	caps := reg.Capabilities(ctx)
	out := make([]engine.Capability, 0, len(caps))
	for _, name := range engine.Names() {
		if c, ok := caps[name]; ok {
			out = append(out, c)
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	return b, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
