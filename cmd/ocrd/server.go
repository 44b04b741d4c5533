package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/ocrbridge/ocrd/internal/api"
	"github.com/ocrbridge/ocrd/internal/config"
	"github.com/ocrbridge/ocrd/internal/engine"
	"github.com/ocrbridge/ocrd/internal/files"
	"github.com/ocrbridge/ocrd/internal/pages"
	"github.com/ocrbridge/ocrd/internal/params"
	"github.com/ocrbridge/ocrd/internal/storage"
	"github.com/ocrbridge/ocrd/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ocrd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ocrd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ocrd status and engine availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ocrd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "ocrd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint before claiming
	// the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("ocrd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("ocrd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	fileStore, err := files.NewHandler(cfg.Storage.DataDir, int64(cfg.Server.MaxUploadMB)<<20)
	if err != nil {
		return fmt.Errorf("preparing data directories: %w", err)
	}

	runner := engine.ExecRunner()
	registry := engine.NewRegistry(engine.RegistryConfig{
		TesseractBin: cfg.Engines.TesseractBin,
		VisionBin:    cfg.Engines.VisionBin,
		EasyOCRBin:   cfg.Engines.EasyOCRBin,
		TessdataDir:  cfg.Engines.TessdataDir,
	}, runner)
	validator := params.NewValidator(cfg.Engines.TesseractBin, runner)
	splitter := pages.NewSplitter(cfg.Engines.PdftoppmBin, cfg.Engines.RenderDPI, runner)

	for name, c := range registry.Capabilities(ctx) {
		if c.Available {
			slog.Info("engine available", "engine", name)
		} else {
			slog.Info("engine unavailable", "engine", name, "detail", c.Detail)
		}
	}

	proc := worker.NewProcessor(store, registry, splitter, fileStore, worker.Options{
		PollInterval: cfg.Jobs.PollInterval,
		PageTimeout:  cfg.Jobs.PageTimeout,
		Retention:    cfg.Jobs.Retention,
		Slots:        cfg.Jobs.Slots,
	})
	go proc.Run(ctx)

	reaper := worker.NewReaper(store, fileStore, cfg.Jobs.ReapInterval)
	go reaper.Run(ctx)

	handler := api.NewAppHandler(api.AppDeps{
		Store:          store,
		Registry:       registry,
		Validator:      validator,
		Files:          fileStore,
		Token:          cfg.Server.Token,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		PendingTTL:     cfg.Jobs.PendingTTL,
		SyncTimeout:    cfg.Server.SyncTimeout,
		SyncPoll:       cfg.Server.SyncPoll,
	})

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:      store,
		Registry:   registry,
		Validator:  validator,
		Files:      fileStore,
		PendingTTL: cfg.Jobs.PendingTTL,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	srv := &http.Server{Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "ocrd listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("ocrd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop ocrd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to ocrd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		caps, err := fetchEngines(client, serverURL, cfg.Server.Token)
		if err != nil {
			printError("could not list engines: %v", err)
		} else {
			for _, c := range caps {
				if c.Available {
					printStatus(string(c.Engine), "available")
				} else {
					printStatus(string(c.Engine), "unavailable (%s)", c.Detail)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func fetchEngines(client *http.Client, baseURL, token string) ([]engine.Capability, error) {
	req, err := http.NewRequest("GET", baseURL+"/v1/engines", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	var body struct {
		Engines []engine.Capability `json:"engines"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body.Engines, nil
}
