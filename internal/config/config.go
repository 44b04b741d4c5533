// Package config assembles the service configuration from defaults, an
// optional .env file, and OCRD_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Engines EngineConfig
	Storage StorageConfig
	Jobs    JobConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
	// Token protects the HTTP API; empty disables authentication.
	Token string
	// MaxConns caps concurrent HTTP connections at the listener.
	MaxConns    int
	MaxUploadMB int
	SyncTimeout time.Duration
	SyncPoll    time.Duration
}

type EngineConfig struct {
	TesseractBin string
	TessdataDir  string
	VisionBin    string
	EasyOCRBin   string
	PdftoppmBin  string
	// RenderDPI is the rasterization resolution for PDF pages.
	RenderDPI int
}

type StorageConfig struct {
	DataDir string
}

type JobConfig struct {
	Slots        int
	PollInterval time.Duration
	PageTimeout  time.Duration
	PendingTTL   time.Duration
	Retention    time.Duration
	ReapInterval time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        4100,
			MaxConns:    64,
			MaxUploadMB: 50,
			SyncTimeout: 30 * time.Second,
			SyncPoll:    200 * time.Millisecond,
		},
		Engines: EngineConfig{
			TesseractBin: "tesseract",
			VisionBin:    "ocrd-vision",
			EasyOCRBin:   "ocrd-easyocr",
			PdftoppmBin:  "pdftoppm",
			RenderDPI:    300,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Jobs: JobConfig{
			Slots:        2,
			PollInterval: 500 * time.Millisecond,
			PageTimeout:  60 * time.Second,
			PendingTTL:   time.Hour,
			Retention:    48 * time.Hour,
			ReapInterval: time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "ocrd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".ocrd")
}

// Load reads configuration. A .env file in the working directory is applied
// first when present; OCRD_* environment variables always win.
func Load() (Config, error) {
	godotenv.Load()
	return loadWith(os.LookupEnv)
}

func loadWith(lookup func(string) (string, bool)) (Config, error) {
	cfg := defaults()

	for _, s := range specs {
		raw, ok := lookup(s.env)
		if !ok || raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(&cfg, raw)
		case kInt:
			var v int
			if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
				return Config{}, fmt.Errorf("%s: %q is not an integer", s.env, raw)
			}
			s.apply(&cfg, v)
		case kDuration:
			v, err := time.ParseDuration(raw)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %q is not a duration: %w", s.env, raw, err)
			}
			s.apply(&cfg, v)
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.MaxUploadMB < 1 {
		return fmt.Errorf("max upload size must be at least 1 MB")
	}
	if cfg.Jobs.Slots < 1 {
		return fmt.Errorf("job slots must be at least 1")
	}
	if cfg.Engines.RenderDPI < 70 || cfg.Engines.RenderDPI > 2400 {
		return fmt.Errorf("render dpi %d out of range (70-2400)", cfg.Engines.RenderDPI)
	}
	if cfg.Jobs.Retention < cfg.Jobs.PendingTTL {
		return fmt.Errorf("retention %s shorter than pending ttl %s", cfg.Jobs.Retention, cfg.Jobs.PendingTTL)
	}
	return nil
}
