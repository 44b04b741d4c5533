package config

import (
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWith(envMap(nil))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.Token != "" {
		t.Errorf("token = %q, want empty", cfg.Server.Token)
	}
	if cfg.Engines.TesseractBin != "tesseract" {
		t.Errorf("tesseract bin = %q", cfg.Engines.TesseractBin)
	}
	if cfg.Jobs.PendingTTL != time.Hour {
		t.Errorf("pending ttl = %s, want 1h", cfg.Jobs.PendingTTL)
	}
	if cfg.Jobs.Retention != 48*time.Hour {
		t.Errorf("retention = %s, want 48h", cfg.Jobs.Retention)
	}
	if cfg.Server.SyncTimeout != 30*time.Second {
		t.Errorf("sync timeout = %s, want 30s", cfg.Server.SyncTimeout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	cfg, err := loadWith(envMap(map[string]string{
		"OCRD_SERVER_PORT":       "8080",
		"OCRD_SERVER_TOKEN":      "secret",
		"OCRD_SERVER_SYNC_POLL":  "50ms",
		"OCRD_TESSERACT_BIN":     "/opt/bin/tesseract",
		"OCRD_JOBS_SLOTS":        "8",
		"OCRD_JOBS_PAGE_TIMEOUT": "90s",
		"OCRD_JOBS_RETENTION":    "72h",
		"OCRD_STORAGE_DATA_DIR":  "/var/lib/ocrd",
		"OCRD_RENDER_DPI":        "150",
	}))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.Token != "secret" {
		t.Errorf("token = %q", cfg.Server.Token)
	}
	if cfg.Server.SyncPoll != 50*time.Millisecond {
		t.Errorf("sync poll = %s", cfg.Server.SyncPoll)
	}
	if cfg.Engines.TesseractBin != "/opt/bin/tesseract" {
		t.Errorf("tesseract bin = %q", cfg.Engines.TesseractBin)
	}
	if cfg.Jobs.Slots != 8 {
		t.Errorf("slots = %d", cfg.Jobs.Slots)
	}
	if cfg.Jobs.PageTimeout != 90*time.Second {
		t.Errorf("page timeout = %s", cfg.Jobs.PageTimeout)
	}
	if cfg.Jobs.Retention != 72*time.Hour {
		t.Errorf("retention = %s", cfg.Jobs.Retention)
	}
	if cfg.Storage.DataDir != "/var/lib/ocrd" {
		t.Errorf("data dir = %q", cfg.Storage.DataDir)
	}
	if cfg.Engines.RenderDPI != 150 {
		t.Errorf("render dpi = %d", cfg.Engines.RenderDPI)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := map[string]map[string]string{
		"non-integer port":    {"OCRD_SERVER_PORT": "eighty"},
		"non-duration":        {"OCRD_JOBS_PAGE_TIMEOUT": "ninety seconds"},
		"port out of range":   {"OCRD_SERVER_PORT": "70000"},
		"zero slots":          {"OCRD_JOBS_SLOTS": "0"},
		"dpi out of range":    {"OCRD_RENDER_DPI": "9000"},
		"retention under ttl": {"OCRD_JOBS_RETENTION": "10m"},
	}
	for name, env := range cases {
		if _, err := loadWith(envMap(env)); err == nil {
			t.Errorf("%s: loadWith accepted %v", name, env)
		}
	}
}

func TestLoadErrorNamesVariable(t *testing.T) {
	_, err := loadWith(envMap(map[string]string{"OCRD_JOBS_RETENTION": "2 days"}))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "OCRD_JOBS_RETENTION") {
		t.Errorf("error should name the variable: %v", err)
	}
}

func TestEmptyValueKeepsDefault(t *testing.T) {
	cfg, err := loadWith(envMap(map[string]string{"OCRD_SERVER_PORT": ""}))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("port = %d, want default 4100", cfg.Server.Port)
	}
}
