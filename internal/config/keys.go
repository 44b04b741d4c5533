package config

import "time"

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "OCRD_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "OCRD_SERVER_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
	},
	{
		env: "OCRD_SERVER_MAX_CONNS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
	},
	{
		env: "OCRD_SERVER_MAX_UPLOAD_MB", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.MaxUploadMB = v.(int) },
	},
	{
		env: "OCRD_SERVER_SYNC_TIMEOUT", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Server.SyncTimeout = v.(time.Duration) },
	},
	{
		env: "OCRD_SERVER_SYNC_POLL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Server.SyncPoll = v.(time.Duration) },
	},
	{
		env: "OCRD_TESSERACT_BIN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Engines.TesseractBin = v.(string) },
	},
	{
		env: "OCRD_TESSDATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Engines.TessdataDir = v.(string) },
	},
	{
		env: "OCRD_VISION_BIN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Engines.VisionBin = v.(string) },
	},
	{
		env: "OCRD_EASYOCR_BIN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Engines.EasyOCRBin = v.(string) },
	},
	{
		env: "OCRD_PDFTOPPM_BIN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Engines.PdftoppmBin = v.(string) },
	},
	{
		env: "OCRD_RENDER_DPI", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Engines.RenderDPI = v.(int) },
	},
	{
		env: "OCRD_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "OCRD_JOBS_SLOTS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Jobs.Slots = v.(int) },
	},
	{
		env: "OCRD_JOBS_POLL_INTERVAL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Jobs.PollInterval = v.(time.Duration) },
	},
	{
		env: "OCRD_JOBS_PAGE_TIMEOUT", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Jobs.PageTimeout = v.(time.Duration) },
	},
	{
		env: "OCRD_JOBS_PENDING_TTL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Jobs.PendingTTL = v.(time.Duration) },
	},
	{
		env: "OCRD_JOBS_RETENTION", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Jobs.Retention = v.(time.Duration) },
	},
	{
		env: "OCRD_JOBS_REAP_INTERVAL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Jobs.ReapInterval = v.(time.Duration) },
	},
	{
		env: "OCRD_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}
