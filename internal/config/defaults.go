package config

import "strings"

const (
	DefaultBackend     = "http"
	DefaultDownloadURL = "https://www.google.com"
	DefaultUploadURL   = "https://httpbin.org/post"
	DefaultUploadBytes = 500 * 1024

	DefaultPause   = "1s"
	DefaultTick    = "50ms"
	DefaultRefresh = "1s"

	DefaultWebAddr        = "127.0.0.1:8080"
	DefaultReportSchedule = "@every 1m"
	DefaultLogLevel       = "info"
)

// ApplyDefaults fills omitted fields in place. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	p := &cfg.Probe
	if strings.TrimSpace(p.Backend) == "" {
		p.Backend = DefaultBackend
	}
	p.Backend = strings.ToLower(strings.TrimSpace(p.Backend))
	if strings.TrimSpace(p.DownloadURL) == "" {
		p.DownloadURL = DefaultDownloadURL
	}
	if strings.TrimSpace(p.UploadURL) == "" {
		p.UploadURL = DefaultUploadURL
	}
	if p.UploadBytes == 0 {
		p.UploadBytes = DefaultUploadBytes
	}

	if strings.TrimSpace(cfg.Measure.Pause) == "" {
		cfg.Measure.Pause = DefaultPause
	}
	if strings.TrimSpace(cfg.Gesture.Tick) == "" {
		cfg.Gesture.Tick = DefaultTick
	}
	if strings.TrimSpace(cfg.Gesture.Refresh) == "" {
		cfg.Gesture.Refresh = DefaultRefresh
	}

	if strings.TrimSpace(cfg.Display.Web.Addr) == "" {
		cfg.Display.Web.Addr = DefaultWebAddr
	}
	if cfg.Display.Telegram.RatePerSec <= 0 {
		cfg.Display.Telegram.RatePerSec = 1
	}
	if strings.TrimSpace(cfg.Report.Schedule) == "" {
		cfg.Report.Schedule = DefaultReportSchedule
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
}
