package config

// Config is the on-disk configuration of netpulse.
//
// All durations are Go duration strings (e.g. "500ms", "1s", "1m").
// JSON, YAML and TOML files are accepted; YAML and TOML are coerced to JSON
// so a single strict decoder (DisallowUnknownFields) validates every format.
type Config struct {
	Probe   ProbeConfig   `json:"probe"`
	Measure MeasureConfig `json:"measure"`
	Gesture GestureConfig `json:"gesture"`
	Display DisplayConfig `json:"display"`
	Input   InputConfig   `json:"input"`
	Report  ReportConfig  `json:"report"`
	Logging LoggingConfig `json:"logging"`
}

// ProbeConfig controls the transfer probe.
//
// Defaults (when fields are omitted/zero):
//   - backend: "http"
//   - download_url: "https://www.google.com"
//   - upload_url: "https://httpbin.org/post"
//   - upload_bytes: 512000 (500 KiB)
//   - timeout: "0s" (no watchdog)
type ProbeConfig struct {
	Backend     string `json:"backend,omitempty"` // "http" | "speedtest"
	DownloadURL string `json:"download_url,omitempty"`
	UploadURL   string `json:"upload_url,omitempty"`
	UploadBytes int    `json:"upload_bytes,omitempty"`

	// Timeout bounds a single transfer. "0s" keeps the transfer unbounded.
	Timeout string `json:"timeout,omitempty"`

	DisableHTTP2      bool `json:"disable_http2,omitempty"`
	DisableKeepAlives bool `json:"disable_keep_alives,omitempty"`

	Speedtest SpeedtestConfig `json:"speedtest,omitempty"`
}

// SpeedtestConfig selects the single speedtest.net server used by the
// "speedtest" backend. An empty ServerID picks the nearest server once.
type SpeedtestConfig struct {
	ServerID       string `json:"server_id,omitempty"`
	MaxConnections int    `json:"max_connections,omitempty"`
	SavingMode     bool   `json:"saving_mode,omitempty"`
}

// MeasureConfig controls the measurement loop.
type MeasureConfig struct {
	// Pause is the wait between cycles (default "1s").
	Pause string `json:"pause,omitempty"`
}

// GestureConfig controls pointer polling and the hold-driven log refresh.
type GestureConfig struct {
	// Tick is the input polling interval (default "50ms").
	Tick string `json:"tick,omitempty"`
	// Refresh is the log re-push interval while holding (default "1s").
	Refresh string `json:"refresh,omitempty"`
}

type DisplayConfig struct {
	Console  ConsoleDisplayConfig  `json:"console"`
	Telegram TelegramDisplayConfig `json:"telegram"`
	Web      WebDisplayConfig      `json:"web"`
}

type ConsoleDisplayConfig struct {
	Enabled bool `json:"enabled"`
}

// TelegramDisplayConfig mirrors the current view into a single Telegram
// message that is edited in place.
type TelegramDisplayConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"` // do not log
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	// RatePerSec caps message edits (default 1).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// WebDisplayConfig serves the live view over HTTP + websocket.
//
// Security note: prefer binding to localhost (default "127.0.0.1:8080").
type WebDisplayConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Metrics bool   `json:"metrics,omitempty"` // expose /metrics

	// Pprof mounts /debug/pprof/. A non-loopback Addr requires PprofToken.
	Pprof      bool   `json:"pprof,omitempty"`
	PprofToken string `json:"pprof_token,omitempty"` // do not log
}

type InputConfig struct {
	// Stdin reads pointer commands ("down"/"up") line by line.
	Stdin bool `json:"stdin"`
}

// ReportConfig controls the periodic summary log line.
type ReportConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec (5 or 6 fields, or a descriptor like "@every 1m").
	Schedule string `json:"schedule,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
