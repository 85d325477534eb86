package config

import (
	"reflect"
	"strings"

	logx "netpulse/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
//
// Only the logging section is applied live; the app logs every other changed
// section as requiring a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Probe, newCfg.Probe) {
		changed = append(changed, "probe")
		attrs = append(attrs,
			logx.String("probe.backend", strings.TrimSpace(newCfg.Probe.Backend)),
			logx.String("probe.download_url", strings.TrimSpace(newCfg.Probe.DownloadURL)),
			logx.String("probe.upload_url", strings.TrimSpace(newCfg.Probe.UploadURL)),
			logx.Int("probe.upload_bytes", newCfg.Probe.UploadBytes),
			logx.String("probe.timeout", strings.TrimSpace(newCfg.Probe.Timeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Measure, newCfg.Measure) {
		changed = append(changed, "measure")
		attrs = append(attrs, logx.String("measure.pause", strings.TrimSpace(newCfg.Measure.Pause)))
	}

	if !reflect.DeepEqual(oldCfg.Gesture, newCfg.Gesture) {
		changed = append(changed, "gesture")
		attrs = append(attrs,
			logx.String("gesture.tick", strings.TrimSpace(newCfg.Gesture.Tick)),
			logx.String("gesture.refresh", strings.TrimSpace(newCfg.Gesture.Refresh)),
		)
	}

	// Display (never log token)
	o, n := oldCfg.Display, newCfg.Display
	if o.Console != n.Console || o.Web != n.Web ||
		o.Telegram.Enabled != n.Telegram.Enabled ||
		o.Telegram.ChatID != n.Telegram.ChatID ||
		o.Telegram.ThreadID != n.Telegram.ThreadID ||
		o.Telegram.RatePerSec != n.Telegram.RatePerSec ||
		strings.TrimSpace(o.Telegram.Token) != strings.TrimSpace(n.Telegram.Token) {
		changed = append(changed, "display")
		attrs = append(attrs,
			logx.Bool("display.console", n.Console.Enabled),
			logx.Bool("display.telegram", n.Telegram.Enabled),
			logx.Bool("display.telegram_token_set", strings.TrimSpace(n.Telegram.Token) != ""),
			logx.Bool("display.web", n.Web.Enabled),
			logx.String("display.web_addr", strings.TrimSpace(n.Web.Addr)),
		)
	}

	if oldCfg.Input != newCfg.Input {
		changed = append(changed, "input")
		attrs = append(attrs, logx.Bool("input.stdin", newCfg.Input.Stdin))
	}

	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		attrs = append(attrs,
			logx.Bool("report.enabled", newCfg.Report.Enabled),
			logx.String("report.schedule", strings.TrimSpace(newCfg.Report.Schedule)),
		)
	}

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	return changed, attrs
}
