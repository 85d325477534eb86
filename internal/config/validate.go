package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"netpulse/internal/observability/pprof"
)

// ParseDurationField parses a Go duration string. Empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for an empty value.
// An explicit "0s" stays zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return ParseDurationField(path, raw)
}

// parsePositiveDuration rejects zero as well as negative values.
func parsePositiveDuration(path, raw string) error {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(raw) != "" && d == 0 {
		return fmt.Errorf("%s: duration must be > 0", path)
	}
	return nil
}

// Validate checks a decoded (defaulted) config. All problems are joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch cfg.Probe.Backend {
	case "http":
		add(validURL("probe.download_url", cfg.Probe.DownloadURL))
		add(validURL("probe.upload_url", cfg.Probe.UploadURL))
		if cfg.Probe.UploadBytes <= 0 {
			add(fmt.Errorf("probe.upload_bytes must be > 0"))
		}
	case "speedtest":
		if cfg.Probe.Speedtest.MaxConnections < 0 {
			add(fmt.Errorf("probe.speedtest.max_connections must be >= 0"))
		}
	default:
		add(fmt.Errorf("probe.backend: unknown %q (use http or speedtest)", cfg.Probe.Backend))
	}
	_, err := ParseDurationField("probe.timeout", cfg.Probe.Timeout)
	add(err)
	add(parsePositiveDuration("measure.pause", cfg.Measure.Pause))
	add(parsePositiveDuration("gesture.tick", cfg.Gesture.Tick))
	add(parsePositiveDuration("gesture.refresh", cfg.Gesture.Refresh))

	if t := cfg.Display.Telegram; t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			add(fmt.Errorf("display.telegram.token is required when telegram is enabled"))
		}
		if t.ChatID == 0 {
			add(fmt.Errorf("display.telegram.chat_id is required when telegram is enabled"))
		}
	}
	if cfg.Display.Web.Enabled && strings.TrimSpace(cfg.Display.Web.Addr) == "" {
		add(fmt.Errorf("display.web.addr is required when web is enabled"))
	}
	if w := cfg.Display.Web; w.Enabled && w.Pprof && strings.TrimSpace(w.PprofToken) == "" && !pprof.IsLoopbackAddr(w.Addr) {
		add(fmt.Errorf("display.web.pprof_token is required when pprof is served on non-loopback %q", w.Addr))
	}
	return errors.Join(errs...)
}

func validURL(path, raw string) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return fmt.Errorf("%s is required", path)
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https", path)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: host is required", path)
	}
	return nil
}
