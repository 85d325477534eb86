package app

import (
	"fmt"
	"time"

	"netpulse/internal/config"
	"netpulse/internal/display"
	"netpulse/internal/measure"
	logx "netpulse/pkg/logx"
	"netpulse/pkg/probe"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// timings holds the parsed duration fields.
type timings struct {
	transfer time.Duration
	pause    time.Duration
	tick     time.Duration
	refresh  time.Duration
}

func mapTimings(cfg *config.Config) (timings, error) {
	var t timings
	var err error
	if t.transfer, err = config.ParseDurationOrDefault("probe.timeout", cfg.Probe.Timeout, 0); err != nil {
		return t, err
	}
	if t.pause, err = config.ParseDurationOrDefault("measure.pause", cfg.Measure.Pause, measure.DefaultPause); err != nil {
		return t, err
	}
	if t.tick, err = config.ParseDurationOrDefault("gesture.tick", cfg.Gesture.Tick, 50*time.Millisecond); err != nil {
		return t, err
	}
	if t.refresh, err = config.ParseDurationOrDefault("gesture.refresh", cfg.Gesture.Refresh, time.Second); err != nil {
		return t, err
	}
	if t.pause <= 0 {
		return t, fmt.Errorf("measure.pause must be > 0")
	}
	if t.tick <= 0 {
		return t, fmt.Errorf("gesture.tick must be > 0")
	}
	if t.refresh <= 0 {
		return t, fmt.Errorf("gesture.refresh must be > 0")
	}
	return t, nil
}

// newProber builds the configured backend on a dedicated HTTP client.
func newProber(cfg *config.Config, timeout time.Duration) (probe.Prober, error) {
	p := cfg.Probe
	client, _ := probe.NewHTTPClient(probe.ClientConfig{
		DisableHTTP2:      p.DisableHTTP2,
		DisableKeepAlives: p.DisableKeepAlives,
	})
	switch p.Backend {
	case "", "http":
		return probe.New(probe.Config{
			DownloadURL: p.DownloadURL,
			UploadURL:   p.UploadURL,
			UploadBytes: p.UploadBytes,
			Timeout:     timeout,
		}, probe.WithTransport(client))
	case "speedtest":
		return probe.NewSpeedtest(probe.SpeedtestConfig{
			ServerID:       p.Speedtest.ServerID,
			SavingMode:     p.Speedtest.SavingMode,
			MaxConnections: p.Speedtest.MaxConnections,
			Timeout:        timeout,
		}, client)
	default:
		return nil, fmt.Errorf("probe.backend: unknown backend %q", p.Backend)
	}
}

func mapTelegramConfig(cfg *config.Config) display.TelegramConfig {
	t := cfg.Display.Telegram
	return display.TelegramConfig{
		Token:      t.Token,
		ChatID:     t.ChatID,
		ThreadID:   t.ThreadID,
		RatePerSec: float64(t.RatePerSec),
	}
}

// restartSections are config sections that only take effect on restart.
var restartSections = map[string]bool{
	"probe":   true,
	"measure": true,
	"gesture": true,
	"display": true,
	"input":   true,
	"report":  true,
}

// validate is the hot-reload validator: a config is only committed when
// every component could be built from it.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapTimings(cfg); err != nil {
		return err
	}
	return nil
}
