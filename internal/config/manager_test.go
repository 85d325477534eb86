package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "netpulse.json",
			body: `{"probe":{"download_url":"https://example.com/a","upload_bytes":1024},"logging":{"level":"debug"}}`,
		},
		{
			name: "yaml",
			file: "netpulse.yaml",
			body: "probe:\n  download_url: https://example.com/a\n  upload_bytes: 1024\nlogging:\n  level: debug\n",
		},
		{
			name: "toml",
			file: "netpulse.toml",
			body: "[probe]\ndownload_url = \"https://example.com/a\"\nupload_bytes = 1024\n\n[logging]\nlevel = \"debug\"\n",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.body)

			m := NewConfigManager(path)
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Probe.DownloadURL != "https://example.com/a" {
				t.Fatalf("DownloadURL = %q", cfg.Probe.DownloadURL)
			}
			if cfg.Probe.UploadBytes != 1024 {
				t.Fatalf("UploadBytes = %d", cfg.Probe.UploadBytes)
			}
			if cfg.Logging.Level != "debug" {
				t.Fatalf("Level = %q", cfg.Logging.Level)
			}
			// defaults
			if cfg.Probe.UploadURL != DefaultUploadURL || cfg.Measure.Pause != DefaultPause || cfg.Probe.Backend != "http" {
				t.Fatalf("defaults not applied: %+v", cfg)
			}
			if m.Get() != cfg {
				t.Fatal("Load should commit the parsed config")
			}
		})
	}
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := Decode("x.json", []byte(`{"probe":{"bogus":1}}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("x.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
	if _, err := Decode("x.yaml", []byte("probe:\n  nope: true\n")); err == nil {
		t.Fatal("expected unknown field error for yaml")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ok := &Config{}
	ApplyDefaults(ok)
	if err := Validate(ok); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := &Config{}
	ApplyDefaults(bad)
	bad.Probe.DownloadURL = "ftp://example.com"
	bad.Probe.UploadBytes = -1
	bad.Measure.Pause = "soon"
	bad.Display.Telegram.Enabled = true
	err := Validate(bad)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"probe.download_url", "probe.upload_bytes", "measure.pause", "display.telegram.token", "display.telegram.chat_id"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}

	unknown := &Config{Probe: ProbeConfig{Backend: "carrier-pigeon"}}
	ApplyDefaults(unknown)
	if err := Validate(unknown); err == nil || !strings.Contains(err.Error(), "probe.backend") {
		t.Fatalf("expected backend error, got %v", err)
	}

	for _, tt := range []struct {
		field string
		set   func(*Config)
	}{
		{"gesture.tick", func(c *Config) { c.Gesture.Tick = "0s" }},
		{"gesture.refresh", func(c *Config) { c.Gesture.Refresh = "-1s" }},
		{"measure.pause", func(c *Config) { c.Measure.Pause = "-5s" }},
		{"measure.pause", func(c *Config) { c.Measure.Pause = "0" }},
	} {
		c := &Config{}
		ApplyDefaults(c)
		tt.set(c)
		if err := Validate(c); err == nil || !strings.Contains(err.Error(), tt.field) {
			t.Fatalf("%s: expected rejection, got %v", tt.field, err)
		}
	}

	exposed := &Config{}
	ApplyDefaults(exposed)
	exposed.Display.Web = WebDisplayConfig{Enabled: true, Addr: "0.0.0.0:8080", Pprof: true}
	if err := Validate(exposed); err == nil || !strings.Contains(err.Error(), "pprof_token") {
		t.Fatalf("expected pprof token error, got %v", err)
	}
	exposed.Display.Web.PprofToken = "t"
	if err := Validate(exposed); err != nil {
		t.Fatalf("token should satisfy pprof check: %v", err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", time.Second)
	if err != nil || d != time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-1s", time.Second); err == nil {
		t.Fatal("expected negative duration error")
	}
	d, err = ParseDurationOrDefault("x", "0s", time.Second)
	if err != nil || d != 0 {
		t.Fatalf("explicit zero = %v, %v; want 0", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{}
	ApplyDefaults(a)
	b := *a
	b.Logging.Level = "debug"
	b.Display.Telegram.Token = "secret"

	sections, attrs := SummarizeConfigChange(a, &b)
	if strings.Join(sections, ",") != "display,logging" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}

	sections, _ = SummarizeConfigChange(a, a)
	if len(sections) != 0 {
		t.Fatalf("expected no changes, got %v", sections)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netpulse.json")
	writeFile(t, path, `{"logging":{"level":"info"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return Validate(cfg) })
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, `{"logging":{"level":"debug"}}`)

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config publish")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("published config should be committed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
