package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"netpulse/internal/config"
	"netpulse/internal/display"
	"netpulse/internal/gesture"
	logx "netpulse/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netpulse.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAppMeasuresServesAndStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = io.WriteString(w, "hello netpulse")
	}))
	defer srv.Close()

	path := writeConfig(t, fmt.Sprintf(`{
		"probe": {"download_url": %q, "upload_url": %q, "upload_bytes": 2048},
		"measure": {"pause": "10ms"},
		"gesture": {"tick": "10ms", "refresh": "20ms"},
		"display": {"web": {"enabled": true, "addr": "127.0.0.1:0", "metrics": true}},
		"logging": {"level": "error"}
	}`, srv.URL, srv.URL))

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "two cycles", func() bool { return a.Snapshot().Cycles >= 2 })
	waitFor(t, "web listener", func() bool { return a.web.Addr() != nil })

	snap := a.Snapshot()
	if snap.Download.Count < 2 || snap.Upload.Count < 2 || snap.Download.Average <= 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	base := "http://" + a.web.Addr().String()
	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "netpulse_cycles_total") {
		t.Fatalf("metrics missing cycles:\n%s", body)
	}

	resp, err = http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var h health
	err = json.NewDecoder(resp.Body).Decode(&h)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if h.Cycles < 2 || h.Supervisor.Active == 0 {
		t.Fatalf("unexpected health: %+v", h)
	}

	// Hold past the threshold, then release: the log view stays.
	start := time.Now()
	if !a.Submit(gesture.Pointer{Action: gesture.Down, Time: start}) {
		t.Fatal("Submit down dropped")
	}
	if !a.Submit(gesture.Pointer{Action: gesture.Up, Time: start.Add(gesture.HoldThreshold)}) {
		t.Fatal("Submit up dropped")
	}
	waitFor(t, "log mode", func() bool { return a.ctrl.Mode() == display.ModeLog })

	now := time.Now()
	a.Submit(gesture.Pointer{Action: gesture.Down, Time: now})
	a.Submit(gesture.Pointer{Action: gesture.Up, Time: now.Add(100 * time.Millisecond)})
	waitFor(t, "averages mode", func() bool { return a.ctrl.Mode() == display.ModeAverages })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !a.sched.Stopped() {
		t.Fatal("scheduler not stopped")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown field", `{"probe": {"nope": 1}}`},
		{"bad backend", `{"probe": {"backend": "carrier-pigeon"}}`},
		{"bad pause", `{"measure": {"pause": "soon"}}`},
		{"zero tick", `{"gesture": {"tick": "0s"}}`},
		{"negative refresh", `{"gesture": {"refresh": "-1s"}}`},
		{"negative pause", `{"measure": {"pause": "-5s"}}`},
		{"zero pause", `{"measure": {"pause": "0s"}}`},
		{"telegram without chat", `{"display": {"telegram": {"enabled": true, "token": "x"}}}`},
		{"bad schedule", `{"report": {"enabled": true, "schedule": "every other day"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewApp(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewProberBackends(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	p, err := newProber(cfg, 0)
	if err != nil || p == nil {
		t.Fatalf("http backend: %v", err)
	}

	cfg.Probe.Backend = "speedtest"
	cfg.Probe.Speedtest.ServerID = "1234"
	if p, err = newProber(cfg, time.Second); err != nil || p == nil {
		t.Fatalf("speedtest backend: %v", err)
	}

	cfg.Probe.Backend = "ftp"
	if _, err := newProber(cfg, 0); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestApplyConfigReportsRestartSections(t *testing.T) {
	var buf bytes.Buffer
	logs, log := logx.New(logx.Config{Level: "info", Writer: &buf})
	a := &App{log: log, logs: logs}

	oldCfg := &config.Config{}
	config.ApplyDefaults(oldCfg)
	newCfg := *oldCfg
	newCfg.Measure.Pause = "5s"
	newCfg.Logging.Level = "debug"
	newCfg.Logging.Console = false

	a.applyConfig(oldCfg, &newCfg)

	out := buf.String()
	if !strings.Contains(out, "restart required") || !strings.Contains(out, `"sections":"measure"`) {
		t.Fatalf("missing restart warning:\n%s", out)
	}
	if got := logs.Config().Level; got != "debug" {
		t.Fatalf("logging level = %q, want debug", got)
	}
}
