package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestServiceWriterSinkFields(t *testing.T) {
	var buf bytes.Buffer
	svc, log := New(Config{Level: "debug", Writer: &buf})
	defer svc.Close()

	log.With(String("comp", "measure")).Info("cycle done", Float64("download_kbps", 12.5), Int("entries", 3))

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	if got["message"] != "cycle done" {
		t.Fatalf("message = %v", got["message"])
	}
	if got["comp"] != "measure" {
		t.Fatalf("comp = %v", got["comp"])
	}
	if got["download_kbps"] != 12.5 {
		t.Fatalf("download_kbps = %v", got["download_kbps"])
	}
	if got["entries"] != float64(3) {
		t.Fatalf("entries = %v", got["entries"])
	}
	if c, _ := got["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", got["caller"])
	}
}

func TestServiceApplyChangesLevel(t *testing.T) {
	var buf bytes.Buffer
	svc, log := New(Config{Level: "warn", Writer: &buf})
	defer svc.Close()

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	svc.Apply(Config{Level: "info", Writer: &buf})
	log.Info("kept")
	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 || lines[0]["message"] != "kept" {
		t.Fatalf("unexpected lines after Apply: %v", lines)
	}
}

func TestNopAndZeroLoggerAreSafe(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	zero.Info("nothing")
	Nop().Error("nothing", Err(nil))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]Level{
		"trace":   LevelTrace,
		" DEBUG ": LevelDebug,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
