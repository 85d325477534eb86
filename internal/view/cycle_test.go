package view

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"netpulse/internal/display"
	"netpulse/internal/gesture"
	"netpulse/internal/measure"
	logx "netpulse/pkg/logx"
	"netpulse/pkg/probe"
)

type steadyProber struct{}

func (steadyProber) Measure(_ context.Context, dir probe.Direction) (probe.Result, error) {
	return probe.Result{
		Sample:     probe.Sample{Direction: dir, KBps: 42, Timestamp: time.Now()},
		URL:        "http://test/" + dir.String(),
		StatusCode: 200,
	}, nil
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestLogViewFollowsCyclesAfterHoldEnd(t *testing.T) {
	t.Parallel()
	var out lockedBuffer
	con := display.NewConsole(&out, logx.Nop())
	sched, err := measure.New(steadyProber{}, measure.Config{}, measure.WithNotifier(con))
	if err != nil {
		t.Fatalf("measure.New: %v", err)
	}
	c := NewController(sched, con, WithRefreshInterval(time.Hour))
	ctx := context.Background()

	if err := sched.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	c.HandleGesture(gesture.Event{Kind: gesture.HoldStart})
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "activity (2)") {
		if time.Now().After(deadline) {
			t.Fatalf("hold did not push the log: %q", out.String())
		}
		time.Sleep(time.Millisecond)
	}
	c.HandleGesture(gesture.Event{Kind: gesture.HoldEnd})

	mark := len(out.String())
	if err := sched.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	tail := out.String()[mark:]
	if !strings.Contains(tail, "activity (4)") {
		t.Fatalf("log view not updated after hold end: %q", tail)
	}
	if strings.Contains(tail, "Download Speed") {
		t.Fatalf("averages rendered while the log view is shown: %q", tail)
	}
}
