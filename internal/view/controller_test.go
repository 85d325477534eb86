package view

import (
	"sync"
	"testing"
	"time"

	"netpulse/internal/activity"
	"netpulse/internal/display"
	"netpulse/internal/eventbus"
	"netpulse/internal/gesture"
	logx "netpulse/pkg/logx"
	"netpulse/pkg/probe"
)

type fakeSource struct {
	mu      sync.Mutex
	down    float64
	up      float64
	entries []activity.Entry
}

func (s *fakeSource) Averages() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down, s.up
}

func (s *fakeSource) LogSnapshot() []activity.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]activity.Entry(nil), s.entries...)
}

type fakeDisplay struct {
	mu       sync.Mutex
	averages [][2]float64
	logs     int
	modes    []display.Mode
	pushed   chan struct{}
}

func newFakeDisplay() *fakeDisplay { return &fakeDisplay{pushed: make(chan struct{}, 64)} }

func (d *fakeDisplay) ShowAverages(down, up float64) {
	d.mu.Lock()
	d.averages = append(d.averages, [2]float64{down, up})
	d.mu.Unlock()
}

func (d *fakeDisplay) ShowLog([]activity.Entry) {
	d.mu.Lock()
	d.logs++
	d.mu.Unlock()
	select {
	case d.pushed <- struct{}{}:
	default:
	}
}

func (d *fakeDisplay) SetMode(m display.Mode) {
	d.mu.Lock()
	d.modes = append(d.modes, m)
	d.mu.Unlock()
}

func (d *fakeDisplay) logCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logs
}

func waitPush(t *testing.T, d *fakeDisplay) {
	t.Helper()
	select {
	case <-d.pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for log push")
	}
}

func TestTapShowsAverages(t *testing.T) {
	t.Parallel()
	src := &fakeSource{down: 50, up: 12.5}
	dst := newFakeDisplay()
	c := NewController(src, dst)

	c.HandleGesture(gesture.Event{Kind: gesture.Tap})
	if len(dst.averages) != 1 || dst.averages[0] != [2]float64{50, 12.5} {
		t.Fatalf("averages = %v", dst.averages)
	}
	if c.Mode() != display.ModeAverages || len(dst.modes) != 1 || dst.modes[0] != display.ModeAverages {
		t.Fatalf("mode = %v, modes = %v", c.Mode(), dst.modes)
	}
	if c.Refreshing() {
		t.Fatal("tap must not start a refresh")
	}
}

func TestHoldRefreshesUntilRelease(t *testing.T) {
	t.Parallel()
	src := &fakeSource{entries: []activity.Entry{{Direction: probe.Download}}}
	dst := newFakeDisplay()
	bus := eventbus.New()
	modes, unsub := bus.Subscribe(4, eventbus.TypeMode)
	defer unsub()
	c := NewController(src, dst, WithRefreshInterval(10*time.Millisecond), WithBus(bus))

	c.HandleGesture(gesture.Event{Kind: gesture.HoldStart})
	if c.Mode() != display.ModeLog {
		t.Fatalf("mode = %v", c.Mode())
	}
	// Immediate push, then periodic.
	waitPush(t, dst)
	waitPush(t, dst)
	waitPush(t, dst)

	// A second HoldStart does not start a second task.
	c.HandleGesture(gesture.Event{Kind: gesture.HoldStart})

	c.HandleGesture(gesture.Event{Kind: gesture.HoldEnd})
	if c.Refreshing() {
		t.Fatal("refresh still running after hold end")
	}
	n := dst.logCount()
	time.Sleep(60 * time.Millisecond)
	if got := dst.logCount(); got != n {
		t.Fatalf("log pushed after cancellation: %d -> %d", n, got)
	}
	if c.Mode() != display.ModeLog {
		t.Fatal("hold end keeps the log view")
	}
	select {
	case e := <-modes:
		if e.Data != display.ModeLog {
			t.Fatalf("mode event = %+v", e)
		}
	default:
		t.Fatal("no mode event published")
	}
}

func TestRefresherStopIsIdempotent(t *testing.T) {
	t.Parallel()
	dst := newFakeDisplay()
	r := NewRefresher(&fakeSource{}, dst, time.Hour, nil, logx.Nop())
	r.Stop()
	r.Start()
	waitPush(t, dst)
	r.Stop()
	r.Stop()
	if r.Running() || r.Pushes() != 1 {
		t.Fatalf("running = %v, pushes = %d", r.Running(), r.Pushes())
	}

	// Restartable for the next hold.
	r.Start()
	waitPush(t, dst)
	r.Stop()
	if r.Pushes() != 2 {
		t.Fatalf("pushes = %d", r.Pushes())
	}
}
