package measure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"netpulse/internal/activity"
	"netpulse/internal/eventbus"
	"netpulse/pkg/probe"
)

// scripted returns queued speeds (or errors) per direction and records the
// call order.
type scripted struct {
	mu    sync.Mutex
	queue map[probe.Direction][]any // float64 or error
	calls []probe.Direction
	block chan struct{}            // when set, Measure waits on it or ctx
}

func newScripted() *scripted { return &scripted{queue: map[probe.Direction][]any{}} }

func (p *scripted) push(dir probe.Direction, v ...any) *scripted {
	p.mu.Lock()
	p.queue[dir] = append(p.queue[dir], v...)
	p.mu.Unlock()
	return p
}

func (p *scripted) Measure(ctx context.Context, dir probe.Direction) (probe.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, dir)
	var next any = 1.0
	if q := p.queue[dir]; len(q) > 0 {
		next, p.queue[dir] = q[0], q[1:]
	}
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return probe.Result{}, &probe.TransferError{Direction: dir, Err: ctx.Err()}
		}
	}
	if err, ok := next.(error); ok {
		return probe.Result{}, &probe.TransferError{Direction: dir, URL: "http://test", Err: err}
	}
	return probe.Result{
		Sample:     probe.Sample{Direction: dir, KBps: next.(float64), Timestamp: time.Now()},
		URL:        "http://test/" + dir.String(),
		StatusCode: 200,
		Bytes:      3,
		Head:       []byte("abc"),
	}, nil
}

func (p *scripted) callOrder() []probe.Direction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]probe.Direction(nil), p.calls...)
}

type notifyRecorder struct {
	mu   sync.Mutex
	down []float64
	up   []float64
	logs []int
}

func (n *notifyRecorder) ShowLog(entries []activity.Entry) {
	n.mu.Lock()
	n.logs = append(n.logs, len(entries))
	n.mu.Unlock()
}

func (n *notifyRecorder) ShowAverages(down, up float64) {
	n.mu.Lock()
	n.down = append(n.down, down)
	n.up = append(n.up, up)
	n.mu.Unlock()
}

func (n *notifyRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.down)
}

func TestThreeDownloadCycles(t *testing.T) {
	t.Parallel()
	p := newScripted().push(probe.Download, 40.0, 60.0, 50.0)
	n := &notifyRecorder{}
	s, err := New(p, Config{Directions: []probe.Direction{probe.Download}}, WithNotifier(n))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
	}

	snap := s.Snapshot()
	if got := fmt.Sprintf("%.2f", snap.Download.Average); got != "50.00" {
		t.Fatalf("Average(Download) = %s, want 50.00", got)
	}
	if snap.Download.Count != 3 || snap.Cycles != 3 {
		t.Fatalf("count/cycles = %d/%d", snap.Download.Count, snap.Cycles)
	}
	if len(snap.Log) != 3 {
		t.Fatalf("log len = %d, want 3", len(snap.Log))
	}
	var gotKBps []float64
	for _, e := range snap.Log {
		if e.Direction != probe.Download {
			t.Fatalf("entry direction = %v", e.Direction)
		}
		gotKBps = append(gotKBps, e.KBps)
	}
	if diff := cmp.Diff([]float64{50, 60, 40}, gotKBps); diff != "" {
		t.Fatalf("log order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{40, 50, 50}, n.down); diff != "" {
		t.Fatalf("notified averages (-want +got):\n%s", diff)
	}
}

func TestEveryCycleNotifiesAveragesAndLog(t *testing.T) {
	t.Parallel()
	p := newScripted().push(probe.Upload, errors.New("503"))
	n := &notifyRecorder{}
	s, err := New(p, Config{}, WithNotifier(n))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.down) != 3 {
		t.Fatalf("ShowAverages calls = %d, want 3", len(n.down))
	}
	// First cycle loses its upload, so the log grows 1, 3, 5.
	if diff := cmp.Diff([]int{1, 3, 5}, n.logs); diff != "" {
		t.Fatalf("ShowLog sizes (-want +got):\n%s", diff)
	}
}

func TestDownloadPrecedesUpload(t *testing.T) {
	t.Parallel()
	p := newScripted()
	s, err := New(p, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
	}
	want := []probe.Direction{probe.Download, probe.Upload, probe.Download, probe.Upload}
	if diff := cmp.Diff(want, p.callOrder()); diff != "" {
		t.Fatalf("call order (-want +got):\n%s", diff)
	}
	log := s.LogSnapshot()
	if len(log) != 4 || log[0].Direction != probe.Upload || log[1].Direction != probe.Download {
		t.Fatalf("log = %+v", log)
	}
}

func TestFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	p := newScripted().
		push(probe.Download, 100.0, errors.New("boom"), context.DeadlineExceeded).
		push(probe.Upload, 10.0, errors.New("503"), 30.0)
	bus := eventbus.New()
	failures, unsub := bus.Subscribe(8, eventbus.TypeFailure)
	defer unsub()

	s, err := New(p, Config{}, WithBus(bus))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	before := s.Snapshot()

	// Both fail.
	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	after := s.Snapshot()
	if after.Download.Count != before.Download.Count || after.Upload.Count != before.Upload.Count {
		t.Fatalf("counts changed: %+v -> %+v", before, after)
	}
	if len(after.Log) != len(before.Log) {
		t.Fatalf("log len changed: %d -> %d", len(before.Log), len(after.Log))
	}
	if after.Download.Average != 100 || after.Upload.Average != 10 {
		t.Fatalf("averages changed: %+v", after)
	}
	if after.Download.Failures != 1 || after.Upload.Failures != 1 {
		t.Fatalf("failures = %d/%d", after.Download.Failures, after.Upload.Failures)
	}

	// Download fails (timeout), upload succeeds.
	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	last := s.Snapshot()
	if last.Download.Count != 1 || last.Upload.Count != 2 || last.Upload.Average != 20 {
		t.Fatalf("partial cycle = %+v", last)
	}
	if len(last.Log) != 3 || last.Log[0].Direction != probe.Upload {
		t.Fatalf("log = %+v", last.Log)
	}
	if last.Cycles != 3 {
		t.Fatalf("cycles = %d", last.Cycles)
	}

	n := 0
	for len(failures) > 0 {
		<-failures
		n++
	}
	if n != 3 {
		t.Fatalf("published %d failures, want 3", n)
	}
}

func TestLogIsBoundedAcrossCycles(t *testing.T) {
	t.Parallel()
	p := newScripted()
	s, err := New(p, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 8; i++ {
		if err := s.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		if l := len(s.LogSnapshot()); l > activity.Capacity {
			t.Fatalf("log len = %d", l)
		}
	}
	snap := s.Snapshot()
	if len(snap.Log) != activity.Capacity || snap.Download.Count != 8 {
		t.Fatalf("snapshot = %d entries, %d downloads", len(snap.Log), snap.Download.Count)
	}
}

func TestRunStopsAtCycleBoundary(t *testing.T) {
	t.Parallel()
	p := newScripted()
	n := &notifyRecorder{}
	s, err := New(p, Config{Pause: 5 * time.Millisecond}, WithNotifier(n))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for n.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("loop did not cycle")
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil after Stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	// Every completed cycle measured both directions.
	calls := p.callOrder()
	if len(calls)%2 != 0 {
		t.Fatalf("partial cycle after stop: %v", calls)
	}
	if !s.Stopped() {
		t.Fatal("Stopped() = false")
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run after Stop = %v", err)
	}
	if len(p.callOrder()) != len(calls) {
		t.Fatal("stopped scheduler measured again")
	}
}

func TestStopDoesNotInterruptTransfer(t *testing.T) {
	t.Parallel()
	p := newScripted()
	p.block = make(chan struct{})
	s, err := New(p, Config{Directions: []probe.Direction{probe.Download}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	s.Stop()
	select {
	case <-done:
		t.Fatal("Stop preempted an in-flight transfer")
	case <-time.After(50 * time.Millisecond):
	}
	close(p.block)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if s.Snapshot().Download.Count != 1 {
		t.Fatal("in-flight sample should be applied")
	}
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	t.Parallel()
	p := newScripted()
	p.block = make(chan struct{})
	n := &notifyRecorder{}
	s, err := New(p, Config{}, WithNotifier(n))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	snap := s.Snapshot()
	if snap.Download.Failures != 0 || snap.Cycles != 0 || n.count() != 0 {
		t.Fatalf("cancelled cycle should not count: %+v", snap)
	}
}

func TestSnapshotsAreConsistentUnderLoad(t *testing.T) {
	t.Parallel()
	p := newScripted()
	s, err := New(p, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.RunCycle(ctx)
		}
	}()
	for i := 0; i < 200; i++ {
		snap := s.Snapshot()
		// Each cycle commits one download and one upload together.
		if snap.Download.Count != snap.Upload.Count {
			t.Fatalf("half-applied cycle observed: %+v", snap)
		}
		if want := int(math.Min(float64(snap.Download.Count*2), activity.Capacity)); len(snap.Log) != want {
			t.Fatalf("log len = %d, want %d", len(snap.Log), want)
		}
	}
	wg.Wait()
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	p := newScripted()
	tests := []struct {
		name string
		p    probe.Prober
		cfg  Config
	}{
		{"nil prober", nil, Config{}},
		{"negative pause", p, Config{Pause: -time.Second}},
		{"duplicate", p, Config{Directions: []probe.Direction{probe.Download, probe.Download}}},
		{"unknown", p, Config{Directions: []probe.Direction{probe.Direction(9)}}},
	}
	for _, tt := range tests {
		if _, err := New(tt.p, tt.cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: err = %v", tt.name, err)
		}
	}
	s, err := New(p, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.pause != DefaultPause {
		t.Fatalf("pause = %v", s.pause)
	}
	if diff := cmp.Diff(probe.Directions, s.Directions()); diff != "" {
		t.Fatalf("directions (-want +got):\n%s", diff)
	}
}
