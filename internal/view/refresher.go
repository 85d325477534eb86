package view

import (
	"context"
	"sync"
	"time"

	"netpulse/internal/activity"
	"netpulse/internal/display"
	logx "netpulse/pkg/logx"
)

// DefaultRefreshInterval is the log re-push cadence while a hold is active.
const DefaultRefreshInterval = time.Second

// LogSource provides activity log copies.
type LogSource interface {
	LogSnapshot() []activity.Entry
}

// Spawner runs a named background function. *supervisor.Supervisor
// satisfies it.
type Spawner interface {
	Go0(name string, fn func(ctx context.Context))
}

type goSpawner struct{}

func (goSpawner) Go0(_ string, fn func(ctx context.Context)) { go fn(context.Background()) }

// Refresher pushes the log to a display immediately and then every interval
// until stopped. After Stop returns no further push happens.
type Refresher struct {
	src      LogSource
	dst      display.Display
	interval time.Duration
	spawn    Spawner
	log      logx.Logger

	mu     sync.Mutex
	gen    uint64
	stopCh chan struct{}
	pushes uint64
}

func NewRefresher(src LogSource, dst display.Display, interval time.Duration, spawn Spawner, log logx.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if spawn == nil {
		spawn = goSpawner{}
	}
	return &Refresher{src: src, dst: dst, interval: interval, spawn: spawn, log: log}
}

// Start begins a refresh task. It is a no-op while one is running.
func (r *Refresher) Start() {
	r.mu.Lock()
	if r.stopCh != nil {
		r.mu.Unlock()
		return
	}
	r.gen++
	gen := r.gen
	stop := make(chan struct{})
	r.stopCh = stop
	r.mu.Unlock()

	r.spawn.Go0("view.refresh", func(ctx context.Context) {
		r.loop(ctx, gen, stop)
	})
}

// Stop cancels the running task, if any.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh == nil {
		return
	}
	r.gen++
	close(r.stopCh)
	r.stopCh = nil
}

// Running reports whether a refresh task is active.
func (r *Refresher) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopCh != nil
}

// Pushes counts log pushes made so far.
func (r *Refresher) Pushes() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushes
}

func (r *Refresher) loop(ctx context.Context, gen uint64, stop <-chan struct{}) {
	if !r.push(gen) {
		return
	}
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-t.C:
			if !r.push(gen) {
				return
			}
		}
	}
}

// push runs under mu so Stop cannot return while a push is in progress.
func (r *Refresher) push(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return false
	}
	entries := r.src.LogSnapshot()
	r.dst.ShowLog(entries)
	r.pushes++
	r.log.Trace("log pushed", logx.Int("entries", len(entries)))
	return true
}
