// Package measure runs the repeating download/upload measurement loop and
// owns the resulting averages and activity log.
package measure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"netpulse/internal/activity"
	"netpulse/internal/eventbus"
	"netpulse/internal/speed"
	logx "netpulse/pkg/logx"
	"netpulse/pkg/probe"
)

// DefaultPause is the wait between cycles.
const DefaultPause = time.Second

var ErrInvalidConfig = errors.New("invalid scheduler config")

// Notifier receives the averages and then the log after every completed
// cycle. display.Display satisfies it; displays drop the view not shown.
type Notifier interface {
	ShowAverages(downloadKBps, uploadKBps float64)
	ShowLog(entries []activity.Entry)
}

type Config struct {
	// Directions measured per cycle, in order. Default: Download, Upload.
	Directions []probe.Direction
	// Pause after each cycle. Zero means DefaultPause.
	Pause time.Duration
}

// Stats is the per-direction view inside a Snapshot.
type Stats struct {
	Average  float64 `json:"average_kbps"`
	Count    int     `json:"count"`
	Failures uint64  `json:"failures"`
}

// Snapshot is an immutable copy of scheduler state.
type Snapshot struct {
	Download  Stats            `json:"download"`
	Upload    Stats            `json:"upload"`
	Log       []activity.Entry `json:"log"`
	Cycles    uint64           `json:"cycles"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (s Snapshot) Stats(dir probe.Direction) Stats {
	if dir == probe.Upload {
		return s.Upload
	}
	return s.Download
}

// Scheduler drives a Prober in sequential cycles. It is the only writer of
// its accumulator and log; readers get copies.
type Scheduler struct {
	prober probe.Prober
	dirs   []probe.Direction
	pause  time.Duration

	notify  Notifier
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
	now     func() time.Time

	cycleMu sync.Mutex // serializes cycles

	mu        sync.RWMutex
	acc       speed.Accumulator
	entries   *activity.Log
	failures  [2]uint64
	cycles    uint64
	updatedAt time.Time

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

type Option func(*Scheduler)

func WithNotifier(n Notifier) Option { return func(s *Scheduler) { s.notify = n } }

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFailureLogLimit bounds how often transfer failures are logged at warn
// level. Failures over the limit are logged at debug.
func WithFailureLogLimit(every time.Duration, burst int) Option {
	return func(s *Scheduler) { s.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

func New(p probe.Prober, cfg Config, opts ...Option) (*Scheduler, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: prober is nil", ErrInvalidConfig)
	}
	if cfg.Pause < 0 {
		return nil, fmt.Errorf("%w: pause must be >= 0", ErrInvalidConfig)
	}
	if cfg.Pause == 0 {
		cfg.Pause = DefaultPause
	}
	dirs := cfg.Directions
	if len(dirs) == 0 {
		dirs = probe.Directions
	}
	seen := map[probe.Direction]bool{}
	for _, d := range dirs {
		if d != probe.Download && d != probe.Upload {
			return nil, fmt.Errorf("%w: unknown direction %d", ErrInvalidConfig, int(d))
		}
		if seen[d] {
			return nil, fmt.Errorf("%w: direction %s listed twice", ErrInvalidConfig, d)
		}
		seen[d] = true
	}

	s := &Scheduler{
		prober:  p,
		dirs:    append([]probe.Direction(nil), dirs...),
		pause:   cfg.Pause,
		log:     logx.Nop(),
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		now:     time.Now,
		entries: activity.NewLog(),
		stopCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Run repeats cycles until Stop is called or ctx is done. Stop is observed
// at cycle boundaries only; an in-flight transfer is never interrupted by it.
// A stopped scheduler does not run again.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("measurement loop started", logx.Duration("pause", s.pause), logx.Int("directions", len(s.dirs)))
	defer func() { s.log.Info("measurement loop stopped", logx.Uint64("cycles", s.Cycles())) }()

	timer := time.NewTimer(s.pause)
	defer timer.Stop()

	for {
		if s.stopped.Load() {
			return nil
		}
		if err := s.RunCycle(ctx); err != nil {
			return err
		}
		if s.stopped.Load() {
			return nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.pause)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-timer.C:
		}
	}
}

// Stop requests the loop to end at the next cycle boundary.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) Stopped() bool { return s.stopped.Load() }

// RunCycle measures every configured direction once, in order, then applies
// the successful samples together and notifies. Failed transfers are counted
// and otherwise skipped. It returns ctx.Err() if ctx ended during the cycle;
// samples gathered before that are still applied.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	results := make([]probe.Result, 0, len(s.dirs))
	var failed []probe.Direction
	for _, dir := range s.dirs {
		if ctx.Err() != nil {
			break
		}
		res, err := s.prober.Measure(ctx, dir)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failed = append(failed, dir)
			s.logFailure(dir, err)
			continue
		}
		results = append(results, res)
	}

	snap := s.apply(results, failed, ctx.Err() == nil)

	for _, res := range results {
		s.publish(eventbus.TypeSample, res.Sample)
	}
	for _, dir := range failed {
		s.publish(eventbus.TypeFailure, dir)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.notify != nil {
		s.notify.ShowAverages(snap.Download.Average, snap.Upload.Average)
		s.notify.ShowLog(snap.Log)
	}
	s.publish(eventbus.TypeCycle, snap)
	s.log.Debug("cycle complete",
		logx.Uint64("cycle", snap.Cycles),
		logx.Float64("download_kbps", snap.Download.Average),
		logx.Float64("upload_kbps", snap.Upload.Average),
		logx.Int("ok", len(results)),
		logx.Int("failed", len(failed)),
	)
	return nil
}

// apply commits a cycle under one lock so readers never see it half done.
func (s *Scheduler) apply(results []probe.Result, failed []probe.Direction, complete bool) Snapshot {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range results {
		s.acc.Record(res.Direction, res.KBps)
		s.entries.Append(activity.NewEntry(res, now))
	}
	for _, dir := range failed {
		s.failures[dir]++
	}
	if complete {
		s.cycles++
	}
	if len(results) > 0 || complete {
		s.updatedAt = now
	}
	return s.snapshotLocked()
}

func (s *Scheduler) logFailure(dir probe.Direction, err error) {
	fields := []logx.Field{logx.String("direction", dir.String()), logx.Err(err)}
	if s.limiter == nil || s.limiter.Allow() {
		s.log.Warn("transfer failed", fields...)
		return
	}
	s.log.Debug("transfer failed", fields...)
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() Snapshot {
	return Snapshot{
		Download: Stats{
			Average:  s.acc.Average(probe.Download),
			Count:    s.acc.Count(probe.Download),
			Failures: s.failures[probe.Download],
		},
		Upload: Stats{
			Average:  s.acc.Average(probe.Upload),
			Count:    s.acc.Count(probe.Upload),
			Failures: s.failures[probe.Upload],
		},
		Log:       s.entries.Snapshot(),
		Cycles:    s.cycles,
		UpdatedAt: s.updatedAt,
	}
}

// Averages returns the current download and upload means.
func (s *Scheduler) Averages() (download, upload float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acc.Average(probe.Download), s.acc.Average(probe.Upload)
}

// LogSnapshot returns a copy of the activity log, newest first.
func (s *Scheduler) LogSnapshot() []activity.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Snapshot()
}

func (s *Scheduler) Cycles() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycles
}

// Directions returns the configured measurement order.
func (s *Scheduler) Directions() []probe.Direction {
	return append([]probe.Direction(nil), s.dirs...)
}
