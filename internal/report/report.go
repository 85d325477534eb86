// Package report logs a periodic one-line summary of measurement state on a
// cron schedule.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"netpulse/internal/measure"
	logx "netpulse/pkg/logx"
)

// DefaultSchedule is used when the configured schedule is empty.
const DefaultSchedule = "@every 1m"

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts 5/6-field cron specs and descriptors (@every 30s, @hourly).
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultSchedule
	}
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

type SnapshotSource interface {
	Snapshot() measure.Snapshot
}

// Summary is what one report run observed, including the delta since the
// previous run.
type Summary struct {
	measure.Snapshot
	NewCycles   uint64
	NewDownload int
	NewUpload   int
}

// Reporter runs Report on its schedule. Runs never overlap.
type Reporter struct {
	src  SnapshotSource
	spec string
	log  logx.Logger
	loc  *time.Location

	mu   sync.Mutex
	prev measure.Snapshot
	runs uint64
	// OnReport, when set, receives every summary (tests, extra sinks).
	OnReport func(Summary)
}

func New(src SnapshotSource, spec string, log logx.Logger) (*Reporter, error) {
	if src == nil {
		return nil, errors.New("report: snapshot source is nil")
	}
	if _, err := ParseSchedule(spec); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec) == "" {
		spec = DefaultSchedule
	}
	return &Reporter{src: src, spec: spec, log: log, loc: time.Local}, nil
}

// Run starts the cron scheduler and blocks until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(parser), cron.WithLocation(r.loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.spec, func() { r.Report() }); err != nil {
		return fmt.Errorf("schedule report: %w", err)
	}
	c.Start()
	r.log.Info("summary report scheduled", logx.String("schedule", r.spec))

	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		r.log.Warn("summary report still running at shutdown")
	}
	return ctx.Err()
}

// Report logs one summary now and returns it.
func (r *Reporter) Report() Summary {
	snap := r.src.Snapshot()

	r.mu.Lock()
	prev := r.prev
	r.prev = snap
	r.runs++
	r.mu.Unlock()

	sum := Summary{
		Snapshot:    snap,
		NewCycles:   snap.Cycles - prev.Cycles,
		NewDownload: snap.Download.Count - prev.Download.Count,
		NewUpload:   snap.Upload.Count - prev.Upload.Count,
	}
	r.log.Info("summary",
		logx.Float64("download_kbps", snap.Download.Average),
		logx.Float64("upload_kbps", snap.Upload.Average),
		logx.Int("download_samples", snap.Download.Count),
		logx.Int("upload_samples", snap.Upload.Count),
		logx.Uint64("download_failures", snap.Download.Failures),
		logx.Uint64("upload_failures", snap.Upload.Failures),
		logx.Uint64("cycles", snap.Cycles),
		logx.Uint64("new_cycles", sum.NewCycles),
		logx.Int("log_entries", len(snap.Log)),
	)
	if r.OnReport != nil {
		r.OnReport(sum)
	}
	return sum
}

func (r *Reporter) Runs() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}
