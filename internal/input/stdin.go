// Package input turns line commands into pointer events.
//
// Commands (one per line, case-insensitive):
//
//	down | d    press
//	up | u      release
//	tap | t     press and release immediately
package input

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"netpulse/internal/gesture"
	logx "netpulse/pkg/logx"
)

// Sink accepts pointer events without blocking. *gesture.Driver satisfies it.
type Sink interface {
	Submit(gesture.Pointer) bool
}

type Lines struct {
	r      io.Reader
	sink   Sink
	source string
	now    func() time.Time
	log    logx.Logger
}

func NewLines(r io.Reader, sink Sink, source string, log logx.Logger) *Lines {
	if source == "" {
		source = "stdin"
	}
	return &Lines{r: r, sink: sink, source: source, now: time.Now, log: log}
}

// Run reads until EOF or ctx is done. A blocked read on r is abandoned, not
// interrupted, when ctx ends.
func (l *Lines) Run(ctx context.Context) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(l.r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil {
				return err
			}
			l.log.Debug("input closed", logx.String("source", l.source))
			return nil
		case line := <-lines:
			l.handle(line)
		}
	}
}

func (l *Lines) handle(line string) {
	cmd := strings.ToLower(strings.TrimSpace(line))
	switch cmd {
	case "":
		return
	case "down", "d":
		l.submit(gesture.Down)
	case "up", "u":
		l.submit(gesture.Up)
	case "tap", "t":
		l.submit(gesture.Down)
		l.submit(gesture.Up)
	default:
		l.log.Warn("unknown input command", logx.String("source", l.source), logx.String("command", cmd))
	}
}

func (l *Lines) submit(a gesture.Action) {
	l.sink.Submit(gesture.Pointer{Action: a, Time: l.now(), Source: l.source})
}
