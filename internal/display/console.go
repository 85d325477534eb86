package display

import (
	"fmt"
	"io"
	"sync"

	"netpulse/internal/activity"
	logx "netpulse/pkg/logx"
)

// Console renders the current view as text on w and mirrors averages into
// the structured log.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	log  logx.Logger
	mode Mode
}

func NewConsole(w io.Writer, log logx.Logger) *Console {
	if w == nil {
		w = io.Discard
	}
	return &Console{w: w, log: log}
}

func (c *Console) SetMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
	c.log.Debug("view mode", logx.String("mode", m.String()))
}

func (c *Console) ShowAverages(down, up float64) {
	c.log.Info("averages",
		logx.Float64("download_kbps", down),
		logx.Float64("upload_kbps", up),
		logx.String("download_level", SpeedLevel(down).String()),
		logx.String("upload_level", SpeedLevel(up).String()),
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeAverages {
		return
	}
	fmt.Fprintf(c.w, "%s\n\n", AveragesText(down, up))
}

func (c *Console) ShowLog(entries []activity.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeLog {
		return
	}
	fmt.Fprintf(c.w, "----- activity (%d) -----\n%s\n\n", len(entries), LogText(entries))
}
