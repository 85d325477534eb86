// Package display holds the output side of netpulse: the Display boundary
// the core pushes to, and its console, Telegram and web implementations.
package display

import (
	"fmt"
	"strings"

	"netpulse/internal/activity"
)

// Display consumes averaged speeds and log snapshots. Implementations must
// return quickly; anything doing I/O queues internally.
type Display interface {
	ShowAverages(downloadKBps, uploadKBps float64)
	ShowLog(entries []activity.Entry)
}

// ModeSetter is implemented by displays that render one view at a time.
type ModeSetter interface {
	SetMode(Mode)
}

// Closer is implemented by displays holding background resources.
type Closer interface {
	Close() error
}

type Mode int

const (
	ModeAverages Mode = iota
	ModeLog
)

func (m Mode) String() string {
	if m == ModeLog {
		return "log"
	}
	return "averages"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "averages":
		*m = ModeAverages
	case "log":
		*m = ModeLog
	default:
		return fmt.Errorf("unknown mode %q", b)
	}
	return nil
}

// Level buckets a speed for coloring.
type Level int

const (
	LevelSlow Level = iota
	LevelModerate
	LevelFast
)

func (l Level) String() string {
	switch l {
	case LevelSlow:
		return "slow"
	case LevelModerate:
		return "moderate"
	default:
		return "fast"
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	for _, v := range []Level{LevelSlow, LevelModerate, LevelFast} {
		if v.String() == string(b) {
			*l = v
			return nil
		}
	}
	return fmt.Errorf("unknown level %q", b)
}

// SpeedLevel: below 10 KB/s is slow, below 30 KB/s moderate.
func SpeedLevel(kbps float64) Level {
	switch {
	case kbps < 10:
		return LevelSlow
	case kbps < 30:
		return LevelModerate
	default:
		return LevelFast
	}
}

// GaugeHeight maps a speed to a bar height in [0.1, 10] (50 KB/s per unit).
func GaugeHeight(kbps float64) float64 {
	h := kbps / 50
	if h < 0.1 {
		return 0.1
	}
	if h > 10 {
		return 10
	}
	return h
}

// AveragesText is the two-line averaged-speed view.
func AveragesText(down, up float64) string {
	return fmt.Sprintf("Download Speed: %.2f KB/s\nUpload Speed: %.2f KB/s", down, up)
}

// LogText is the live log view; an empty log renders a placeholder.
func LogText(entries []activity.Entry) string {
	if len(entries) == 0 {
		return "No transfers yet."
	}
	return activity.Format(entries)
}

// Multi fans every call out to each display in order.
type Multi []Display

func (m Multi) ShowAverages(down, up float64) {
	for _, d := range m {
		d.ShowAverages(down, up)
	}
}

func (m Multi) ShowLog(entries []activity.Entry) {
	for _, d := range m {
		d.ShowLog(entries)
	}
}

func (m Multi) SetMode(mode Mode) {
	for _, d := range m {
		if ms, ok := d.(ModeSetter); ok {
			ms.SetMode(mode)
		}
	}
}

func (m Multi) Close() error {
	var errs []string
	for _, d := range m {
		if c, ok := d.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close displays: %s", strings.Join(errs, "; "))
	}
	return nil
}
