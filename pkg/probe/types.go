package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Direction is one of the two independent measurement channels.
type Direction int

const (
	Download Direction = iota
	Upload
)

// Directions lists every direction in measurement order.
var Directions = []Direction{Download, Upload}

func (d Direction) String() string {
	switch d {
	case Download:
		return "Download"
	case Upload:
		return "Upload"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// MarshalText renders the lower-case name ("download", "upload").
func (d Direction) MarshalText() ([]byte, error) {
	switch d {
	case Download, Upload:
		return []byte(strings.ToLower(d.String())), nil
	default:
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDirection accepts "download"/"upload" (case-insensitive, also "dl"/"ul").
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "download", "dl", "down":
		return Download, nil
	case "upload", "ul", "up":
		return Upload, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// Sample is a single speed observation.
type Sample struct {
	Direction Direction `json:"direction"`
	KBps      float64   `json:"kbps"`
	Timestamp time.Time `json:"timestamp"`
}

// HeadBytes is how many leading payload bytes a Result keeps for previews.
const HeadBytes = 50

// Result is a successful transfer.
type Result struct {
	Sample

	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Bytes      int64         `json:"bytes"`
	Elapsed    time.Duration `json:"elapsed"`

	// Head holds at most HeadBytes leading bytes of the transferred data.
	// Bytes > len(Head) means the data was longer than the preview.
	Head []byte `json:"-"`
}

// Prober measures one direction. Implementations must be safe to call from
// one goroutine at a time; the measurement loop never overlaps calls.
type Prober interface {
	Measure(ctx context.Context, dir Direction) (Result, error)
}

var (
	// ErrTransferFailed matches every transport error and non-2xx status.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrInvalidConfig is returned by constructors on precondition violations.
	ErrInvalidConfig = errors.New("invalid probe config")
)

// TransferError describes a failed transfer.
//
// errors.Is(err, ErrTransferFailed) is always true; Unwrap exposes the
// underlying transport error (if any), e.g. context.DeadlineExceeded.
type TransferError struct {
	Direction  Direction
	URL        string
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(e.Direction.String()))
	b.WriteString(" ")
	b.WriteString(ErrTransferFailed.Error())
	if e.URL != "" {
		b.WriteString(" (")
		b.WriteString(e.URL)
		b.WriteString(")")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransferError) Is(target error) bool { return target == ErrTransferFailed }

func (e *TransferError) Unwrap() error { return e.Err }

// kbps converts bytes moved over elapsed into KB/s (1 KB = 1024 bytes).
func kbps(bytes int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		// Clock granularity can report 0 for tiny local transfers.
		secs = time.Microsecond.Seconds()
	}
	return (float64(bytes) / 1024) / secs
}

func head(b []byte) []byte {
	n := len(b)
	if n > HeadBytes {
		n = HeadBytes
	}
	return append([]byte(nil), b[:n]...)
}
