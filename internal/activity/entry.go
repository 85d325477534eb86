package activity

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"netpulse/pkg/probe"
)

// Entry is one formatted transfer record. It is never mutated after NewEntry.
type Entry struct {
	Time       time.Time       `json:"time"`
	Direction  probe.Direction `json:"direction"`
	URL        string          `json:"url"`
	StatusCode int             `json:"status_code"`
	KBps       float64         `json:"kbps"`
	Preview    string          `json:"preview"`
}

// NewEntry builds an entry from a successful transfer observed at now.
func NewEntry(res probe.Result, now time.Time) Entry {
	return Entry{
		Time:       now.Local().Truncate(time.Second),
		Direction:  res.Direction,
		URL:        res.URL,
		StatusCode: res.StatusCode,
		KBps:       res.KBps,
		Preview:    Preview(res.Head, res.Bytes),
	}
}

// Preview renders up to probe.HeadBytes bytes as dash-separated upper-case
// hex pairs ("3C-21-64"). total is the full size of the data; "..." is
// appended when it exceeds what was rendered.
func Preview(b []byte, total int64) string {
	if len(b) > probe.HeadBytes {
		b = b[:probe.HeadBytes]
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 + 3)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte('-')
		}
		sb.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	if total > int64(len(b)) {
		sb.WriteString("...")
	}
	return sb.String()
}

func (e Entry) String() string {
	status := "-"
	if e.StatusCode != 0 {
		status = strconv.Itoa(e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s\nURL: %s\nStatus: %s\nSpeed: %.2f KB/s\nRaw Data: %s",
		e.Time.Format("15:04:05"), e.Direction, e.URL, status, e.KBps, e.Preview)
}

// Format renders entries one after another, newest first as given.
func Format(entries []Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.String()
	}
	return strings.Join(parts, "\n")
}
