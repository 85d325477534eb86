// Package speed keeps the cumulative per-direction mean of observed speeds.
package speed

import "netpulse/pkg/probe"

type bucket struct {
	sum   float64
	count int
}

// Accumulator holds a running sum/count per direction. Samples never decay.
//
// It is not safe for concurrent use; the owner serializes access.
type Accumulator struct {
	down bucket
	up   bucket
}

func (a *Accumulator) bucket(dir probe.Direction) *bucket {
	switch dir {
	case probe.Download:
		return &a.down
	case probe.Upload:
		return &a.up
	default:
		return nil
	}
}

// Record adds one sample. Unknown directions are ignored.
func (a *Accumulator) Record(dir probe.Direction, kbps float64) {
	b := a.bucket(dir)
	if b == nil {
		return
	}
	b.sum += kbps
	b.count++
}

// Average returns sum/count, or 0 when nothing has been recorded.
func (a *Accumulator) Average(dir probe.Direction) float64 {
	b := a.bucket(dir)
	if b == nil || b.count == 0 {
		return 0
	}
	return b.sum / float64(b.count)
}

func (a *Accumulator) Count(dir probe.Direction) int {
	b := a.bucket(dir)
	if b == nil {
		return 0
	}
	return b.count
}
