// Package gesture classifies pointer presses into taps and holds.
//
// A Classifier is a pure state machine driven by timestamps; Driver runs one
// against live pointer input with a periodic tick.
package gesture

import (
	"fmt"
	"time"
)

// HoldThreshold separates a tap from a hold. Exact, not debounced.
const HoldThreshold = 3 * time.Second

type Kind int

const (
	Tap Kind = iota + 1
	HoldStart
	HoldEnd
)

func (k Kind) String() string {
	switch k {
	case Tap:
		return "tap"
	case HoldStart:
		return "hold_start"
	case HoldEnd:
		return "hold_end"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is an emitted gesture. Held is the press duration at emission time.
type Event struct {
	Kind Kind          `json:"kind"`
	Time time.Time     `json:"time"`
	Held time.Duration `json:"held"`
}

type Phase int

const (
	Idle Phase = iota
	Pressed
)

func (p Phase) String() string {
	if p == Pressed {
		return "pressed"
	}
	return "idle"
}

// Classifier is the Idle/Pressed machine. The zero value is Idle and ready.
//
// Not safe for concurrent use.
type Classifier struct {
	phase      Phase
	pressStart time.Time
	holding    bool
}

func (c *Classifier) Phase() Phase { return c.phase }

// Holding reports whether HoldStart was emitted for the current press.
func (c *Classifier) Holding() bool { return c.holding }

// PointerDown starts a press. It returns false (and changes nothing) when a
// press is already in progress.
func (c *Classifier) PointerDown(t time.Time) bool {
	if c.phase == Pressed {
		return false
	}
	c.phase = Pressed
	c.pressStart = t
	c.holding = false
	return true
}

// Tick observes elapsed time. HoldStart is emitted at most once per press.
func (c *Classifier) Tick(t time.Time) (Event, bool) {
	if c.phase != Pressed || c.holding {
		return Event{}, false
	}
	held := t.Sub(c.pressStart)
	if held < HoldThreshold {
		return Event{}, false
	}
	c.holding = true
	return Event{Kind: HoldStart, Time: t, Held: held}, true
}

// PointerUp ends a press. A press that reached HoldStart ends with HoldEnd;
// a release before HoldThreshold is a Tap. A release at or past the
// threshold that no Tick observed emits nothing.
func (c *Classifier) PointerUp(t time.Time) (Event, bool) {
	if c.phase != Pressed {
		return Event{}, false
	}
	held := t.Sub(c.pressStart)
	wasHolding := c.holding
	c.phase = Idle
	c.holding = false
	c.pressStart = time.Time{}

	switch {
	case wasHolding:
		return Event{Kind: HoldEnd, Time: t, Held: held}, true
	case held < HoldThreshold:
		return Event{Kind: Tap, Time: t, Held: held}, true
	default:
		return Event{}, false
	}
}
