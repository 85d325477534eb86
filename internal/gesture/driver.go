package gesture

import (
	"context"
	"time"

	logx "netpulse/pkg/logx"
)

// DefaultTickInterval is the input polling cadence.
const DefaultTickInterval = 50 * time.Millisecond

type Action int

const (
	Down Action = iota + 1
	Up
)

func (a Action) String() string {
	switch a {
	case Down:
		return "down"
	case Up:
		return "up"
	default:
		return "unknown"
	}
}

// Pointer is a raw input event. A zero Time is stamped on receipt.
type Pointer struct {
	Action Action
	Time   time.Time
	Source string
}

// Handler receives classified gestures on the driver goroutine. It must not block.
type Handler interface {
	HandleGesture(Event)
}

type HandlerFunc func(Event)

func (f HandlerFunc) HandleGesture(e Event) { f(e) }

// Driver feeds pointer input and a periodic tick into a Classifier.
type Driver struct {
	cls     Classifier
	in      chan Pointer
	handler Handler
	tick    time.Duration
	now     func() time.Time
	log     logx.Logger
}

type DriverOption func(*Driver)

func WithTickInterval(d time.Duration) DriverOption {
	return func(dr *Driver) {
		if d > 0 {
			dr.tick = d
		}
	}
}

func WithClock(now func() time.Time) DriverOption {
	return func(dr *Driver) {
		if now != nil {
			dr.now = now
		}
	}
}

func WithLogger(log logx.Logger) DriverOption { return func(dr *Driver) { dr.log = log } }

// WithBuffer sets the pointer queue size (default 64).
func WithBuffer(n int) DriverOption {
	return func(dr *Driver) {
		if n > 0 {
			dr.in = make(chan Pointer, n)
		}
	}
}

func NewDriver(h Handler, opts ...DriverOption) *Driver {
	d := &Driver{
		in:      make(chan Pointer, 64),
		handler: h,
		tick:    DefaultTickInterval,
		now:     time.Now,
		log:     logx.Nop(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Submit queues a pointer event without blocking. It reports false when the
// queue is full and the event was dropped.
func (d *Driver) Submit(p Pointer) bool {
	select {
	case d.in <- p:
		return true
	default:
		d.log.Warn("pointer event dropped", logx.String("action", p.Action.String()), logx.String("source", p.Source))
		return false
	}
}

// Run processes input until ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	t := time.NewTicker(d.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-d.in:
			d.pointer(p)
		case <-t.C:
			if ev, ok := d.cls.Tick(d.now()); ok {
				d.emit(ev)
			}
		}
	}
}

func (d *Driver) pointer(p Pointer) {
	at := p.Time
	if at.IsZero() {
		at = d.now()
	}
	switch p.Action {
	case Down:
		if !d.cls.PointerDown(at) {
			d.log.Debug("pointer down ignored while pressed", logx.String("source", p.Source))
		}
	case Up:
		// Observe the release instant first so a hold is never missed
		// between ticks.
		if ev, ok := d.cls.Tick(at); ok {
			d.emit(ev)
		}
		if ev, ok := d.cls.PointerUp(at); ok {
			d.emit(ev)
		}
	default:
		d.log.Debug("unknown pointer action", logx.Int("action", int(p.Action)))
	}
}

func (d *Driver) emit(ev Event) {
	d.log.Debug("gesture", logx.String("kind", ev.Kind.String()), logx.Duration("held", ev.Held))
	if d.handler != nil {
		d.handler.HandleGesture(ev)
	}
}
