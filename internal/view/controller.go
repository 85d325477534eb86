// Package view turns gestures into display modes: a tap shows the
// averaged-speed view, a hold shows the live log until released.
package view

import (
	"sync"
	"time"

	"netpulse/internal/display"
	"netpulse/internal/eventbus"
	"netpulse/internal/gesture"
	logx "netpulse/pkg/logx"
)

// Source is the read side of the measurement loop.
type Source interface {
	LogSource
	Averages() (download, upload float64)
}

type Controller struct {
	src       Source
	dst       display.Display
	refresher *Refresher
	bus       eventbus.Bus
	log       logx.Logger

	mu   sync.Mutex
	mode display.Mode
}

type Option func(*options)

type options struct {
	interval time.Duration
	spawn    Spawner
	bus      eventbus.Bus
	log      logx.Logger
}

func WithRefreshInterval(d time.Duration) Option { return func(o *options) { o.interval = d } }

func WithSpawner(s Spawner) Option { return func(o *options) { o.spawn = s } }

func WithBus(b eventbus.Bus) Option { return func(o *options) { o.bus = b } }

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

func NewController(src Source, dst display.Display, opts ...Option) *Controller {
	o := options{interval: DefaultRefreshInterval, log: logx.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	return &Controller{
		src:       src,
		dst:       dst,
		refresher: NewRefresher(src, dst, o.interval, o.spawn, o.log),
		bus:       o.bus,
		log:       o.log,
	}
}

// HandleGesture implements gesture.Handler.
func (c *Controller) HandleGesture(ev gesture.Event) {
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeGesture, Time: ev.Time, Data: ev})
	}
	switch ev.Kind {
	case gesture.Tap:
		c.setMode(display.ModeAverages)
		down, up := c.src.Averages()
		c.dst.ShowAverages(down, up)
	case gesture.HoldStart:
		c.setMode(display.ModeLog)
		c.refresher.Start()
	case gesture.HoldEnd:
		c.refresher.Stop()
	}
	c.log.Debug("gesture handled", logx.String("kind", ev.Kind.String()), logx.Duration("held", ev.Held))
}

func (c *Controller) setMode(m display.Mode) {
	c.mu.Lock()
	changed := c.mode != m
	c.mode = m
	c.mu.Unlock()

	if ms, ok := c.dst.(display.ModeSetter); ok {
		ms.SetMode(m)
	}
	if changed {
		c.log.Info("view mode changed", logx.String("mode", m.String()))
		if c.bus != nil {
			c.bus.Publish(eventbus.Event{Type: eventbus.TypeMode, Data: m})
		}
	}
}

func (c *Controller) Mode() display.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Refreshing reports whether the hold-driven log refresh is running.
func (c *Controller) Refreshing() bool { return c.refresher.Running() }

// Close stops any running refresh.
func (c *Controller) Close() { c.refresher.Stop() }
