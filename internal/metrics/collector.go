// Package metrics exports measurement state in Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netpulse/internal/eventbus"
	"netpulse/internal/gesture"
	"netpulse/internal/measure"
	"netpulse/pkg/probe"
)

const namespace = "netpulse"

// SnapshotSource is read on every scrape.
type SnapshotSource interface {
	Snapshot() measure.Snapshot
}

// Collector reports averages, counts and failures from a SnapshotSource at
// scrape time, plus a histogram fed from sample events.
type Collector struct {
	src SnapshotSource

	average  *prometheus.Desc
	samples  *prometheus.Desc
	failures *prometheus.Desc
	cycles   *prometheus.Desc
	entries  *prometheus.Desc

	speed    *prometheus.HistogramVec
	gestures *prometheus.CounterVec
}

func NewCollector(src SnapshotSource) *Collector {
	return &Collector{
		src: src,
		average: prometheus.NewDesc(namespace+"_average_kbps",
			"Cumulative mean speed since start.", []string{"direction"}, nil),
		samples: prometheus.NewDesc(namespace+"_samples_total",
			"Successful transfers recorded.", []string{"direction"}, nil),
		failures: prometheus.NewDesc(namespace+"_transfer_failures_total",
			"Failed transfers skipped.", []string{"direction"}, nil),
		cycles: prometheus.NewDesc(namespace+"_cycles_total",
			"Completed measurement cycles.", nil, nil),
		entries: prometheus.NewDesc(namespace+"_activity_log_entries",
			"Entries currently held in the activity log.", nil, nil),
		speed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_kbps",
			Help:      "Distribution of individual transfer speeds.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"direction"}),
		gestures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gestures_total",
			Help:      "Classified pointer gestures.",
		}, []string{"kind"}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.average
	ch <- c.samples
	ch <- c.failures
	ch <- c.cycles
	ch <- c.entries
	c.speed.Describe(ch)
	c.gestures.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src != nil {
		snap := c.src.Snapshot()
		for _, dir := range probe.Directions {
			st := snap.Stats(dir)
			label := dirLabel(dir)
			ch <- prometheus.MustNewConstMetric(c.average, prometheus.GaugeValue, st.Average, label)
			ch <- prometheus.MustNewConstMetric(c.samples, prometheus.CounterValue, float64(st.Count), label)
			ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(st.Failures), label)
		}
		ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(snap.Cycles))
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(len(snap.Log)))
	}
	c.speed.Collect(ch)
	c.gestures.Collect(ch)
}

// ObserveSample adds one transfer speed to the histogram.
func (c *Collector) ObserveSample(s probe.Sample) {
	c.speed.WithLabelValues(dirLabel(s.Direction)).Observe(s.KBps)
}

func (c *Collector) ObserveGesture(kind string) {
	c.gestures.WithLabelValues(kind).Inc()
}

// Consume feeds sample and gesture events from the bus until ctx is done.
func (c *Collector) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(64, eventbus.TypeSample, eventbus.TypeGesture)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			switch d := e.Data.(type) {
			case probe.Sample:
				c.ObserveSample(d)
			case gesture.Event:
				c.ObserveGesture(d.Kind.String())
			}
		}
	}
}

func dirLabel(d probe.Direction) string {
	b, err := d.MarshalText()
	if err != nil {
		return "unknown"
	}
	return string(b)
}

// NewRegistry returns a registry holding c plus the Go and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
