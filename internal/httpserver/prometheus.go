package httpserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/statbar/internal/metrics"
	"github.com/skobkin/statbar/internal/sampler"
)

const metricsNamespace = "statbar"

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total WebSocket messages dropped due to backpressure.",
		}, func() float64 {
			return float64(s.wsDropped.Load())
		}),
	}

	if s.deps.Sampler != nil {
		collectors = append(collectors,
			newSnapshotCollector(s.deps.Sampler, time.Now),
			newSourceCollector(s.deps.Sampler),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "sampler",
				Name:      "subscribers",
				Help:      "Current number of snapshot subscribers.",
			}, func() float64 {
				return float64(s.deps.Sampler.Subscribers())
			}),
		)
	}

	if s.deps.Overlay != nil {
		overlay := s.deps.Overlay
		collectors = append(collectors,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "overlay",
				Name:      "visible",
				Help:      "1 when the overlay window is shown.",
			}, func() float64 {
				if overlay.Status().Visible {
					return 1
				}
				return 0
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "overlay",
				Name:      "passes_total",
				Help:      "Successful placement passes since start.",
			}, func() float64 {
				return float64(overlay.Status().Passes)
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "overlay",
				Name:      "failures_total",
				Help:      "Failed window operations since start.",
			}, func() float64 {
				return float64(overlay.Status().Failures)
			}),
		)
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// snapshotCollector exports the latest snapshot. Kinds absent from the
// snapshot and fields the driver did not report produce no series.
type snapshotCollector struct {
	sampler Sampler
	now     func() time.Time
	metrics []snapshotMetric
	age     *prometheus.Desc
}

type snapshotMetric struct {
	desc    *prometheus.Desc
	kind    metrics.Kind
	extract func(sample metrics.Sample) (float64, bool)
	labels  func(sample metrics.Sample) []string
}

func newSnapshotCollector(src Sampler, now func() time.Time) *snapshotCollector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, subsystem, name), help, labels, nil)
	}
	gpuDesc := func(name, help string) *prometheus.Desc {
		return desc("gpu", name, help, "name")
	}
	gpuLabels := func(sample metrics.Sample) []string {
		return []string{sample.GPU.Name}
	}
	gpuField := func(field func(*metrics.GPU) *float64) func(metrics.Sample) (float64, bool) {
		return func(sample metrics.Sample) (float64, bool) {
			if value := field(sample.GPU); value != nil {
				return *value, true
			}
			return 0, false
		}
	}

	return &snapshotCollector{
		sampler: src,
		now:     now,
		age:     desc("", "sample_age_seconds", "Seconds since the latest sample of each kind was collected.", "kind"),
		metrics: []snapshotMetric{
			{
				desc:    desc("cpu", "usage_percent", "Current CPU utilization percentage."),
				kind:    metrics.KindCPU,
				extract: func(s metrics.Sample) (float64, bool) { return s.CPU.UsagePct, true },
			},
			{
				desc:    desc("cpu", "frequency_ghz", "Average CPU frequency in GHz."),
				kind:    metrics.KindCPU,
				extract: func(s metrics.Sample) (float64, bool) { return s.CPU.FreqGHz, s.CPU.FreqGHz > 0 },
			},
			{
				desc:    desc("ram", "usage_percent", "Current memory utilization percentage."),
				kind:    metrics.KindRAM,
				extract: func(s metrics.Sample) (float64, bool) { return s.RAM.UsagePct, true },
			},
			{
				desc:    desc("ram", "used_gib", "Used memory in GiB."),
				kind:    metrics.KindRAM,
				extract: func(s metrics.Sample) (float64, bool) { return s.RAM.UsedGB, true },
			},
			{
				desc:    desc("ram", "total_gib", "Total memory in GiB."),
				kind:    metrics.KindRAM,
				extract: func(s metrics.Sample) (float64, bool) { return s.RAM.TotalGB, true },
			},
			{
				desc:    gpuDesc("usage_percent", "Current GPU utilization percentage."),
				kind:    metrics.KindGPU,
				extract: gpuField(func(g *metrics.GPU) *float64 { return g.UsagePct }),
				labels:  gpuLabels,
			},
			{
				desc:    gpuDesc("temperature_celsius", "Current GPU temperature in Celsius."),
				kind:    metrics.KindGPU,
				extract: gpuField(func(g *metrics.GPU) *float64 { return g.TempC }),
				labels:  gpuLabels,
			},
			{
				desc:    gpuDesc("clock_mhz", "Current GPU core clock in MHz."),
				kind:    metrics.KindGPU,
				extract: gpuField(func(g *metrics.GPU) *float64 { return g.ClockMHz }),
				labels:  gpuLabels,
			},
			{
				desc:    gpuDesc("power_watts", "Current GPU power draw in Watts."),
				kind:    metrics.KindGPU,
				extract: gpuField(func(g *metrics.GPU) *float64 { return g.PowerW }),
				labels:  gpuLabels,
			},
			{
				desc:    gpuDesc("vram_used_gib", "Used VRAM in GiB."),
				kind:    metrics.KindGPU,
				extract: gpuField(func(g *metrics.GPU) *float64 { return g.VRAMUsedGB }),
				labels:  gpuLabels,
			},
			{
				desc:    gpuDesc("vram_total_gib", "Total VRAM in GiB."),
				kind:    metrics.KindGPU,
				extract: gpuField(func(g *metrics.GPU) *float64 { return g.VRAMTotalGB }),
				labels:  gpuLabels,
			},
			{
				desc:    desc("disk", "read_mb_per_second", "Aggregate disk read throughput in MB/s."),
				kind:    metrics.KindDisk,
				extract: func(s metrics.Sample) (float64, bool) { return s.Disk.ReadMBs, true },
			},
			{
				desc:    desc("disk", "write_mb_per_second", "Aggregate disk write throughput in MB/s."),
				kind:    metrics.KindDisk,
				extract: func(s metrics.Sample) (float64, bool) { return s.Disk.WriteMBs, true },
			},
			{
				desc:    desc("network", "down_mb_per_second", "Aggregate download throughput in MB/s."),
				kind:    metrics.KindNetwork,
				extract: func(s metrics.Sample) (float64, bool) { return s.Network.DownMBs, true },
			},
			{
				desc:    desc("network", "up_mb_per_second", "Aggregate upload throughput in MB/s."),
				kind:    metrics.KindNetwork,
				extract: func(s metrics.Sample) (float64, bool) { return s.Network.UpMBs, true },
			},
		},
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.age
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap, ok := c.sampler.Latest()
	if !ok {
		return
	}
	now := c.now()
	for _, entry := range snap.Entries {
		if entry.Sample.Empty() {
			continue
		}
		age := max(now.Sub(entry.CollectedAt).Seconds(), 0)
		ch <- prometheus.MustNewConstMetric(c.age, prometheus.GaugeValue, age, string(entry.Kind))

		for _, metric := range c.metrics {
			if metric.kind != entry.Kind {
				continue
			}
			value, ok := metric.extract(entry.Sample)
			if !ok {
				continue
			}
			var labels []string
			if metric.labels != nil {
				labels = metric.labels(entry.Sample)
			}
			ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, value, labels...)
		}
	}
}

// sourceCollector exports per-kind sampler health.
type sourceCollector struct {
	sampler  Sampler
	up       *prometheus.Desc
	failures *prometheus.Desc
	total    *prometheus.Desc
	samples  *prometheus.Desc
}

func newSourceCollector(src Sampler) *sourceCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "source", name), help, []string{"kind"}, nil)
	}
	return &sourceCollector{
		sampler:  src,
		up:       desc("up", "1 while the metric source is enabled."),
		failures: desc("consecutive_failures", "Current run of failed reads."),
		total:    desc("failures_total", "Failed reads since start."),
		samples:  desc("samples_total", "Successful reads since start."),
	}
}

func (c *sourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.failures
	ch <- c.total
	ch <- c.samples
}

func (c *sourceCollector) Collect(ch chan<- prometheus.Metric) {
	for _, status := range c.sampler.Status() {
		kind := string(status.Kind)
		up := 0.0
		if status.State == sampler.StateEnabled {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up, kind)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(status.Failures), kind)
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, float64(status.TotalFailures), kind)
		ch <- prometheus.MustNewConstMetric(c.samples, prometheus.CounterValue, float64(status.Samples), kind)
	}
}
