package report

import (
	"fmt"

	"github.com/hpc-data-analysis/hpcstats/pkg/stats/aggregate"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hpcstats"

// textfileMetrics are the gauges exported for every group.
type textfileMetrics struct {
	jobs       *prometheus.GaugeVec
	cpuSeconds *prometheus.GaugeVec
	elapsed    *prometheus.GaugeVec
	efficiency *prometheus.GaugeVec
	windowEnd  prometheus.Gauge
}

func newTextfileMetrics(reg prometheus.Registerer) *textfileMetrics {
	labels := []string{"dimension", "group"}

	m := &textfileMetrics{
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Number of finished jobs in the reporting window.",
		}, append(labels, "outcome")),
		cpuSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_seconds",
			Help:      "Total CPU time used by finished jobs in seconds.",
		}, append(labels, "mode")),
		elapsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "elapsed_seconds",
			Help:      "Total wall time of finished jobs in seconds.",
		}, labels),
		efficiency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "efficiency_percent",
			Help:      "Resource efficiency of finished jobs in percent.",
		}, append(labels, "resource", "method", "jobs")),
		windowEnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_window_end_timestamp_seconds",
			Help:      "End of the reporting window as Unix seconds.",
		}),
	}

	reg.MustRegister(m.jobs, m.cpuSeconds, m.elapsed, m.efficiency, m.windowEnd)

	return m
}

func (m *textfileMetrics) setEfficiencies(dimension, group, jobs string, e aggregate.Efficiencies) {
	for _, v := range []struct {
		resource, method string
		value            *float64
	}{
		{"cpu", "weighted", e.WeightedCPU},
		{"cpu", "mean", e.MeanCPU},
		{"memory", "weighted", e.WeightedMem},
		{"memory", "mean", e.MeanMem},
		{"time", "weighted", e.WeightedTime},
		{"time", "mean", e.MeanTime},
	} {
		if v.value == nil {
			continue
		}

		m.efficiency.WithLabelValues(dimension, group, v.resource, v.method, jobs).Set(*v.value)
	}
}

func (m *textfileMetrics) add(dimension string, stats []*aggregate.Stats) {
	for _, s := range stats {
		m.jobs.WithLabelValues(dimension, s.Key, "success").Set(float64(s.SuccessCount))
		m.jobs.WithLabelValues(dimension, s.Key, "failed").Set(float64(s.FailedCount))
		m.cpuSeconds.WithLabelValues(dimension, s.Key, "user").Set(s.All.UserCPU)
		m.cpuSeconds.WithLabelValues(dimension, s.Key, "system").Set(s.All.SysCPU)
		m.elapsed.WithLabelValues(dimension, s.Key).Set(s.All.Elapsed)

		m.setEfficiencies(dimension, s.Key, "all", s.Summary.All)
		m.setEfficiencies(dimension, s.Key, "success", s.Summary.Success)
	}
}

// WriteTextfile writes the groups of every grouping, and of global when it
// is not nil, to path in the Prometheus text format. until is the end of the
// reporting window.
func WriteTextfile(path string, until int64, groupings []*aggregate.Grouping, global *aggregate.Grouping) error {
	reg := prometheus.NewRegistry()
	m := newTextfileMetrics(reg)

	for _, g := range groupings {
		m.add(g.Label, g.Sorted())
	}

	if global != nil {
		m.add(GlobalLabel, global.Sorted())
	}

	m.windowEnd.Set(float64(until))

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics text file: %w", err)
	}

	return nil
}
