package main

import (
	"github.com/10and01/vmsim/simulator"
	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics mirrors the snapshot of the current run as Prometheus gauges and
// counts events as they are published
type promMetrics struct {
	utilization     prometheus.Gauge
	peakUtilization prometheus.Gauge
	freeFrames      prometheus.Gauge
	largestFreeRun  prometheus.Gauge
	faultRate       prometheus.Gauge
	processes       *prometheus.GaugeVec
	accesses        *prometheus.CounterVec
	admissions      prometheus.Counter
	completions     prometheus.Counter
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	m := &promMetrics{
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vmsim_frame_utilization",
			Help: "Fraction of physical frames currently allocated",
		}),
		peakUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vmsim_frame_utilization_peak",
			Help: "Highest sampled frame utilization of the current run",
		}),
		freeFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vmsim_free_frames",
			Help: "Number of free physical frames",
		}),
		largestFreeRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vmsim_largest_free_run",
			Help: "Longest run of contiguous free frames",
		}),
		faultRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vmsim_fault_rate",
			Help: "Page faults per access over the current run",
		}),
		processes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vmsim_processes",
			Help: "Processes by state",
		}, []string{"state"}),
		accesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vmsim_accesses_total",
			Help: "Memory accesses by result (hit or fault)",
		}, []string{"result"}),
		admissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmsim_admissions_total",
			Help: "Processes granted frames",
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmsim_completions_total",
			Help: "Processes that finished and released their frames",
		}),
	}

	reg.MustRegister(
		m.utilization,
		m.peakUtilization,
		m.freeFrames,
		m.largestFreeRun,
		m.faultRate,
		m.processes,
		m.accesses,
		m.admissions,
		m.completions,
	)
	return m
}

func (m *promMetrics) observe(e simulator.Event) {
	switch ev := e.(type) {
	case *simulator.AccessEvent:
		if ev.Hit() {
			m.accesses.WithLabelValues("hit").Inc()
		} else {
			m.accesses.WithLabelValues("fault").Inc()
		}
	case *simulator.AdmissionEvent:
		m.admissions.Inc()
	case *simulator.CompletionEvent:
		m.completions.Inc()
	}
}

func (m *promMetrics) update(snap simulator.Snapshot) {
	m.utilization.Set(snap.Utilization)
	m.peakUtilization.Set(snap.Statistics.PeakUtilization)
	m.freeFrames.Set(float64(snap.FrameSummary.Free))
	m.largestFreeRun.Set(float64(snap.FrameSummary.LargestFreeRun))
	m.faultRate.Set(snap.Statistics.FaultRate)

	m.processes.WithLabelValues(simulator.ProcessRunning.String()).Set(float64(snap.Statistics.Running))
	m.processes.WithLabelValues(simulator.ProcessWaiting.String()).Set(float64(snap.Statistics.Waiting))
	m.processes.WithLabelValues(simulator.ProcessFinished.String()).Set(float64(snap.Statistics.Finished))
}
