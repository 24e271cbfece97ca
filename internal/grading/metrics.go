package grading

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline stages reported in the stage duration histogram.
const (
	stageDownload   = "download"
	stageExtract    = "extract"
	stageTranscribe = "transcribe"
	stageScore      = "score"
	stageSave       = "save"
)

// Metrics holds the grading collectors. A nil *Metrics records nothing.
type Metrics struct {
	submissions *prometheus.CounterVec
	stages      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scangrader_submissions_total",
				Help: "Submissions processed by grading runs, by outcome",
			},
			[]string{"outcome"},
		),
		stages: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scangrader_stage_duration_seconds",
				Help:    "Duration of grading pipeline stages",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
	}
	reg.MustRegister(m.submissions, m.stages)
	return m
}

func (m *Metrics) outcome(o string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(o).Inc()
}

func (m *Metrics) since(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
