// Package metrics exports the result of a run as a Prometheus textfile for
// node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fredrikscode/proxmox-scripts/internal/pipeline"
)

const namespace = "pvetemplates"

// Recorder holds the gauges for one run in its own registry.
type Recorder struct {
	registry *prometheus.Registry

	imageSuccess  *prometheus.GaugeVec
	imageStage    *prometheus.GaugeVec
	imageDuration *prometheus.GaugeVec
	runTimestamp  prometheus.Gauge
	runFailed     prometheus.Gauge
}

// NewRecorder creates a Recorder with all gauges registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		imageSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "image_success",
				Help:      "Whether the last run built the template (1) or not (0)",
			},
			[]string{"image", "vmid"},
		),
		imageStage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "image_stage",
				Help:      "Last stage reached: 0 pending, 1 cleaned, 2 fetched, 3 customized, 4 built",
			},
			[]string{"image"},
		),
		imageDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "image_duration_seconds",
				Help:      "Time spent on the image in the last run",
			},
			[]string{"image"},
		),
		runTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
		runFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_failed_images",
			Help:      "Number of images that failed in the last run",
		}),
	}

	r.registry = prometheus.NewRegistry()
	r.registry.MustRegister(r.imageSuccess, r.imageStage, r.imageDuration, r.runTimestamp, r.runFailed)
	return r
}

// Observe records a finished run.
func (r *Recorder) Observe(s *pipeline.Summary, finished time.Time) {
	for _, o := range s.Outcomes {
		success := 0.0
		if o.Success {
			success = 1
		}
		r.imageSuccess.WithLabelValues(o.Image.Name, o.Image.VMID).Set(success)
		r.imageStage.WithLabelValues(o.Image.Name).Set(float64(o.StageReached))
		r.imageDuration.WithLabelValues(o.Image.Name).Set(o.Duration.Seconds())
	}
	r.runFailed.Set(float64(s.Failed()))
	r.runTimestamp.Set(float64(finished.Unix()))
}

// WriteFile writes the registry to path. The parent directory is created
// when missing.
func (r *Recorder) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
