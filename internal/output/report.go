package output

import (
	"time"

	"github.com/fredrikscode/proxmox-scripts/internal/pipeline"
)

// RunReport is the serializable form of a pipeline.Summary.
type RunReport struct {
	Hostname        string        `yaml:"hostname" json:"hostname"`
	Storage         string        `yaml:"storage" json:"storage"`
	Started         time.Time     `yaml:"started" json:"started"`
	DurationSeconds float64       `yaml:"durationSeconds" json:"durationSeconds"`
	Succeeded       int           `yaml:"succeeded" json:"succeeded"`
	Failed          int           `yaml:"failed" json:"failed"`
	Images          []ImageReport `yaml:"images" json:"images"`
}

// ImageReport is the serializable form of a pipeline.Outcome.
type ImageReport struct {
	Name                 string  `yaml:"name" json:"name"`
	VMID                 string  `yaml:"vmid" json:"vmid"`
	Stage                string  `yaml:"stage" json:"stage"`
	Success              bool    `yaml:"success" json:"success"`
	Cached               bool    `yaml:"cached" json:"cached"`
	CustomizationSkipped bool    `yaml:"customizationSkipped" json:"customizationSkipped"`
	BytesFetched         int64   `yaml:"bytesFetched" json:"bytesFetched"`
	DurationSeconds      float64 `yaml:"durationSeconds" json:"durationSeconds"`
	Error                string  `yaml:"error,omitempty" json:"error,omitempty"`
}

// NewRunReport converts a summary for YAML and JSON output.
func NewRunReport(s *pipeline.Summary) RunReport {
	r := RunReport{
		Hostname:        s.Hostname,
		Storage:         s.Storage,
		Started:         s.Started,
		DurationSeconds: s.Duration.Seconds(),
		Succeeded:       s.Succeeded(),
		Failed:          s.Failed(),
		Images:          make([]ImageReport, 0, len(s.Outcomes)),
	}
	for _, o := range s.Outcomes {
		img := ImageReport{
			Name:                 o.Image.Name,
			VMID:                 o.Image.VMID,
			Stage:                o.StageReached.String(),
			Success:              o.Success,
			Cached:               o.Cached,
			CustomizationSkipped: o.CustomizationSkipped,
			BytesFetched:         o.BytesFetched,
			DurationSeconds:      o.Duration.Seconds(),
		}
		if o.Err != nil {
			img.Error = o.Err.Error()
		}
		r.Images = append(r.Images, img)
	}
	return r
}
